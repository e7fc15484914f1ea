package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketchat_refresh_total",
		Help: "Periodic refresh passes by result.",
	}, []string{"result"})

	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_retry_attempts_total",
		Help: "Attempts made by the retry controller, first tries included.",
	})

	ReconcileTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_reconcile_total",
		Help: "Timeline reconciliation passes.",
	})

	OptimisticReverts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketchat_optimistic_reverts_total",
		Help: "Optimistic messages reverted after exhausted failures.",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
