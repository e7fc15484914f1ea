package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fathima-sithara/marketchat/internal/config"
	"github.com/fathima-sithara/marketchat/internal/devserver"
	"github.com/fathima-sithara/marketchat/internal/logger"
	"github.com/fathima-sithara/marketchat/internal/metrics"
	"github.com/fathima-sithara/marketchat/internal/models"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("MC_CONFIG"))
	if err != nil {
		panic(err)
	}
	log, err := logger.New(logger.Config{Development: cfg.Development})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	srv := devserver.New(log)
	srv.Seed(models.Conversation{
		ID: "conv-1",
		Listing: models.ListingRef{
			ID:     "listing-1",
			Slug:   "vintage-camera",
			Title:  "Vintage Camera",
			Status: "active",
		},
		Buyer:     models.Participant{ID: "buyer-1", Name: "Ava"},
		Seller:    models.Participant{ID: "seller-1", Name: "Noah"},
		CreatedAt: time.Now().UTC(),
	})

	go func() {
		addr := ":" + cfg.Server.MetricsPort
		log.Info("metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metrics.Handler()); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	go func() {
		addr := ":" + cfg.Server.Port
		log.Info("devserver listening", zap.String("addr", addr))
		if err := srv.Listen(addr); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown requested")
	_ = srv.Shutdown()
	log.Info("devserver stopped")
}
