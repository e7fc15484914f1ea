// Demo runner: opens a conversation session against a marketplace backend
// (the devserver by default) and drives a short buyer-side exchange, logging
// the reconciled timeline as it evolves.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/marketchat/internal/auth"
	"github.com/fathima-sithara/marketchat/internal/cache"
	"github.com/fathima-sithara/marketchat/internal/client"
	"github.com/fathima-sithara/marketchat/internal/config"
	"github.com/fathima-sithara/marketchat/internal/logger"
	"github.com/fathima-sithara/marketchat/internal/retry"
	"github.com/fathima-sithara/marketchat/internal/session"
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

	baseURL := cfg.Backend.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Server.Port
	}
	conversationID := os.Getenv("MC_CONVERSATION_ID")
	if conversationID == "" {
		conversationID = "conv-1"
	}
	authCtx := &auth.Context{
		UserID: envOr("MC_USER_ID", "buyer-1"),
		Token:  os.Getenv("MC_TOKEN"),
	}
	if authCtx.Token == "" {
		// The devserver accepts plain user ids as dev tokens.
		authCtx.Token = authCtx.UserID
	}

	var snaps *cache.Snapshots
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		snaps = cache.New(rc, cfg.Redis.Prefix, cfg.SnapshotTTL)
	} else {
		snaps = cache.New(nil, "", 0)
	}

	backend := client.NewHTTP(client.Config{
		BaseURL:       baseURL,
		Timeout:       cfg.BackendTimeout,
		RatePerSecond: cfg.Backend.RatePerSecond,
		RateBurst:     cfg.Backend.RateBurst,
	}, authCtx, log)

	ctx := context.Background()
	sess, err := session.Open(ctx, conversationID, backend, authCtx, snaps, log, session.Config{
		RefreshInterval: cfg.RefreshInterval,
		Retry:           retry.Options{MaxRetries: cfg.Session.RetryMax, Delay: cfg.RetryDelay},
	})
	if err != nil {
		log.Fatal("open session", zap.Error(err))
	}
	defer sess.Close()

	if err := sess.SendText(ctx, "Hi! Is this still available?"); err != nil {
		log.Warn("send text", zap.Error(err))
	}
	if err := sess.CreateOffer(ctx, envOr("MC_OFFER", "50.00")); err != nil {
		log.Warn("create offer", zap.Error(err))
	}

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			log.Info("bye")
			return
		case <-ticker.C:
			for _, m := range sess.Timeline() {
				log.Info("timeline",
					zap.String("id", m.ID),
					zap.String("kind", string(m.Kind)),
					zap.String("sender", m.SenderID),
					zap.String("content", m.Content),
					zap.Bool("optimistic", m.Optimistic),
				)
			}
			if p := sess.PendingOffer(); p != nil {
				log.Info("pending offer", zap.String("offer_id", p.ID), zap.String("price", p.Price.StringFixed(2)))
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
