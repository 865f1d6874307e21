// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/chatwave/games/internal/auth"
	"github.com/chatwave/games/internal/broadcast"
	"github.com/chatwave/games/internal/cache"
	"github.com/chatwave/games/internal/config"
	"github.com/chatwave/games/internal/database"
	"github.com/chatwave/games/internal/deck"
	"github.com/chatwave/games/internal/gamestate"
	"github.com/chatwave/games/internal/handlers"
	"github.com/chatwave/games/internal/ledger"
	"github.com/chatwave/games/internal/lock"
	"github.com/chatwave/games/internal/lowcard"
	"github.com/chatwave/games/internal/metrics"
	"github.com/chatwave/games/internal/middleware"
	"github.com/chatwave/games/internal/recovery"
	"github.com/chatwave/games/internal/router"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var a *auth.Auth
	var err error
	if priv, pub := os.Getenv("JWT_PRIVATE_KEY_PATH"), os.Getenv("JWT_PUBLIC_KEY_PATH"); priv != "" && pub != "" {
		a, err = auth.NewFromPath(priv, pub)
	} else {
		a, err = auth.New()
	}
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize auth keys")
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer db.Close()

	rdb, err := cache.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hook := ledger.StoreMerchantHook{Tags: db}
	led := ledger.New(db, rdb, hook, logger)

	// Refund anything a previous process left in flight before taking traffic.
	sweeper := recovery.New(rdb, led, m, logger)
	if err := sweeper.Run(ctx); err != nil {
		logger.WithError(err).Fatal("restart recovery sweep failed")
	}

	hub := broadcast.NewHub(rdb, logger)
	state := gamestate.New(rdb)

	engine := lowcard.NewEngine(lowcard.Deps{
		Redis:       rdb,
		Locks:       lock.NewManager(rdb),
		Ledger:      led,
		Deck:        deck.New(rdb, nil),
		Store:       db,
		State:       state,
		Broadcaster: hub,
		Hook:        hook,
		Metrics:     m,
		Log:         logger,
	})

	rt := router.New(engine, state, hub, m, logger)
	serializer := router.NewSerializer(rt.Dispatch, m, logger)

	subscriber := router.NewSubscriber(rdb, serializer, logger)
	go func() {
		if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("command subscriber exited")
			stop()
		}
	}()

	poller := lowcard.NewPoller(engine, time.Second, logger)
	go poller.Run(ctx)

	gateway := handlers.NewGateway(a, hub, rdb, logger)

	logged := middleware.LogRequests(logger)
	mux := http.NewServeMux()
	mux.Handle("/healthz", logged(handlers.HealthHandler(db, rdb)))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/ws/", logged(http.HandlerFunc(gateway.Handler)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server exited")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown failed")
	}
	serializer.Wait()
	logger.Info("shutdown complete")
}
