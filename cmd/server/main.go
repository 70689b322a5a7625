package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/alexitico1989/gruapp-sub003/internal/channel"
	"github.com/alexitico1989/gruapp-sub003/internal/config"
	"github.com/alexitico1989/gruapp-sub003/internal/dispatch"
	"github.com/alexitico1989/gruapp-sub003/internal/gate"
	httpapi "github.com/alexitico1989/gruapp-sub003/internal/http"
	"github.com/alexitico1989/gruapp-sub003/internal/ingest"
	"github.com/alexitico1989/gruapp-sub003/internal/logging"
	"github.com/alexitico1989/gruapp-sub003/internal/payments"
	"github.com/alexitico1989/gruapp-sub003/internal/presence"
	"github.com/alexitico1989/gruapp-sub003/internal/push"
	"github.com/alexitico1989/gruapp-sub003/internal/routing"
	"github.com/alexitico1989/gruapp-sub003/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("dispatch-api", "info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("dispatch-api", cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := applyMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("using postgres store")
	} else {
		store = storage.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	ch := channel.NewChannel(logger)

	registry := presence.NewRegistry(ch)
	if cfg.RedisAddr != "" {
		registry.WithMirror(presence.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey))
		logger.Info("presence mirror enabled", "redis_addr", cfg.RedisAddr)
	}

	var inner routing.Oracle
	if cfg.OSRMEndpoint != "" {
		cache := routing.NewCache(cfg.RouteCacheTTL)
		inner = &routing.Cached{Inner: routing.NewOSRMClient(cfg.OSRMEndpoint), Cache: cache}
	}
	oracle := &routing.Fallback{
		Inner:        inner,
		DetourFactor: cfg.DetourFactor,
		AvgSpeedKmh:  cfg.AvgSpeedKmh,
	}

	engine := &dispatch.Engine{
		Store:    store,
		Notifs:   store,
		Presence: registry,
		Channel:  ch,
		Oracle:   oracle,
		Pricing: routing.Pricing{
			BaseFare:   cfg.BaseFare,
			PerKmRate:  cfg.PerKmRate,
			Commission: cfg.Commission,
		},
		Logger:         logger,
		SearchRadiusKm: cfg.SearchRadiusKm,
		MaxCandidates:  cfg.MaxCandidates,
	}
	if cfg.FCMEndpoint != "" {
		engine.Push = push.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey)
	}

	var provider gate.PaymentProvider
	if cfg.StripeAPIKey != "" {
		provider = payments.NewStripeProvider(cfg.StripeAPIKey, cfg.StripeCurrency)
	}
	g := gate.New(store, provider, ch, logger)

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		logger.Info("location ingest enabled", "topic", cfg.KafkaTopic)
	}

	api := httpapi.NewServer(logger, engine, g, registry, store, ch, producer)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func applyMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	b, err := os.ReadFile(filepath.Join("migrations", "001_create_dispatch.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
