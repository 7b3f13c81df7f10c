package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wavelinehealth/frontdesk/internal/api/router"
	"github.com/wavelinehealth/frontdesk/internal/audit"
	appconfig "github.com/wavelinehealth/frontdesk/internal/config"
	"github.com/wavelinehealth/frontdesk/internal/conversation"
	"github.com/wavelinehealth/frontdesk/internal/emr/nextgen"
	"github.com/wavelinehealth/frontdesk/internal/engine"
	"github.com/wavelinehealth/frontdesk/internal/observability/metrics"
	"github.com/wavelinehealth/frontdesk/internal/sessionstore"
	"github.com/wavelinehealth/frontdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting frontdesk API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	store := sessionstore.NewRedisStore(redisClient, cfg.SessionTTL, nil)

	gateway, err := nextgen.New(nextgen.Config{
		BaseURL:      cfg.NextGenBaseURL,
		AuthURL:      cfg.NextGenAuthURL,
		ClientID:     cfg.NextGenClientID,
		ClientSecret: cfg.NextGenClientSecret,
		SiteID:       cfg.NextGenSiteID,
		EnterpriseID: cfg.NextGenEnterpriseID,
		PracticeID:   cfg.NextGenPracticeID,
		LocationID:   cfg.NextGenLocationID,
		Timeout:      cfg.NextGenTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to configure EMR client", "error", err)
		os.Exit(1)
	}

	// The audit trail is optional: without a database the service still runs,
	// it just records nothing.
	var recorder *audit.Recorder
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		recorder = audit.NewRecorder(db)
	}

	eng := engine.New(gateway, logger,
		engine.WithIdentityDenyLimit(cfg.IdentityDenyLimit),
		engine.WithSlotPresentLimit(cfg.SlotPresentLimit),
		engine.WithMetrics(metrics.NewEngineMetrics(nil)),
	)

	svc := conversation.NewService(eng, store, recorder, logger)
	conversationHandler := conversation.NewHandler(svc, logger)

	r := router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversationHandler,
		MetricsHandler:      promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
