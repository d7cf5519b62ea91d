package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rongwang/sitetrack-server/internal/api"
	"github.com/rongwang/sitetrack-server/internal/config"
	"github.com/rongwang/sitetrack-server/internal/queue"
	"github.com/rongwang/sitetrack-server/internal/repository"
	"github.com/rongwang/sitetrack-server/internal/service"
	"github.com/rongwang/sitetrack-server/internal/sheets"
	"github.com/rongwang/sitetrack-server/internal/tracker"
	"github.com/rongwang/sitetrack-server/internal/utils"
)

func main() {
	// A missing .env file is fine; the environment may already be set
	_ = godotenv.Load()

	// Load configuration
	cfg := config.LoadConfig()

	log := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set up database connection
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	deps := service.Dependencies{
		Trackers: tracker.NewRegistry(cfg.Auth.SessionIdleTTL),
		Logger:   log,
	}

	rdb, err := config.SetupRedis(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		deps.Rows = sheets.NewRedisStore(rdb)
		deps.Locker = service.NewRedisLocker(rdb)
		log.Info("redis enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.RabbitMQ.URL != "" {
		publisher := queue.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)
		defer publisher.Close()
		deps.Events = publisher

		if cfg.RabbitMQ.ConsumeAudit {
			go queue.RunAuditConsumer(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)
		}
	}

	deps.Sheets = sheets.NewClient(sheets.ClientConfig{
		APIBase:       cfg.Sheets.APIBase,
		SpreadsheetID: cfg.Sheets.SpreadsheetID,
		SheetName:     cfg.Sheets.SheetName,
		Range:         cfg.Sheets.Range,
		APIKey:        cfg.Sheets.APIKey,
		WebhookURL:    cfg.Sheets.WebhookURL,
		Timeout:       cfg.Sheets.Timeout,
	}, nil, log)

	// Create repository
	repo := repository.NewPostgresRepository(db)

	// Create service
	svc, err := service.NewDefaultService(cfg, repo, deps)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if err := svc.EnsureSeedAdmin(ctx, cfg.Auth.SeedAdminEmail, cfg.Auth.SeedAdminPassword); err != nil {
		return err
	}

	go svc.RunRefresher(ctx, cfg.Sheets.RefreshInterval)
	go deps.Trackers.RunSweeper(ctx, 10*time.Minute)

	// Set up Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.RequestID(), api.RequestLogger(log), api.Recovery(log))

	handler := api.NewHandler(svc, log)
	handler.SetupRoutes(router, api.NewTokenBucket(cfg.RateLimit, rdb, log))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
