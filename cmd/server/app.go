package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/jimdaga/plan-adjust/internal/adjustments"
	"github.com/jimdaga/plan-adjust/internal/api"
	"github.com/jimdaga/plan-adjust/internal/config"
	"github.com/jimdaga/plan-adjust/internal/database"
	"github.com/jimdaga/plan-adjust/internal/health"
	"github.com/jimdaga/plan-adjust/internal/metrics"
	"github.com/jimdaga/plan-adjust/internal/notifications"
	"github.com/jimdaga/plan-adjust/internal/payloads"
	"github.com/jimdaga/plan-adjust/internal/planstore"
	"github.com/jimdaga/plan-adjust/internal/preferences"
	"github.com/jimdaga/plan-adjust/internal/streams"
	"github.com/jimdaga/plan-adjust/internal/worker"
)

type services struct {
	db         *gorm.DB
	engine     *adjustments.Engine
	sweeper    *adjustments.Sweeper
	prefs      *preferences.Store
	resolver   *preferences.Resolver
	dispatcher *notifications.Dispatcher
}

// app owns the process-wide connections behind services.
type app struct {
	services services
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
	}
}

// bootstrap connects to Postgres and Redis and builds the engine.
func bootstrap(cfg *config.Config, logger *slog.Logger) (*app, error) {
	logger.Info("Starting plan-adjust", "mode", cfg.Mode, "env", cfg.Env)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	db, err := database.Init(cfg.DatabaseURL, database.DefaultPoolOptions)
	if err != nil {
		return nil, err
	}
	a := &app{closers: []func() error{func() error { return database.Close(db) }}}

	if err := database.RunMigrations(db); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.SeedDevData {
		if err := database.SeedDevData(db); err != nil {
			logger.Warn("Failed to seed development data", "error", err)
		}
	}

	// Notification events are optional: rows are the source of truth
	var events notifications.EventPublisher
	if cfg.StreamsEnabled {
		publisher, err := streams.NewPublisher(cfg.RedisURL)
		if err != nil {
			logger.Warn("Streams publisher unavailable, notifications stay local", "error", err)
		} else {
			a.closers = append(a.closers, publisher.Close)
			events = publisher
		}
	}

	// Without precise tasks the periodic sweep still applies due candidates
	var autoApply adjustments.AutoApplyScheduler
	taskClient, err := worker.NewClient(cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("Task client unavailable, relying on sweep only", "error", err)
	} else {
		a.closers = append(a.closers, taskClient.Close)
		autoApply = taskClient
	}

	a.services, err = newServices(cfg, db, logger, events, autoApply)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newServices(cfg *config.Config, db *gorm.DB, logger *slog.Logger, events notifications.EventPublisher, autoApply adjustments.AutoApplyScheduler) (services, error) {
	defaults, err := preferences.LoadDefaults(cfg.PolicyDefaultsPath)
	if err != nil {
		return services{}, err
	}
	registry, err := payloads.NewRegistry(cfg.PayloadSchemaDir)
	if err != nil {
		return services{}, err
	}

	plans := planstore.NewClient(cfg.PlanStoreURL, cfg.PlanStoreSecret, cfg.ApplyTimeout, cfg.PlanStoreStub, logger)
	prefs := preferences.NewStore(db, defaults)
	resolver := preferences.NewResolver(defaults)
	dispatcher := notifications.NewDispatcher(db, events, logger)

	engine := adjustments.NewEngine(db, resolver, prefs, plans, dispatcher, adjustments.Options{
		ApplyTimeout: cfg.ApplyTimeout,
		Validator:    registry,
		Scheduler:    autoApply,
		Logger:       logger,
	})
	sweeper := adjustments.NewSweeper(engine, adjustments.SweeperOptions{
		BatchSize:    cfg.SweepBatchSize,
		RetryBackoff: cfg.ApplyRetryBackoff,
		Concurrency:  cfg.SweepConcurrency,
		PendingTTL:   cfg.PendingTTL,
	})

	return services{
		db:         db,
		engine:     engine,
		sweeper:    sweeper,
		prefs:      prefs,
		resolver:   resolver,
		dispatcher: dispatcher,
	}, nil
}

// runWorker processes sweep and auto-apply tasks until a shutdown signal.
func runWorker(cfg *config.Config, svc services, logger *slog.Logger) error {
	stopScheduler, err := worker.StartScheduler(cfg, logger)
	if err != nil {
		return err
	}
	defer stopScheduler()

	// Run blocks and handles its own signal interception
	return worker.Run(cfg, svc.sweeper, logger)
}

// runServer serves HTTP and consumes submissions. In embedded mode it also
// runs the worker and scheduler in-process.
func runServer(cfg *config.Config, svc services, logger *slog.Logger, embedded bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if embedded {
		stopScheduler, err := worker.StartScheduler(cfg, logger)
		if err != nil {
			return err
		}
		defer stopScheduler()

		stopWorker, err := worker.Start(cfg, svc.sweeper, logger)
		if err != nil {
			return err
		}
		defer stopWorker()
	}

	if cfg.StreamsEnabled {
		hostname, _ := os.Hostname()
		stopConsumer, err := streams.StartSubmissionConsumer(cfg.RedisURL, "engine-"+hostname, svc.engine, logger)
		if err != nil {
			logger.Warn("Submission consumer unavailable, HTTP intake only", "error", err)
		} else {
			defer stopConsumer()
		}
	}

	router, err := newRouter(cfg, svc, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2*cfg.ApplyTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server exited: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, svc services, logger *slog.Logger) (*gin.Engine, error) {
	sqlDB, err := svc.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.CORS(cfg.CORSAllowedOrigins))

	r.GET("/health", gin.WrapF(health.Handler))
	r.GET("/ready", gin.WrapF(health.Readiness(sqlDB)))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.RegisterRoutes(r, api.Deps{
		Engine:        svc.engine,
		Preferences:   svc.prefs,
		Resolver:      svc.resolver,
		Notifications: svc.dispatcher,
		Logger:        logger,
	})
	return r, nil
}
