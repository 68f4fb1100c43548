package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/clinicapi"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "backend", cfg.Backend)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   appointment.Repository
		events appointment.EventRecorder
		checks []api.HealthCheck
	)

	switch cfg.Backend {
	case config.BackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancelPg()
		if err != nil {
			logger.Error("postgres connection error", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()
		logger.Info("connected to Postgres")

		pgRepo := appointment.NewPgRepository(pgPool)
		repo, events = pgRepo, pgRepo
		checks = append(checks, api.HealthCheck{Name: "postgres", Pinger: pgPool, Critical: true})

	case config.BackendREST:
		client := clinicapi.NewClient(cfg.ClinicAPIURL,
			clinicapi.WithTimeout(cfg.ClinicAPITimeout),
			clinicapi.WithLogger(logger.With("component", "clinicapi")),
		)
		repo = client
		checks = append(checks, api.HealthCheck{Name: "clinic_api", Pinger: client, Critical: true})
		logger.Info("using upstream clinic API", "url", cfg.ClinicAPIURL)

	case config.BackendMemory:
		mem := appointment.NewMemoryRepository()
		repo, events = mem, mem
		logger.Warn("using in-memory repository, data is lost on restart")
	}

	var locker redisclient.Locker = redisclient.NopLocker{}
	if cfg.LockEnabled {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Error("redis connection error", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		logger.Info("connected to Redis", "addr", cfg.RedisAddr)

		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
		checks = append(checks, api.HealthCheck{Name: "redis", Pinger: redisPinger(rdb)})
	}

	m := metrics.NewSchedulingMetrics(nil)

	opts := []appointment.Option{
		appointment.WithLogger(logger.With("component", "appointment")),
		appointment.WithMetrics(m),
		appointment.WithStrictTransitions(cfg.StrictTransitions),
		appointment.WithValidationConcurrency(cfg.ValidationWorkers),
	}
	if events != nil {
		opts = append(opts, appointment.WithEventRecorder(events))
	}
	svc := appointment.NewService(repo, locker, opts...)

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Logger:       logger,
		Metrics:      m,
		HealthChecks: checks,
		Env:          cfg.Env,
		Version:      cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("api-server stopped")
}

func redisPinger(rdb *redis.Client) api.PingFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
