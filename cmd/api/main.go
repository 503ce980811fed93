package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sasha125a/sphere-dev-network/internal/app/migrate"
	httpx "github.com/Sasha125a/sphere-dev-network/internal/http"
	"github.com/Sasha125a/sphere-dev-network/internal/repository"
	"github.com/Sasha125a/sphere-dev-network/internal/repository/memory"
	"github.com/Sasha125a/sphere-dev-network/internal/repository/postgres"
	"github.com/Sasha125a/sphere-dev-network/internal/service/deploy"
	"github.com/Sasha125a/sphere-dev-network/internal/service/ledger"
	"github.com/Sasha125a/sphere-dev-network/internal/service/lifecycle"
	"github.com/Sasha125a/sphere-dev-network/internal/service/logs"
	"github.com/Sasha125a/sphere-dev-network/internal/service/monitor"
	"github.com/Sasha125a/sphere-dev-network/internal/service/project"
	"github.com/Sasha125a/sphere-dev-network/internal/service/registry"
	"github.com/Sasha125a/sphere-dev-network/internal/service/terminal"
	"github.com/Sasha125a/sphere-dev-network/internal/templates"
	"github.com/Sasha125a/sphere-dev-network/internal/workspace"
	"github.com/Sasha125a/sphere-dev-network/internal/ws"
	"github.com/Sasha125a/sphere-dev-network/pkg/config"
	"github.com/Sasha125a/sphere-dev-network/pkg/logger"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := config.LoadServerPool(cfg.ServerPoolFile)
	if err != nil {
		log.Error("failed to load server pool", "error", err)
		os.Exit(1)
	}

	var (
		deployments repository.DeploymentRepository
		logRepo     repository.LogRepository
		dbHealth    func(context.Context) error
	)
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		db, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(db, dsn, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo := postgres.New(db)
		deployments, logRepo, dbHealth = repo, repo, db.Ping
	} else {
		repo := memory.New(cfg.LogHistoryLimit)
		deployments, logRepo = repo, repo
		log.Info("DATABASE_URL not set, keeping deployment history in memory")
	}

	space, err := workspace.New(cfg.ProjectsRoot)
	if err != nil {
		log.Error("failed to prepare projects root", "root", cfg.ProjectsRoot, "error", err)
		os.Exit(1)
	}
	catalog, err := templates.Load()
	if err != nil {
		log.Error("failed to load template catalog", "error", err)
		os.Exit(1)
	}

	var registerer prometheus.Registerer
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		registerer, gatherer = prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}

	logHub := ws.NewHub(cfg.LogBuffer)
	defer logHub.Close()

	projects := project.New(space, catalog, cfg.DomainTLD, log)
	commits := ledger.New(projects, log)
	databases := registry.New(log)
	logSvc := logs.New(logRepo, logHub, log)
	allocator, err := deploy.New(pool, deployments, logSvc, log, deploy.Options{
		StageDelay: cfg.StageDelay,
		Timeout:    cfg.DeployTimeout,
		Registerer: registerer,
	})
	if err != nil {
		log.Error("failed to configure allocator", "error", err)
		os.Exit(1)
	}
	lifecycleSvc := lifecycle.New(projects, commits, databases, allocator, log)
	restored, err := lifecycleSvc.Restore(ctx)
	if err != nil {
		log.Error("failed to restore projects", "error", err)
		os.Exit(1)
	}
	log.Info("projects restored", "count", restored, "root", space.Root())

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Lifecycle: lifecycleSvc,
		Projects:  projects,
		Ledger:    commits,
		Registry:  databases,
		Allocator: allocator,
		Logs:      logSvc,
		Monitor:   monitor.New(projects, allocator),
		Terminal:  terminal.New(projects, commits, allocator),
		Templates: catalog,
	}, httpx.Options{
		Environment: cfg.Environment,
		Limiter:     limiter,
		DBHealth:    dbHealth,
		Registerer:  registerer,
		Gatherer:    gatherer,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "environment", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
