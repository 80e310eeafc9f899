package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"mapscraper/internal/config"
	"mapscraper/internal/core/job"
	"mapscraper/internal/core/planner"
	"mapscraper/internal/core/result"
	"mapscraper/internal/core/retry"
	"mapscraper/internal/logger"
	pg "mapscraper/internal/platform/postgres"
	rds "mapscraper/internal/platform/redis"
	"mapscraper/internal/server"
	"mapscraper/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[mapscraper] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")
	ctx := context.Background()

	// Postgres is the source of truth for jobs and results.
	pgSvc, err := pg.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer pgSvc.Close()
	if err := pgSvc.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Stores and core services
	jobStore := job.NewPGStore(pgSvc.Pool())
	resultStore := result.NewPGStore(pgSvc.Pool())
	dedup := result.NewService(resultStore, result.Config{
		StorageResolution:   cfg.StorageResolution,
		RadiusMeters:        cfg.DedupRadiusMeters,
		SimilarityThreshold: cfg.SimilarityThreshold,
	})
	policy := retry.NewPolicy(cfg.RetryBase, cfg.RetryMaxDelay)
	scheduler := job.NewScheduler(jobStore, dedup, policy, redisSvc, job.SchedulerConfig{
		PageCap:           cfg.PageCap,
		RefinementStep:    cfg.RefinementStep,
		DefaultMaxRetries: cfg.MaxRetries,
		SeenTTLSeconds:    cfg.SeenCacheTTL,
	})
	plannerSvc := planner.NewService(scheduler, cfg.SearchResolution)

	// In-process workers are optional: scraping runs out of process against
	// the claim API. The pool still owns the stale-job sweep.
	pool := worker.NewPool(scheduler, nil, worker.Config{
		Concurrency:   cfg.WorkerConcurrency,
		BatchSize:     cfg.ClaimBatchSize,
		PollInterval:  cfg.PollInterval,
		StaleAfter:    cfg.StaleAfter,
		SweepInterval: cfg.SweepInterval,
	})
	poolCtx, poolCancel := context.WithCancel(ctx)
	pool.Start(poolCtx)

	app := fiber.New(fiber.Config{
		AppName: "Mapscraper Coordinator",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Scheduler:       scheduler,
		Results:         resultStore,
		Planner:         plannerSvc,
		Postgres:        pgSvc,
		Redis:           redisSvc,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}
	healthHandler := server.RegisterRoutes(app, deps)
	healthHandler.SetReady()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		poolCancel()
		pool.Wait()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
