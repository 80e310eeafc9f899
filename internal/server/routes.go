package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"mapscraper/internal/core/job"
	"mapscraper/internal/core/planner"
	"mapscraper/internal/core/result"
	"mapscraper/internal/health"
	"mapscraper/internal/platform/postgres"
	"mapscraper/internal/platform/redis"
)

type Dependencies struct {
	Scheduler *job.Scheduler
	Results   result.Store
	Planner   *planner.Service
	Postgres  *postgres.Service
	Redis     *redis.Service

	// API rate limit, per client IP. Zero disables limiting.
	RateLimitMax    int
	RateLimitWindow time.Duration
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Postgres, d.Redis)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")
	if d.RateLimitMax > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:        d.RateLimitMax,
			Expiration: d.RateLimitWindow,
		}))
	}

	jobHandler := job.NewHandler(d.Scheduler)
	api.Post("/jobs", jobHandler.HandleCreate)
	api.Get("/jobs/queue", jobHandler.HandleQueueDepth)
	api.Get("/jobs/:id", jobHandler.HandleGet)
	api.Delete("/jobs/:id", jobHandler.HandleCancel)
	api.Post("/claim", jobHandler.HandleClaim)
	api.Post("/jobs/:id/report", jobHandler.HandleReport)

	resultHandler := result.NewHandler(d.Results)
	api.Get("/results", resultHandler.HandleList)
	api.Get("/results/:id", resultHandler.HandleGet)
	api.Get("/jobs/:id/results", resultHandler.HandleListForJob)

	plannerHandler := planner.NewHandler(d.Planner)
	api.Post("/coverage", plannerHandler.HandleSeed)

	return healthHandler
}
