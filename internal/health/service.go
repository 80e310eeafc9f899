package health

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"mapscraper/internal/logger"
	"mapscraper/internal/platform/postgres"
	"mapscraper/internal/platform/redis"
)

// HealthHandler reports liveness of the service and its dependencies.
type HealthHandler struct {
	log       *logger.Logger
	postgres  *postgres.Service
	redis     *redis.Service
	startTime time.Time
	isReady   bool
}

func NewHealthHandler(pg *postgres.Service, rds *redis.Service) *HealthHandler {
	return &HealthHandler{
		log:       logger.New("HealthCheck"),
		postgres:  pg,
		redis:     rds,
		startTime: time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic.
func (h *HealthHandler) SetReady() {
	h.isReady = true
	h.log.LogInfof("application ready after %v", time.Since(h.startTime))
}

type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

// HandleHealth responds with the system's health, including dependencies.
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := make(map[string]ComponentStatus)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allOk := true

	checkComponent := func(name string, checkFunc func(context.Context) error) {
		defer wg.Done()
		status := ComponentStatus{Status: "ok"}
		if err := checkFunc(ctx); err != nil {
			status = ComponentStatus{Status: "error", Error: err.Error()}
		}
		mu.Lock()
		statuses[name] = status
		if status.Status != "ok" {
			allOk = false
		}
		mu.Unlock()
	}

	wg.Add(2)
	go checkComponent("postgres", h.postgres.HealthCheck)
	go checkComponent("redis", h.redis.HealthCheck)
	wg.Wait()

	overall := "ok"
	code := fiber.StatusOK
	if !allOk {
		overall = "degraded"
		code = fiber.StatusServiceUnavailable
		h.log.LogWarnf("health check degraded: %+v", statuses)
	}

	return c.Status(code).JSON(OverallHealth{
		OverallStatus: overall,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Ready:         h.isReady,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	})
}

// HealthLimiter rate-limits the health endpoint so probes cannot hammer
// the dependency checks.
func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
	})
}
