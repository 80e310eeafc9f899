package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"mapscraper/internal/core/result"
)

type Handler struct {
	scheduler *Scheduler
}

func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type createJobRequest struct {
	Type        string                 `json:"type"`
	Cell        string                 `json:"cell,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Keyword     string                 `json:"keyword,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Priority    int                    `json:"priority,omitempty"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
	MaxRetries  int                    `json:"max_retries,omitempty"`
}

func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid body"})
	}
	j, err := h.scheduler.Enqueue(c.Context(), CreateParams{
		Type:        Type(req.Type),
		Cell:        req.Cell,
		Category:    req.Category,
		Keyword:     req.Keyword,
		Payload:     req.Payload,
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(j)
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	j, err := h.scheduler.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(j)
}

func (h *Handler) HandleCancel(c *fiber.Ctx) error {
	j, err := h.scheduler.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(j)
}

func (h *Handler) HandleQueueDepth(c *fiber.Ctx) error {
	depth, err := h.scheduler.QueueDepth(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(depth)
}

type claimRequest struct {
	WorkerID  string `json:"worker_id"`
	BatchSize int    `json:"batch_size"`
}

func (h *Handler) HandleClaim(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid body"})
	}
	jobs, err := h.scheduler.Claim(c.Context(), req.WorkerID, req.BatchSize)
	if err != nil {
		return respondError(c, err)
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	return c.JSON(jobs)
}

type reportRequest struct {
	Outcome   string       `json:"outcome"` // success | retryable_failure | fatal_failure
	Reason    string       `json:"reason,omitempty"`
	Results   []result.POI `json:"results,omitempty"`
	Truncated bool         `json:"truncated,omitempty"`
}

func (r reportRequest) toOutcome() (Outcome, error) {
	switch r.Outcome {
	case "success":
		return Outcome{Kind: OutcomeSuccess, Results: r.Results, Truncated: r.Truncated}, nil
	case "retryable_failure":
		return Outcome{Kind: OutcomeRetryable, Reason: r.Reason}, nil
	case "fatal_failure":
		return Outcome{Kind: OutcomeFatal, Reason: r.Reason}, nil
	default:
		return Outcome{}, fmt.Errorf("unknown outcome %q", r.Outcome)
	}
}

func (h *Handler) HandleReport(c *fiber.Ctx) error {
	var req reportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid body"})
	}
	outcome, err := req.toOutcome()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	if err := h.scheduler.Report(c.Context(), c.Params("id"), outcome); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func respondError(c *fiber.Ctx, err error) error {
	var (
		validation *ValidationError
		conflict   *ConflictError
		transition *InvalidTransitionError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "job not found"})
	case errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	case errors.As(err, &conflict):
		return c.Status(fiber.StatusConflict).JSON(errorResponse{Error: err.Error()})
	case errors.As(err, &transition):
		return c.Status(fiber.StatusConflict).JSON(errorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
}
