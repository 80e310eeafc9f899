package planner

import (
	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HandleSeed accepts a coverage plan in the request body and enqueues the
// SEARCH jobs that cover it.
func (h *Handler) HandleSeed(c *fiber.Ctx) error {
	var plan Plan
	if err := c.BodyParser(&plan); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid body"})
	}
	if len(plan.Targets) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "plan has no targets"})
	}
	report, err := h.service.Seed(c.Context(), &plan)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(report)
}
