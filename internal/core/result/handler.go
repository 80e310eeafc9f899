package result

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (h *Handler) HandleList(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	results, err := h.store.List(c.Context(), ListFilter{
		Cell:     c.Query("cell"),
		Category: c.Query("category"),
		City:     c.Query("city"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
	if results == nil {
		results = []*Result{}
	}
	return c.JSON(results)
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	r, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "result not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
	return c.JSON(r)
}

// HandleListForJob returns the active results a job produced.
func (h *Handler) HandleListForJob(c *fiber.Ctx) error {
	results, err := h.store.ListForJob(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
	if results == nil {
		results = []*Result{}
	}
	return c.JSON(results)
}
