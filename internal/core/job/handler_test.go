package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	s, _, _ := newTestScheduler(t)
	h := NewHandler(s)

	app := fiber.New()
	app.Post("/v1/jobs", h.HandleCreate)
	app.Get("/v1/jobs/queue", h.HandleQueueDepth)
	app.Get("/v1/jobs/:id", h.HandleGet)
	app.Delete("/v1/jobs/:id", h.HandleCancel)
	app.Post("/v1/claim", h.HandleClaim)
	app.Post("/v1/jobs/:id/report", h.HandleReport)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

func TestHandler_CreateClaimReportFlow(t *testing.T) {
	app := newTestApp(t)
	cell := testCell(t, 9)

	resp, body := doJSON(t, app, fiber.MethodPost, "/v1/jobs", fiber.Map{
		"type":     "SEARCH",
		"cell":     cell,
		"category": "restaurant",
		"priority": 5,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created Job
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, cell, created.Cell)

	resp, body = doJSON(t, app, fiber.MethodPost, "/v1/claim", fiber.Map{
		"worker_id":  "w1",
		"batch_size": 1,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var claimed []Job
	require.NoError(t, json.Unmarshal(body, &claimed))
	require.Len(t, claimed, 1)
	assert.Equal(t, created.ID, claimed[0].ID)
	assert.Equal(t, StatusProcessing, claimed[0].Status)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/v1/jobs/"+created.ID+"/report", fiber.Map{
		"outcome": "success",
		"results": []fiber.Map{
			{"source_id": "src-1", "name": "Test Diner", "latitude": 40.7128, "longitude": -74.0060},
		},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, fiber.MethodGet, "/v1/jobs/"+created.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var final Job
	require.NoError(t, json.Unmarshal(body, &final))
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestHandler_CreateRejectsInvalidJob(t *testing.T) {
	app := newTestApp(t)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/v1/jobs", fiber.Map{
		"type": "SEARCH",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/v1/jobs", fiber.Map{
		"type": "NONSENSE",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandler_GetUnknownJobIs404(t *testing.T) {
	app := newTestApp(t)
	resp, _ := doJSON(t, app, fiber.MethodGet, "/v1/jobs/does-not-exist", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandler_ReportAgainstTerminalJobIs409(t *testing.T) {
	app := newTestApp(t)
	cell := testCell(t, 9)

	_, body := doJSON(t, app, fiber.MethodPost, "/v1/jobs", fiber.Map{
		"type": "SEARCH", "cell": cell, "category": "bar",
	})
	var created Job
	require.NoError(t, json.Unmarshal(body, &created))

	doJSON(t, app, fiber.MethodPost, "/v1/claim", fiber.Map{"worker_id": "w1", "batch_size": 1})
	resp, _ := doJSON(t, app, fiber.MethodPost, "/v1/jobs/"+created.ID+"/report", fiber.Map{"outcome": "success"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/v1/jobs/"+created.ID+"/report", fiber.Map{
		"outcome": "retryable_failure", "reason": "late report",
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestHandler_ReportUnknownOutcomeIs400(t *testing.T) {
	app := newTestApp(t)
	resp, _ := doJSON(t, app, fiber.MethodPost, "/v1/jobs/some-id/report", fiber.Map{
		"outcome": "shrug",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandler_CancelFlow(t *testing.T) {
	app := newTestApp(t)
	cell := testCell(t, 9)

	_, body := doJSON(t, app, fiber.MethodPost, "/v1/jobs", fiber.Map{
		"type": "SEARCH", "cell": cell, "category": "bar",
	})
	var created Job
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body := doJSON(t, app, fiber.MethodDelete, "/v1/jobs/"+created.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var cancelled Job
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Cancelling a terminal job conflicts.
	resp, _ = doJSON(t, app, fiber.MethodDelete, "/v1/jobs/"+created.ID, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestHandler_QueueDepth(t *testing.T) {
	app := newTestApp(t)
	cell := testCell(t, 9)

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, app, fiber.MethodPost, "/v1/jobs", fiber.Map{
			"type": "SEARCH", "cell": cell, "category": fmt.Sprintf("cat-%d", i),
		})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, body := doJSON(t, app, fiber.MethodGet, "/v1/jobs/queue", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var depth map[Status]int
	require.NoError(t, json.Unmarshal(body, &depth))
	assert.Equal(t, 3, depth[StatusPending])
}

func TestHandler_ClaimValidation(t *testing.T) {
	app := newTestApp(t)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/v1/claim", fiber.Map{"batch_size": 1})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/v1/claim", fiber.Map{"worker_id": "w1"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
