package result

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerApp(t *testing.T) (*fiber.App, *MemStore) {
	t.Helper()
	store := NewMemStore()
	h := NewHandler(store)

	app := fiber.New()
	app.Get("/v1/results", h.HandleList)
	app.Get("/v1/results/:id", h.HandleGet)
	app.Get("/v1/jobs/:id/results", h.HandleListForJob)
	return app, store
}

func seedResult(t *testing.T, store *MemStore, id, jobID, city, category string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.Insert(context.Background(), &Result{
		ID:        id,
		JobID:     jobID,
		Name:      "Place " + id,
		City:      city,
		Category:  category,
		Latitude:  40.7,
		Longitude: -74.0,
		ScrapedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func get(t *testing.T, app *fiber.App, path string) (int, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHandleList_Filters(t *testing.T) {
	app, store := newHandlerApp(t)
	seedResult(t, store, "r1", "job-1", "Austin", "cafe")
	seedResult(t, store, "r2", "job-1", "Austin", "bar")
	seedResult(t, store, "r3", "job-2", "Dallas", "cafe")

	code, body := get(t, app, "/v1/results?city=Austin")
	require.Equal(t, fiber.StatusOK, code)
	var results []Result
	require.NoError(t, json.Unmarshal(body, &results))
	assert.Len(t, results, 2)

	code, body = get(t, app, "/v1/results?city=Austin&category=cafe")
	require.Equal(t, fiber.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ID)

	// Empty store paths return an empty array, not null.
	code, body = get(t, app, "/v1/results?city=Nowhere")
	require.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))
}

func TestHandleGet_States(t *testing.T) {
	app, store := newHandlerApp(t)
	seedResult(t, store, "r1", "job-1", "Austin", "cafe")

	code, body := get(t, app, "/v1/results/r1")
	require.Equal(t, fiber.StatusOK, code)
	var r Result
	require.NoError(t, json.Unmarshal(body, &r))
	assert.Equal(t, "Place r1", r.Name)

	code, _ = get(t, app, "/v1/results/missing")
	assert.Equal(t, fiber.StatusNotFound, code)

	// Soft-deleted rows are invisible to the API.
	require.NoError(t, store.SoftDelete(context.Background(), "r1", time.Now().UTC()))
	code, _ = get(t, app, "/v1/results/r1")
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestHandleListForJob(t *testing.T) {
	app, store := newHandlerApp(t)
	seedResult(t, store, "r1", "job-1", "Austin", "cafe")
	seedResult(t, store, "r2", "job-2", "Austin", "cafe")

	code, body := get(t, app, "/v1/jobs/job-1/results")
	require.Equal(t, fiber.StatusOK, code)
	var results []Result
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ID)
}
