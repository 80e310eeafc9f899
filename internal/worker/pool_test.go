package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapscraper/internal/core/job"
	"mapscraper/internal/core/result"
	"mapscraper/internal/core/retry"
	"mapscraper/internal/core/tiler"
)

type fakeScraper struct {
	mu        sync.Mutex
	searchFn  func(j *job.Job) ([]result.POI, bool, error)
	placeFn   func(j *job.Job) (*result.POI, error)
	processed []string
}

func (f *fakeScraper) Search(_ context.Context, j *job.Job) ([]result.POI, bool, error) {
	f.mu.Lock()
	f.processed = append(f.processed, j.ID)
	f.mu.Unlock()
	if f.searchFn != nil {
		return f.searchFn(j)
	}
	return nil, false, nil
}

func (f *fakeScraper) Place(_ context.Context, j *job.Job) (*result.POI, error) {
	f.mu.Lock()
	f.processed = append(f.processed, j.ID)
	f.mu.Unlock()
	if f.placeFn != nil {
		return f.placeFn(j)
	}
	return nil, nil
}

func newPoolFixture(t *testing.T, scraper Scraper) (*Pool, *job.Scheduler, *job.MemStore) {
	t.Helper()
	store := job.NewMemStore()
	dedup := result.NewService(result.NewMemStore(), result.Config{
		StorageResolution:   9,
		RadiusMeters:        10,
		SimilarityThreshold: 0.85,
	})
	scheduler := job.NewScheduler(store, dedup, retry.NewPolicy(0, 0), nil, job.SchedulerConfig{PageCap: 100})
	pool := NewPool(scheduler, scraper, Config{
		Concurrency:   2,
		BatchSize:     5,
		PollInterval:  5 * time.Millisecond,
		StaleAfter:    time.Hour,
		SweepInterval: time.Hour,
	})
	return pool, scheduler, store
}

func enqueueSearch(t *testing.T, s *job.Scheduler) *job.Job {
	t.Helper()
	cell, err := tiler.CellOf(40.7128, -74.0060, 9)
	require.NoError(t, err)
	j, err := s.Enqueue(context.Background(), job.CreateParams{
		Type:     job.TypeSearch,
		Cell:     cell,
		Category: "restaurant",
	})
	require.NoError(t, err)
	return j
}

func waitForStatus(t *testing.T, store *job.MemStore, id string, want job.Status) *job.Job {
	t.Helper()
	var got *job.Job
	require.Eventually(t, func() bool {
		j, err := store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

func TestPool_ProcessesSearchJobToCompletion(t *testing.T) {
	scraper := &fakeScraper{
		searchFn: func(_ *job.Job) ([]result.POI, bool, error) {
			return []result.POI{
				{SourceID: "src-1", Name: "Test Diner", Latitude: 40.7128, Longitude: -74.0060},
			}, false, nil
		},
	}
	pool, scheduler, store := newPoolFixture(t, scraper)

	j := enqueueSearch(t, scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	done := waitForStatus(t, store, j.ID, job.StatusCompleted)
	assert.NotEmpty(t, done.WorkerID)
	require.NotNil(t, done.CompletedAt)
}

func TestPool_RetryableErrorRequeues(t *testing.T) {
	scraper := &fakeScraper{
		searchFn: func(_ *job.Job) ([]result.POI, bool, error) {
			return nil, false, errors.New("connection reset")
		},
	}
	pool, scheduler, store := newPoolFixture(t, scraper)

	j := enqueueSearch(t, scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	// Every attempt fails retryably, so the retry budget drains to FAILED.
	final := waitForStatus(t, store, j.ID, job.StatusFailed)
	assert.Equal(t, j.MaxRetries, final.RetryCount)
	assert.Equal(t, "connection reset", final.ErrorSummary)
}

func TestPool_FatalErrorFailsWithoutRetry(t *testing.T) {
	scraper := &fakeScraper{
		searchFn: func(_ *job.Job) ([]result.POI, bool, error) {
			return nil, false, Fatal(errors.New("unparseable payload"))
		},
	}
	pool, scheduler, store := newPoolFixture(t, scraper)

	j := enqueueSearch(t, scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	final := waitForStatus(t, store, j.ID, job.StatusFailed)
	assert.Zero(t, final.RetryCount)

	scraper.mu.Lock()
	attempts := len(scraper.processed)
	scraper.mu.Unlock()
	assert.Equal(t, 1, attempts, "fatal errors must not be retried")
}

func TestPool_PlaceJobDeliversDetail(t *testing.T) {
	rating := 4.8
	scraper := &fakeScraper{
		placeFn: func(j *job.Job) (*result.POI, error) {
			return &result.POI{
				SourceID:  j.Payload["source_id"].(string),
				Name:      "Detailed Diner",
				Latitude:  40.7128,
				Longitude: -74.0060,
				Rating:    &rating,
				Phone:     "+1 212-555-0123",
			}, nil
		},
	}
	pool, scheduler, store := newPoolFixture(t, scraper)

	j, err := scheduler.Enqueue(context.Background(), job.CreateParams{
		Type:    job.TypePlace,
		Payload: map[string]interface{}{"source_id": "src-detail"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	waitForStatus(t, store, j.ID, job.StatusCompleted)
}

func TestClassify(t *testing.T) {
	out := classify(errors.New("timeout"))
	assert.Equal(t, job.OutcomeRetryable, out.Kind)
	assert.Equal(t, "timeout", out.Reason)

	out = classify(Fatal(errors.New("bad payload")))
	assert.Equal(t, job.OutcomeFatal, out.Kind)

	wrapped := Fatal(errors.New("inner"))
	assert.True(t, errors.As(wrapped, new(*FatalError)))
	assert.Equal(t, "inner", wrapped.Error())
}

func TestPool_SweeperOnlyWithoutScraper(t *testing.T) {
	pool, scheduler, store := newPoolFixture(t, nil)
	pool.cfg.SweepInterval = 5 * time.Millisecond
	pool.cfg.StaleAfter = -time.Second

	j := enqueueSearch(t, scheduler)
	claimed, err := scheduler.Claim(context.Background(), "external-worker", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	// The sweeper requeues the stale claim even though no local workers run.
	requeued := waitForStatus(t, store, j.ID, job.StatusPending)
	assert.Empty(t, requeued.WorkerID)
}
