// Package worker runs the claim loop: a pool of goroutines that pull jobs
// from the scheduler, hand them to a Scraper, and report the outcomes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"mapscraper/internal/core/job"
	"mapscraper/internal/core/result"
	"mapscraper/internal/logger"
)

// Scraper fetches pages and extracts structured POI data. It is an external
// collaborator: this package only defines the boundary it is consumed at.
type Scraper interface {
	// Search explores a SEARCH job's cell and returns the places found,
	// plus whether the provider's page cap truncated the listing.
	Search(ctx context.Context, j *job.Job) ([]result.POI, bool, error)
	// Place fetches full detail for a PLACE job's target.
	Place(ctx context.Context, j *job.Job) (*result.POI, error)
}

// FatalError marks a scrape failure that retrying cannot fix, such as a
// malformed job payload. Classification is the scraper's responsibility.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the pool reports it as a fatal failure.
func Fatal(err error) error { return &FatalError{Err: err} }

// Config tunes the pool.
type Config struct {
	Concurrency   int
	BatchSize     int
	PollInterval  time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// Pool polls the scheduler for work. Each goroutine claims its own batches,
// so adding workers never requires coordination beyond the store's atomic
// claim.
type Pool struct {
	scheduler *job.Scheduler
	scraper   Scraper
	cfg       Config
	log       *logger.Logger
	wg        sync.WaitGroup
}

func NewPool(scheduler *job.Scheduler, scraper Scraper, cfg Config) *Pool {
	return &Pool{
		scheduler: scheduler,
		scraper:   scraper,
		cfg:       cfg,
		log:       logger.New("WorkerPool"),
	}
}

// Start launches the claim loops and the stale-job sweeper. It returns
// immediately; cancel ctx and call Wait to shut down.
func (p *Pool) Start(ctx context.Context) {
	if p.scraper == nil {
		// Workers may live out of process and drive the claim API instead;
		// the stale sweep still has to run somewhere.
		p.log.LogInfo("no scraper configured, running maintenance sweep only")
		p.wg.Add(1)
		go p.runSweeper(ctx)
		return
	}
	host, _ := os.Hostname()
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.runWorker(ctx, workerID)
	}
	p.wg.Add(1)
	go p.runSweeper(ctx)
	p.log.LogInfof("started %d worker(s), poll=%s", p.cfg.Concurrency, p.cfg.PollInterval)
}

// Wait blocks until all loops have exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		jobs, err := p.scheduler.Claim(ctx, workerID, p.cfg.BatchSize)
		if err != nil {
			p.log.LogError("claim failed", err)
			continue
		}
		for _, j := range jobs {
			p.process(ctx, j)
		}
	}
}

func (p *Pool) process(ctx context.Context, j *job.Job) {
	outcome := p.run(ctx, j)
	if err := p.scheduler.Report(ctx, j.ID, outcome); err != nil {
		p.log.LogError(fmt.Sprintf("report for job %s failed", j.ID), err)
	}
}

func (p *Pool) run(ctx context.Context, j *job.Job) job.Outcome {
	switch j.Type {
	case job.TypeSearch:
		pois, truncated, err := p.scraper.Search(ctx, j)
		if err != nil {
			return classify(err)
		}
		return job.Outcome{Kind: job.OutcomeSuccess, Results: pois, Truncated: truncated}
	case job.TypePlace:
		poi, err := p.scraper.Place(ctx, j)
		if err != nil {
			return classify(err)
		}
		out := job.Outcome{Kind: job.OutcomeSuccess}
		if poi != nil {
			out.Results = []result.POI{*poi}
		}
		return out
	default:
		return job.Outcome{Kind: job.OutcomeFatal, Reason: fmt.Sprintf("unknown job type %q", j.Type)}
	}
}

func classify(err error) job.Outcome {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return job.Outcome{Kind: job.OutcomeFatal, Reason: err.Error()}
	}
	return job.Outcome{Kind: job.OutcomeRetryable, Reason: err.Error()}
}

func (p *Pool) runSweeper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.scheduler.ReclaimStale(ctx, p.cfg.StaleAfter); err != nil {
				p.log.LogError("stale sweep failed", err)
			}
		}
	}
}
