// Package planner seeds SEARCH jobs from a coverage plan: named regions
// paired with the categories and keywords to scrape in them.
package planner

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mapscraper/internal/core/job"
	"mapscraper/internal/core/tiler"
	"mapscraper/internal/logger"
)

// Target is one region to cover.
type Target struct {
	Name       string       `yaml:"name" json:"name"`
	Region     tiler.Region `yaml:"region" json:"region"`
	Categories []string     `yaml:"categories,omitempty" json:"categories,omitempty"`
	Keywords   []string     `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Priority   int          `yaml:"priority,omitempty" json:"priority,omitempty"`
	Resolution int          `yaml:"resolution,omitempty" json:"resolution,omitempty"`
}

// Plan is a coverage plan document.
type Plan struct {
	Targets []Target `yaml:"targets" json:"targets"`
}

// Service tiles plan regions and enqueues one SEARCH job per
// (cell, category|keyword) pair. Overlapping regions converge on the same
// cell ids, so downstream consumers can recognize duplicated coverage by
// (cell, facet); every Seed call enqueues its own jobs.
type Service struct {
	scheduler         *job.Scheduler
	defaultResolution int
	log               *logger.Logger
}

func NewService(scheduler *job.Scheduler, defaultResolution int) *Service {
	return &Service{
		scheduler:         scheduler,
		defaultResolution: defaultResolution,
		log:               logger.New("Planner"),
	}
}

// LoadPlan reads a YAML coverage plan from disk.
func LoadPlan(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planner: read plan: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(b, &plan); err != nil {
		return nil, fmt.Errorf("planner: parse plan: %w", err)
	}
	return &plan, nil
}

// SeedReport summarizes what a Seed call enqueued.
type SeedReport struct {
	Cells   int `json:"cells"`
	Jobs    int `json:"jobs"`
	Targets int `json:"targets"`
}

// Seed enqueues SEARCH jobs covering every target in the plan.
func (s *Service) Seed(ctx context.Context, plan *Plan) (SeedReport, error) {
	var report SeedReport
	for _, t := range plan.Targets {
		n, cells, err := s.seedTarget(ctx, t)
		if err != nil {
			return report, fmt.Errorf("planner: target %q: %w", t.Name, err)
		}
		report.Targets++
		report.Cells += cells
		report.Jobs += n
	}
	s.log.LogInfof("seeded %d job(s) across %d cell(s) from %d target(s)",
		report.Jobs, report.Cells, report.Targets)
	return report, nil
}

func (s *Service) seedTarget(ctx context.Context, t Target) (jobs, cells int, err error) {
	resolution := t.Resolution
	if resolution == 0 {
		resolution = s.defaultResolution
	}
	cellIDs, err := tiler.Cover(t.Region, resolution)
	if err != nil {
		return 0, 0, err
	}

	facets := make([]job.CreateParams, 0, len(t.Categories)+len(t.Keywords))
	for _, cat := range t.Categories {
		facets = append(facets, job.CreateParams{Category: cat})
	}
	for _, kw := range t.Keywords {
		facets = append(facets, job.CreateParams{Keyword: kw})
	}
	if len(facets) == 0 {
		return 0, len(cellIDs), fmt.Errorf("no categories or keywords")
	}

	for _, cell := range cellIDs {
		for _, facet := range facets {
			p := facet
			p.Type = job.TypeSearch
			p.Cell = cell
			p.Priority = t.Priority
			if _, err := s.scheduler.Enqueue(ctx, p); err != nil {
				return jobs, len(cellIDs), err
			}
			jobs++
		}
	}
	return jobs, len(cellIDs), nil
}
