package result

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"mapscraper/internal/core/tiler"
	"mapscraper/internal/logger"
)

// Config tunes the deduplicator.
type Config struct {
	// StorageResolution is the H3 resolution results are indexed at.
	StorageResolution int
	// RadiusMeters bounds the proximity fallback when no source id is present.
	RadiusMeters float64
	// SimilarityThreshold is the minimum normalized-name similarity (0..1)
	// for the proximity fallback to treat two places as the same entity.
	SimilarityThreshold float64
}

// Service decides whether an incoming POI is new, an update to an existing
// result, or unusable. The store is the sole source of truth; there is no
// authoritative in-memory state.
type Service struct {
	store Store
	cfg   Config
	log   *logger.Logger
}

func NewService(store Store, cfg Config) *Service {
	return &Service{store: store, cfg: cfg, log: logger.New("Dedup")}
}

func (s *Service) Store() Store { return s.store }

// Resolve persists one scraped POI. SourceID is the primary identity; when
// absent, an active result within RadiusMeters whose normalized name is
// similar enough is treated as the same entity.
func (s *Service) Resolve(ctx context.Context, poi POI, jobID string) (Resolution, *Result, error) {
	if reason := s.validate(poi); reason != "" {
		s.log.LogWarnf("skipping poi %q: %s", poi.Name, reason)
		return Skipped, nil, nil
	}

	existing, err := s.match(ctx, poi)
	if err != nil {
		return Skipped, nil, err
	}

	now := time.Now().UTC()
	if existing != nil {
		merged := s.merge(existing, poi, jobID, now)
		if err := s.store.Update(ctx, merged); err != nil {
			return Skipped, nil, err
		}
		return Updated, merged, nil
	}

	cell, err := tiler.CellOf(poi.Latitude, poi.Longitude, s.cfg.StorageResolution)
	if err != nil {
		return Skipped, nil, err
	}
	created := &Result{
		ID:            uuid.NewString(),
		JobID:         jobID,
		SourceID:      poi.SourceID,
		Name:          poi.Name,
		Address:       poi.Address,
		StreetAddress: poi.StreetAddress,
		City:          poi.City,
		State:         poi.State,
		Country:       poi.Country,
		PostalCode:    poi.PostalCode,
		Latitude:      poi.Latitude,
		Longitude:     poi.Longitude,
		Cell:          cell,
		Phone:         poi.Phone,
		Website:       poi.Website,
		Rating:        poi.Rating,
		ReviewCount:   poi.ReviewCount,
		Category:      poi.Category,
		Types:         poi.Types,
		Metadata:      poi.Metadata,
		SourceURL:     poi.SourceURL,
		ScrapedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(ctx, created); err != nil {
		return Skipped, nil, err
	}
	return Inserted, created, nil
}

func (s *Service) validate(poi POI) string {
	if strings.TrimSpace(poi.Name) == "" {
		return "missing name"
	}
	if math.IsNaN(poi.Latitude) || math.IsNaN(poi.Longitude) {
		return "coordinates are NaN"
	}
	if poi.Latitude < -90 || poi.Latitude > 90 {
		return "latitude out of range"
	}
	if poi.Longitude < -180 || poi.Longitude > 180 {
		return "longitude out of range"
	}
	return ""
}

func (s *Service) match(ctx context.Context, poi POI) (*Result, error) {
	if poi.SourceID != "" {
		existing, err := s.store.FindBySourceID(ctx, poi.SourceID)
		if err == nil {
			return existing, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
		return nil, nil
	}

	nearby, err := s.store.FindNearby(ctx, poi.Latitude, poi.Longitude, s.cfg.RadiusMeters)
	if err != nil {
		return nil, err
	}
	want := normalizeName(poi.Name)
	for _, cand := range nearby {
		if nameSimilarity(want, normalizeName(cand.Name)) >= s.cfg.SimilarityThreshold {
			return cand, nil
		}
	}
	return nil, nil
}

// merge refreshes an existing result with the newer scrape, preserving the
// original id and creation time.
func (s *Service) merge(existing *Result, poi POI, jobID string, now time.Time) *Result {
	merged := *existing
	merged.Name = poi.Name
	merged.Latitude = poi.Latitude
	merged.Longitude = poi.Longitude
	if cell, err := tiler.CellOf(poi.Latitude, poi.Longitude, s.cfg.StorageResolution); err == nil {
		merged.Cell = cell
	}
	if poi.SourceID != "" {
		merged.SourceID = poi.SourceID
	}
	if jobID != "" {
		merged.JobID = jobID
	}
	if poi.Address != "" {
		merged.Address = poi.Address
	}
	if poi.StreetAddress != "" {
		merged.StreetAddress = poi.StreetAddress
	}
	if poi.City != "" {
		merged.City = poi.City
	}
	if poi.State != "" {
		merged.State = poi.State
	}
	if poi.Country != "" {
		merged.Country = poi.Country
	}
	if poi.PostalCode != "" {
		merged.PostalCode = poi.PostalCode
	}
	if poi.Phone != "" {
		merged.Phone = poi.Phone
	}
	if poi.Website != "" {
		merged.Website = poi.Website
	}
	if poi.Rating != nil {
		merged.Rating = poi.Rating
	}
	if poi.ReviewCount != nil {
		merged.ReviewCount = poi.ReviewCount
	}
	if poi.Category != "" {
		merged.Category = poi.Category
	}
	if len(poi.Types) > 0 {
		merged.Types = poi.Types
	}
	if len(poi.Metadata) > 0 {
		merged.Metadata = poi.Metadata
	}
	if poi.SourceURL != "" {
		merged.SourceURL = poi.SourceURL
	}
	merged.ScrapedAt = now
	merged.UpdatedAt = now
	return &merged
}

func normalizeName(name string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && b.Len() > 0 {
				b.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// nameSimilarity maps edit distance onto [0, 1], 1 meaning identical.
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	return 1 - float64(dist)/float64(longest)
}
