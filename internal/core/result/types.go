package result

import "time"

// POI is a scraped place as delivered by a worker, before deduplication.
type POI struct {
	SourceID      string                 `json:"source_id,omitempty"`
	Name          string                 `json:"name"`
	Address       string                 `json:"address,omitempty"`
	StreetAddress string                 `json:"street_address,omitempty"`
	City          string                 `json:"city,omitempty"`
	State         string                 `json:"state,omitempty"`
	Country       string                 `json:"country,omitempty"`
	PostalCode    string                 `json:"postal_code,omitempty"`
	Latitude      float64                `json:"latitude"`
	Longitude     float64                `json:"longitude"`
	Phone         string                 `json:"phone,omitempty"`
	Website       string                 `json:"website,omitempty"`
	Rating        *float64               `json:"rating,omitempty"`
	ReviewCount   *int                   `json:"review_count,omitempty"`
	Category      string                 `json:"category,omitempty"`
	Types         []string               `json:"types,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	SourceURL     string                 `json:"source_url,omitempty"`
}

// Deletion marks a soft-deleted result. A nil Deletion means the row is
// active; queries filter on this explicitly, never by convention.
type Deletion struct {
	At time.Time `json:"at"`
}

// Result is a persisted place. Exactly one active Result exists per
// non-empty SourceID.
type Result struct {
	ID            string                 `json:"id"`
	JobID         string                 `json:"job_id,omitempty"`
	SourceID      string                 `json:"source_id,omitempty"`
	Name          string                 `json:"name"`
	Address       string                 `json:"address,omitempty"`
	StreetAddress string                 `json:"street_address,omitempty"`
	City          string                 `json:"city,omitempty"`
	State         string                 `json:"state,omitempty"`
	Country       string                 `json:"country,omitempty"`
	PostalCode    string                 `json:"postal_code,omitempty"`
	Latitude      float64                `json:"latitude"`
	Longitude     float64                `json:"longitude"`
	Cell          string                 `json:"cell,omitempty"`
	Phone         string                 `json:"phone,omitempty"`
	Website       string                 `json:"website,omitempty"`
	Rating        *float64               `json:"rating,omitempty"`
	ReviewCount   *int                   `json:"review_count,omitempty"`
	Category      string                 `json:"category,omitempty"`
	Types         []string               `json:"types,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	SourceURL     string                 `json:"source_url,omitempty"`
	ScrapedAt     time.Time              `json:"scraped_at"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Deleted       *Deletion              `json:"deleted,omitempty"`
}

// Active reports whether the result has not been soft-deleted.
func (r *Result) Active() bool { return r.Deleted == nil }

// Resolution is the deduplicator's verdict for one incoming POI.
type Resolution int

const (
	// Inserted means the POI was new and a Result was created.
	Inserted Resolution = iota
	// Updated means an existing Result was refreshed in place.
	Updated
	// Skipped means the POI was missing required fields and was reported,
	// not persisted.
	Skipped
)

func (r Resolution) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}
