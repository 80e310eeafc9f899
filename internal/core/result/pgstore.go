package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres/PostGIS result store. Coordinates are stored both
// as a geometry(Point,4326) for GIST proximity queries and as raw numerics.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

const resultColumns = `
	id, COALESCE(job_id, ''), COALESCE(source_id, ''), name,
	COALESCE(address, ''), COALESCE(street_address, ''), COALESCE(city, ''),
	COALESCE(state, ''), COALESCE(country, ''), COALESCE(postal_code, ''),
	latitude, longitude, COALESCE(h3_cell, ''), COALESCE(phone, ''),
	COALESCE(website, ''), rating, review_count, COALESCE(category, ''),
	types, metadata, COALESCE(source_url, ''),
	scraped_at, created_at, updated_at, deleted_at`

func (s *PGStore) Insert(ctx context.Context, r *Result) error {
	typesJSON, metaJSON, err := marshalJSONFields(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO results (
			id, job_id, source_id, name, address, street_address, city, state,
			country, postal_code, coordinates, latitude, longitude, h3_cell,
			phone, website, rating, review_count, category, types, metadata,
			source_url, scraped_at, created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			ST_SetSRID(ST_MakePoint($12, $11), 4326), $11, $12, NULLIF($13, ''),
			NULLIF($14, ''), NULLIF($15, ''), $16, $17, NULLIF($18, ''), $19, $20,
			NULLIF($21, ''), $22, $23, $24
		)`,
		r.ID, r.JobID, r.SourceID, r.Name, r.Address, r.StreetAddress, r.City,
		r.State, r.Country, r.PostalCode, r.Latitude, r.Longitude, r.Cell,
		r.Phone, r.Website, r.Rating, r.ReviewCount, r.Category,
		typesJSON, metaJSON, r.SourceURL, r.ScrapedAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return &StorageError{Op: "insert", Err: err}
	}
	return nil
}

func (s *PGStore) Update(ctx context.Context, r *Result) error {
	typesJSON, metaJSON, err := marshalJSONFields(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE results SET
			job_id = NULLIF($2, ''), source_id = NULLIF($3, ''), name = $4,
			address = NULLIF($5, ''), street_address = NULLIF($6, ''),
			city = NULLIF($7, ''), state = NULLIF($8, ''),
			country = NULLIF($9, ''), postal_code = NULLIF($10, ''),
			coordinates = ST_SetSRID(ST_MakePoint($12, $11), 4326),
			latitude = $11, longitude = $12, h3_cell = NULLIF($13, ''),
			phone = NULLIF($14, ''), website = NULLIF($15, ''),
			rating = $16, review_count = $17, category = NULLIF($18, ''),
			types = $19, metadata = $20, source_url = NULLIF($21, ''),
			scraped_at = $22, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		r.ID, r.JobID, r.SourceID, r.Name, r.Address, r.StreetAddress, r.City,
		r.State, r.Country, r.PostalCode, r.Latitude, r.Longitude, r.Cell,
		r.Phone, r.Website, r.Rating, r.ReviewCount, r.Category,
		typesJSON, metaJSON, r.SourceURL, r.ScrapedAt,
	)
	if err != nil {
		return &StorageError{Op: "update", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results WHERE id = $1 AND deleted_at IS NULL`, id)
	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get", Err: err}
	}
	return r, nil
}

func (s *PGStore) FindBySourceID(ctx context.Context, sourceID string) (*Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results WHERE source_id = $1 AND deleted_at IS NULL`,
		sourceID)
	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "find by source id", Err: err}
	}
	return r, nil
}

func (s *PGStore) FindNearby(ctx context.Context, lat, lon, radiusMeters float64) ([]*Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+resultColumns+` FROM results
		WHERE deleted_at IS NULL
		  AND ST_DWithin(
			coordinates::geography,
			ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography,
			$3)
		ORDER BY coordinates <-> ST_SetSRID(ST_MakePoint($2, $1), 4326)`,
		lat, lon, radiusMeters)
	if err != nil {
		return nil, &StorageError{Op: "find nearby", Err: err}
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *PGStore) ListForJob(ctx context.Context, jobID string) ([]*Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM results
		 WHERE job_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, &StorageError{Op: "list for job", Err: err}
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *PGStore) List(ctx context.Context, f ListFilter) ([]*Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE deleted_at IS NULL`
	args := []interface{}{}
	argIdx := 1

	if f.Cell != "" {
		query += fmt.Sprintf(" AND h3_cell = $%d", argIdx)
		args = append(args, f.Cell)
		argIdx++
	}
	if f.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, f.Category)
		argIdx++
	}
	if f.City != "" {
		query += fmt.Sprintf(" AND city = $%d", argIdx)
		args = append(args, f.City)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *PGStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE results SET deleted_at = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return &StorageError{Op: "soft delete", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSONFields(r *Result) (typesJSON, metaJSON []byte, err error) {
	if len(r.Types) > 0 {
		if typesJSON, err = json.Marshal(r.Types); err != nil {
			return nil, nil, &StorageError{Op: "marshal types", Err: err}
		}
	}
	if len(r.Metadata) > 0 {
		if metaJSON, err = json.Marshal(r.Metadata); err != nil {
			return nil, nil, &StorageError{Op: "marshal metadata", Err: err}
		}
	}
	return typesJSON, metaJSON, nil
}

func scanResult(row pgx.Row) (*Result, error) {
	var (
		r         Result
		typesJSON []byte
		metaJSON  []byte
		deletedAt *time.Time
	)
	err := row.Scan(
		&r.ID, &r.JobID, &r.SourceID, &r.Name,
		&r.Address, &r.StreetAddress, &r.City,
		&r.State, &r.Country, &r.PostalCode,
		&r.Latitude, &r.Longitude, &r.Cell, &r.Phone,
		&r.Website, &r.Rating, &r.ReviewCount, &r.Category,
		&typesJSON, &metaJSON, &r.SourceURL,
		&r.ScrapedAt, &r.CreatedAt, &r.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(typesJSON) > 0 {
		if err := json.Unmarshal(typesJSON, &r.Types); err != nil {
			return nil, fmt.Errorf("unmarshal types: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if deletedAt != nil {
		r.Deleted = &Deletion{At: *deletedAt}
	}
	return &r, nil
}

func collectResults(rows pgx.Rows) ([]*Result, error) {
	var out []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan result row", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate result rows", Err: err}
	}
	return out, nil
}
