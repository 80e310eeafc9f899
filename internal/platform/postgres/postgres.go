package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mapscraper/internal/logger"
)

//go:embed schema.sql
var schemaSQL string

// Service owns the pgxpool handle shared by the job and result stores.
// Postgres is the source of truth for all job and result state.
type Service struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func New(ctx context.Context, dsn string) (*Service, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Service{pool: pool, log: logger.New("Postgres")}, nil
}

func (s *Service) Pool() *pgxpool.Pool { return s.pool }
func (s *Service) Close()              { s.pool.Close() }

func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		s.log.LogErrorf("Postgres health check failed: %v", err)
		return fmt.Errorf("postgres ping failed: %v", err)
	}
	return nil
}

// Migrate applies the embedded schema. Statements are idempotent
// (CREATE ... IF NOT EXISTS) so this is safe to run on every startup.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	s.log.LogInfo("schema up to date")
	return nil
}
