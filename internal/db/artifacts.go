package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Ingested reports whether this exact version of the artifact has already
// been turned into facts.
func (s *Store) Ingested(ctx context.Context, location, name, digest string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var stored string
	err := s.Pool.QueryRow(ctx, `
		SELECT digest FROM ingested_artifact WHERE location=$1 AND name=$2
	`, location, name).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == digest, nil
}

func (s *Store) MarkIngested(ctx context.Context, location, name, digest string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO ingested_artifact (location, name, digest, ingested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location, name)
		DO UPDATE SET digest = EXCLUDED.digest, ingested_at = EXCLUDED.ingested_at
	`, location, name, digest, at)
	return err
}
