package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

// PutJob persists an orchestration record. Records are write-once: a second
// put for the same id is a conflict.
func (s *Store) PutJob(ctx context.Context, rec model.JobRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO orchestration_job (id, operation, record, created_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, string(rec.Operation), string(b), rec.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("job %s already recorded", rec.ID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (model.JobRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var raw []byte
	err := s.Pool.QueryRow(ctx, `SELECT record FROM orchestration_job WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.JobRecord{}, apperr.NotFound("job %s", id)
	}
	if err != nil {
		return model.JobRecord{}, err
	}
	var rec model.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.JobRecord{}, err
	}
	return rec, nil
}
