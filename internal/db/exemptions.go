package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

// CreateExemption inserts e unless its pair already has an exemption active
// at now. Concurrent creates for the same pair are serialized with an
// advisory lock held for the transaction.
func (s *Store) CreateExemption(ctx context.Context, e model.Exemption, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || '/' || $2::text))`, e.ServerID, e.ItemCode); err != nil {
		return 0, err
	}
	var active bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM exemption
		  WHERE server_id=$1 AND item_code=$2 AND expires_at > $3
		)
	`, e.ServerID, e.ItemCode, now).Scan(&active); err != nil {
		return 0, err
	}
	if active {
		return 0, apperr.Conflict("active exemption exists for %s/%s", e.ServerID, e.ItemCode)
	}

	var id int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO exemption (server_id, item_code, reason, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING exemption_id
	`, e.ServerID, e.ItemCode, e.Reason, e.ExpiresAt).Scan(&id); err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

func (s *Store) DeleteExemption(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.Pool.Exec(ctx, `DELETE FROM exemption WHERE exemption_id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("exemption %d", id)
	}
	return nil
}

// Exemptions returns every exemption, active or expired, recorded for the
// given servers.
func (s *Store) Exemptions(ctx context.Context, serverIDs []string) ([]model.Exemption, error) {
	if len(serverIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := s.Pool.Query(ctx, `
		SELECT exemption_id, server_id, item_code, reason, expires_at
		FROM exemption
		WHERE server_id = ANY($1)
		ORDER BY server_id, item_code, expires_at DESC
	`, serverIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Exemption
	for rows.Next() {
		var e model.Exemption
		if err := rows.Scan(&e.ID, &e.ServerID, &e.ItemCode, &e.Reason, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
