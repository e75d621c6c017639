package db

import (
	"context"
	"time"

	"github.com/yourorg/remediation-reconciler/internal/model"
)

// UpsertScanFact replaces the current observation for the fact's pair.
func (s *Store) UpsertScanFact(ctx context.Context, f model.ScanFact) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO scan_fact (server_id, item_code, status, raw_status, raw_evidence, scan_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (server_id, item_code)
		DO UPDATE SET
		  status = EXCLUDED.status,
		  raw_status = EXCLUDED.raw_status,
		  raw_evidence = EXCLUDED.raw_evidence,
		  scan_date = EXCLUDED.scan_date
	`, f.ServerID, f.ItemCode, string(f.Status), nullableString(f.RawStatus), f.Evidence, f.ObservedAt)
	return err
}

func (s *Store) AppendRemediationFact(ctx context.Context, f model.RemediationFact) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO remediation_fact (server_id, item_code, action_date, is_success, failure_reason, raw_evidence)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, f.ServerID, f.ItemCode, f.ActionAt, f.Success, nullableString(f.FailureReason), f.Evidence)
	return err
}

// ScanFacts returns the current facts of the given servers, ordered by pair.
func (s *Store) ScanFacts(ctx context.Context, serverIDs []string) ([]model.ScanFact, error) {
	if len(serverIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := s.Pool.Query(ctx, `
		SELECT server_id, item_code, status, raw_status, raw_evidence, scan_date
		FROM scan_fact
		WHERE server_id = ANY($1)
		ORDER BY server_id, item_code
	`, serverIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScanFact
	for rows.Next() {
		var (
			f      model.ScanFact
			status string
			raw    *string
		)
		if err := rows.Scan(&f.ServerID, &f.ItemCode, &status, &raw, &f.Evidence, &f.ObservedAt); err != nil {
			return nil, err
		}
		f.Status = model.Status(status)
		f.RawStatus = coalesceString(raw, "")
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RemediationFactsSince returns attempts on (servers x codes) recorded at or
// after since, oldest first.
func (s *Store) RemediationFactsSince(ctx context.Context, serverIDs, codes []string, since time.Time) ([]model.RemediationFact, error) {
	if len(serverIDs) == 0 || len(codes) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := s.Pool.Query(ctx, `
		SELECT log_id, server_id, item_code, action_date, is_success, failure_reason, raw_evidence
		FROM remediation_fact
		WHERE server_id = ANY($1)
		  AND item_code = ANY($2)
		  AND action_date >= $3
		ORDER BY action_date, log_id
	`, serverIDs, codes, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RemediationFact
	for rows.Next() {
		var (
			f      model.RemediationFact
			reason *string
		)
		if err := rows.Scan(&f.ID, &f.ServerID, &f.ItemCode, &f.ActionAt, &f.Success, &reason, &f.Evidence); err != nil {
			return nil, err
		}
		f.FailureReason = coalesceString(reason, "")
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
