package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func coalesceString(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// EnsureSchema creates the tables this service owns. servers and kisa_items
// mirror the inventory database for deployments that keep both in Postgres.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS servers (
  server_id TEXT PRIMARY KEY,
  company TEXT NOT NULL,
  hostname TEXT NOT NULL,
  ip_address TEXT NOT NULL,
  os_type TEXT NOT NULL,
  db_type TEXT,
  is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS kisa_items (
  item_code TEXT PRIMARY KEY,
  category TEXT NOT NULL,
  title TEXT NOT NULL,
  severity TEXT NOT NULL,
  auto_fix BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS scan_fact (
  id BIGSERIAL PRIMARY KEY,
  server_id TEXT NOT NULL,
  item_code TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('COMPLIANT','NONCOMPLIANT','UNKNOWN')),
  raw_status TEXT,
  raw_evidence TEXT NOT NULL,
  scan_date TIMESTAMPTZ NOT NULL,
  UNIQUE(server_id, item_code)
);

CREATE TABLE IF NOT EXISTS remediation_fact (
  log_id BIGSERIAL PRIMARY KEY,
  server_id TEXT NOT NULL,
  item_code TEXT NOT NULL,
  action_date TIMESTAMPTZ NOT NULL,
  is_success BOOLEAN NOT NULL,
  failure_reason VARCHAR(500),
  raw_evidence TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exemption (
  exemption_id BIGSERIAL PRIMARY KEY,
  server_id TEXT NOT NULL,
  item_code TEXT NOT NULL,
  reason VARCHAR(500) NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orchestration_job (
  id TEXT PRIMARY KEY,
  operation TEXT NOT NULL,
  record JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingested_artifact (
  location TEXT NOT NULL,
  name TEXT NOT NULL,
  digest TEXT NOT NULL,
  ingested_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (location, name)
);

CREATE INDEX IF NOT EXISTS idx_scan_fact_status ON scan_fact (status, server_id);
CREATE INDEX IF NOT EXISTS idx_remediation_fact_pair_date ON remediation_fact (server_id, item_code, action_date);
CREATE INDEX IF NOT EXISTS idx_exemption_pair_expiry ON exemption (server_id, item_code, expires_at);
CREATE INDEX IF NOT EXISTS idx_servers_company ON servers (company);
`)
	return err
}
