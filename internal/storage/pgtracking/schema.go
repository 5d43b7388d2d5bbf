package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS companies (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  public_id TEXT NOT NULL UNIQUE,
  company_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS entities (
  id TEXT PRIMARY KEY,
  public_id TEXT NOT NULL UNIQUE,
  company_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_numbers (
  id TEXT PRIMARY KEY,
  public_id TEXT NOT NULL UNIQUE,
  tracking_number TEXT NOT NULL,
  company_id TEXT NOT NULL,
  api_key TEXT NOT NULL DEFAULT '',
  owner_id TEXT NULL,
  owner_type TEXT NULL,
  region TEXT NOT NULL,
  status_id BIGINT NULL,
  location_lat DOUBLE PRECISION NULL,
  location_lon DOUBLE PRECISION NULL,
  qr_code BYTEA NULL,
  barcode BYTEA NULL,
  meta JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  deleted_at TIMESTAMPTZ NULL
)`,
		// No partial predicate: soft-deleted rows keep their number reserved.
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + trackingNumberUniqueIndex + ` ON tracking_numbers(tracking_number)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_numbers_company ON tracking_numbers(company_id, created_at DESC) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_numbers_owner ON tracking_numbers(owner_id) WHERE deleted_at IS NULL`,
		`
CREATE TABLE IF NOT EXISTS tracking_statuses (
  id BIGSERIAL PRIMARY KEY,
  tracking_number_id TEXT NOT NULL REFERENCES tracking_numbers(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  code TEXT NOT NULL CHECK (code ~ '^[A-Z_]+$'),
  details TEXT NOT NULL DEFAULT '',
  location_lat DOUBLE PRECISION NOT NULL DEFAULT 0,
  location_lon DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_statuses_tracking ON tracking_statuses(tracking_number_id, created_at DESC, id DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
