package pglocations

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS location_resolutions (
  id BIGSERIAL PRIMARY KEY,
  session_id TEXT NOT NULL,
  source TEXT NOT NULL,
  pincode TEXT NULL,
  area_name TEXT NULL,
  lat DOUBLE PRECISION NULL,
  lng DOUBLE PRECISION NULL,
  serviceability TEXT NOT NULL,
  location_id BIGINT NULL,
  error TEXT NULL,
  resolved_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_location_resolutions_session_resolved_at ON location_resolutions(session_id, resolved_at DESC)`,
		// Kafka доставляет at-least-once, повтор события не должен дублировать историю.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_location_resolutions_dedup ON location_resolutions(session_id, source, resolved_at)`,
		`
CREATE TABLE IF NOT EXISTS pincode_checks (
  pincode TEXT PRIMARY KEY,
  serviceability TEXT NOT NULL,
  location_id BIGINT NULL,
  area_name TEXT NULL,
  last_checked_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_pincode_checks_next_check_at ON pincode_checks(next_check_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
