package pglocations

import (
	"context"
	"time"

	"github.com/BearBump/PinBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// PincodeObservation is a backend answer seen by a session.
type PincodeObservation struct {
	Pincode        string
	Serviceability models.Serviceability
	LocationID     *int64
	AreaName       *string
	CheckedAt      time.Time
	NextCheckAt    time.Time
}

// PincodeCheckUpdate is the outcome of a background re-check. A non-empty
// Error keeps the last known serviceability and bumps the failure counter.
type PincodeCheckUpdate struct {
	Pincode string

	CheckedAt time.Time

	Serviceability models.Serviceability
	LocationID     *int64
	AreaName       *string

	NextCheckAt time.Time

	Error *string
}

const pincodeColumns = `
  pincode, serviceability, location_id, area_name,
  last_checked_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

// RecordObservation inserts the pincode or refreshes it when the observation
// is newer than the last check.
func (s *Storage) RecordObservation(ctx context.Context, o PincodeObservation) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO pincode_checks (
  pincode, serviceability, location_id, area_name,
  last_checked_at, next_check_at, check_fail_count, last_error, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,0,NULL, now(), now())
ON CONFLICT (pincode) DO UPDATE SET
  serviceability = EXCLUDED.serviceability,
  location_id = EXCLUDED.location_id,
  area_name = COALESCE(EXCLUDED.area_name, pincode_checks.area_name),
  last_checked_at = EXCLUDED.last_checked_at,
  next_check_at = EXCLUDED.next_check_at,
  check_fail_count = 0,
  last_error = NULL,
  updated_at = now()
WHERE pincode_checks.last_checked_at IS NULL
   OR pincode_checks.last_checked_at < EXCLUDED.last_checked_at
`, o.Pincode, string(o.Serviceability), o.LocationID, o.AreaName, o.CheckedAt.UTC(), o.NextCheckAt.UTC())
	if err != nil {
		return errors.Wrap(err, "upsert pincode check")
	}
	return nil
}

func (s *Storage) GetPincodeCheck(ctx context.Context, pincode string) (*models.PincodeCheck, error) {
	row := s.db.QueryRow(ctx, `SELECT`+pincodeColumns+` FROM pincode_checks WHERE pincode = $1`, pincode)
	pc, err := scanPincodeCheck(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select pincode check")
	}
	return pc, nil
}

// RefreshPincode makes the pincode due right away.
func (s *Storage) RefreshPincode(ctx context.Context, pincode string) error {
	tag, err := s.db.Exec(ctx, `UPDATE pincode_checks SET next_check_at = now(), updated_at = now() WHERE pincode = $1`, pincode)
	if err != nil {
		return errors.Wrap(err, "refresh pincode")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimDuePincodes выбирает пинкоды, которые пора перепроверить, и сдвигает им
// next_check_at на lease, чтобы параллельный воркер их не взял.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDuePincodes(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.PincodeCheck, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+pincodeColumns+`
FROM pincode_checks
WHERE next_check_at <= $1
ORDER BY next_check_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due pincodes")
	}

	var picked []*models.PincodeCheck
	for rows.Next() {
		pc, err := scanPincodeCheck(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due pincode")
		}
		picked = append(picked, pc)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, pc := range picked {
		_, err := tx.Exec(ctx, `UPDATE pincode_checks SET next_check_at = $2, updated_at = now() WHERE pincode = $1`, pc.Pincode, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease pincode")
		}
		pc.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) ApplyPincodeCheck(ctx context.Context, upd PincodeCheckUpdate) error {
	if upd.Error != nil && *upd.Error != "" {
		_, err := s.db.Exec(ctx, `
UPDATE pincode_checks
SET
  last_checked_at = $2,
  check_fail_count = check_fail_count + 1,
  last_error = $3,
  next_check_at = $4,
  updated_at = now()
WHERE pincode = $1
`, upd.Pincode, upd.CheckedAt.UTC(), *upd.Error, upd.NextCheckAt.UTC())
		if err != nil {
			return errors.Wrap(err, "update pincode check (error)")
		}
		return nil
	}

	_, err := s.db.Exec(ctx, `
UPDATE pincode_checks
SET
  serviceability = $3,
  location_id = $4,
  area_name = COALESCE($5, area_name),
  last_checked_at = $2,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = $6,
  updated_at = now()
WHERE pincode = $1
`, upd.Pincode, upd.CheckedAt.UTC(), string(upd.Serviceability), upd.LocationID, upd.AreaName, upd.NextCheckAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update pincode check (ok)")
	}
	return nil
}

// CountPincodes returns the total and currently due pincode rows.
func (s *Storage) CountPincodes(ctx context.Context, now time.Time) (total, due int64, err error) {
	err = s.db.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE next_check_at <= $1)
FROM pincode_checks
`, now.UTC()).Scan(&total, &due)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count pincodes")
	}
	return total, due, nil
}

func scanPincodeCheck(row pgx.Row) (*models.PincodeCheck, error) {
	var pc models.PincodeCheck
	var svc string
	if err := row.Scan(
		&pc.Pincode, &svc, &pc.LocationID, &pc.AreaName,
		&pc.LastCheckedAt, &pc.NextCheckAt, &pc.CheckFailCount, &pc.LastError,
		&pc.CreatedAt, &pc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	pc.Serviceability = models.Serviceability(svc)
	return &pc, nil
}
