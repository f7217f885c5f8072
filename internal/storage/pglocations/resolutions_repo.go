package pglocations

import (
	"context"
	"time"

	"github.com/BearBump/PinBox/internal/models"
	"github.com/pkg/errors"
)

// AppendResolution stores one settled attempt. Redelivered events are ignored.
func (s *Storage) AppendResolution(ctx context.Context, r *models.Resolution) error {
	var lat, lng *float64
	if r.Coords != nil {
		lat, lng = &r.Coords.Lat, &r.Coords.Lng
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO location_resolutions (
  session_id, source, pincode, area_name, lat, lng,
  serviceability, location_id, error, resolved_at, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
ON CONFLICT (session_id, source, resolved_at) DO NOTHING
`, r.SessionID, r.Source, r.Pincode, r.AreaName, lat, lng,
		string(r.Serviceability), r.LocationID, r.Error, r.ResolvedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert resolution")
	}
	return nil
}

func (s *Storage) ListResolutions(ctx context.Context, sessionID string, limit, offset int) ([]*models.Resolution, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, session_id, source, pincode, area_name, lat, lng,
  serviceability, location_id, error, resolved_at, created_at
FROM location_resolutions
WHERE session_id = $1
ORDER BY resolved_at DESC, id DESC
LIMIT $2 OFFSET $3
`, sessionID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select resolutions")
	}
	defer rows.Close()

	out := make([]*models.Resolution, 0, limit)
	for rows.Next() {
		var r models.Resolution
		var lat, lng *float64
		var svc string
		var resolvedAt, createdAt time.Time
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Source, &r.Pincode, &r.AreaName, &lat, &lng,
			&svc, &r.LocationID, &r.Error, &resolvedAt, &createdAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan resolution")
		}
		if lat != nil && lng != nil {
			r.Coords = &models.Coordinates{Lat: *lat, Lng: *lng}
		}
		r.Serviceability = models.Serviceability(svc)
		r.ResolvedAt = resolvedAt.UTC()
		r.CreatedAt = createdAt.UTC()
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
