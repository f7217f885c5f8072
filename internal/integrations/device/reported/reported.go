// Package reported turns a position the browser already obtained into a
// device.Locator.
package reported

import (
	"context"
	"time"

	"github.com/BearBump/PinBox/internal/integrations/device"
	"github.com/BearBump/PinBox/internal/models"
)

// Report is what the storefront sends after calling navigator.geolocation.
type Report struct {
	Lat          *float64
	Lng          *float64
	AccuracyM    float64
	CapturedAt   time.Time
	ErrorCode    int
	ErrorMessage string
}

type Locator struct {
	report Report
	now    func() time.Time
}

func New(r Report, now func() time.Time) *Locator {
	if now == nil {
		now = time.Now
	}
	return &Locator{report: r, now: now}
}

// CurrentPosition replays the report under opts. A fix older than the profile
// allows (maximum age plus the acquisition timeout) counts as a timeout.
func (l *Locator) CurrentPosition(ctx context.Context, opts device.PositionOptions) (device.Position, error) {
	if err := ctx.Err(); err != nil {
		return device.Position{}, err
	}
	r := l.report
	if r.ErrorCode != 0 {
		return device.Position{}, &device.PositionError{Code: device.ErrorCode(r.ErrorCode), Message: r.ErrorMessage}
	}
	if r.Lat == nil || r.Lng == nil {
		return device.Position{}, &device.PositionError{Code: device.CodePositionUnavailable, Message: "no coordinates reported"}
	}

	captured := r.CapturedAt
	if captured.IsZero() {
		captured = l.now()
	}
	if age := l.now().Sub(captured); age > opts.MaximumAge+opts.Timeout {
		return device.Position{}, &device.PositionError{Code: device.CodeTimeout, Message: "reported fix is too old"}
	}

	return device.Position{
		Coords:     models.Coordinates{Lat: *r.Lat, Lng: *r.Lng},
		AccuracyM:  r.AccuracyM,
		CapturedAt: captured,
	}, nil
}
