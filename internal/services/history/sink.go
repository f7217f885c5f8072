package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/PinBox/internal/broker/messages"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/BearBump/PinBox/internal/storage/pglocations"
	"github.com/BearBump/PinBox/internal/telemetry"
)

type Repository interface {
	AppendResolution(ctx context.Context, r *models.Resolution) error
	RecordObservation(ctx context.Context, o pglocations.PincodeObservation) error
}

// Scheduler decides when a freshly observed pincode is re-checked.
type Scheduler interface {
	NextCheckDelay(s models.Serviceability) time.Duration
}

// Sink writes location.resolved events into history and registers every
// backend-checked pincode for background re-validation.
type Sink struct {
	repo    Repository
	sched   Scheduler
	metrics *telemetry.Metrics
}

func NewSink(repo Repository, sched Scheduler, m *telemetry.Metrics) *Sink {
	return &Sink{repo: repo, sched: sched, metrics: m}
}

func (s *Sink) Handle(ctx context.Context, msg messages.LocationResolved) error {
	if msg.SessionID == "" || msg.Source == "" {
		slog.Warn("skip location.resolved without session or source", "session_id", msg.SessionID, "source", msg.Source)
		s.metrics.EventConsumed("skipped")
		return nil
	}
	if msg.ResolvedAt.IsZero() {
		msg.ResolvedAt = time.Now().UTC()
	}
	if msg.Serviceability == "" {
		msg.Serviceability = models.ServiceabilityUnknown
	}

	err := s.repo.AppendResolution(ctx, &models.Resolution{
		SessionID:      msg.SessionID,
		Source:         msg.Source,
		Pincode:        msg.Pincode,
		AreaName:       msg.AreaName,
		Coords:         msg.Coords,
		Serviceability: msg.Serviceability,
		LocationID:     msg.LocationID,
		Error:          msg.Error,
		ResolvedAt:     msg.ResolvedAt,
	})
	if err != nil {
		s.metrics.EventConsumed("error")
		return err
	}

	if msg.Checked() {
		err := s.repo.RecordObservation(ctx, pglocations.PincodeObservation{
			Pincode:        *msg.Pincode,
			Serviceability: msg.Serviceability,
			LocationID:     msg.LocationID,
			AreaName:       msg.AreaName,
			CheckedAt:      msg.ResolvedAt,
			NextCheckAt:    msg.ResolvedAt.Add(s.sched.NextCheckDelay(msg.Serviceability)),
		})
		if err != nil {
			s.metrics.EventConsumed("error")
			return err
		}
	}

	s.metrics.EventConsumed("ok")
	return nil
}
