package locations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PinBox/internal/cache"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/pkg/errors"
)

const (
	CacheKeyName    = "cf_location_v3"
	DefaultCacheTTL = 7 * 24 * time.Hour
)

func SlotKey(sessionID string) string {
	return fmt.Sprintf("location:%s:%s", sessionID, CacheKeyName)
}

// SlotStore keeps the single cached location entry of each session.
// Entries older than ttl (by their ts) are treated as absent even if the
// backing store still has them.
type SlotStore struct {
	cache cache.BytesCache
	ttl   time.Duration
	now   func() time.Time
}

func NewSlotStore(c cache.BytesCache, ttl time.Duration, now func() time.Time) *SlotStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SlotStore{cache: c, ttl: ttl, now: now}
}

func (s *SlotStore) Load(ctx context.Context, sessionID string) (*models.CachedLocation, bool, error) {
	if s == nil || s.cache == nil {
		return nil, false, nil
	}
	b, ok, err := s.cache.Get(ctx, SlotKey(sessionID))
	if err != nil {
		return nil, false, errors.Wrap(err, "get cached location")
	}
	if !ok {
		return nil, false, nil
	}

	var cl models.CachedLocation
	if err := json.Unmarshal(b, &cl); err != nil {
		// битая запись ведёт себя как отсутствующая
		slog.Warn("cached location is corrupt", "session_id", sessionID, "error", err.Error())
		return nil, false, nil
	}
	if s.now().UnixMilli()-cl.TS > s.ttl.Milliseconds() {
		return nil, false, nil
	}
	return &cl, true, nil
}

// Save stamps ts with the current time and overwrites the slot.
func (s *SlotStore) Save(ctx context.Context, sessionID string, cl models.CachedLocation) error {
	if s == nil || s.cache == nil {
		return nil
	}
	cl.TS = s.now().UnixMilli()
	b, err := json.Marshal(cl)
	if err != nil {
		return errors.Wrap(err, "marshal cached location")
	}
	if err := s.cache.Set(ctx, SlotKey(sessionID), b, s.ttl); err != nil {
		return errors.Wrap(err, "set cached location")
	}
	return nil
}

func (s *SlotStore) Clear(ctx context.Context, sessionID string) error {
	if s == nil || s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, SlotKey(sessionID)); err != nil {
		return errors.Wrap(err, "delete cached location")
	}
	return nil
}
