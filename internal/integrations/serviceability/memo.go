package serviceability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PinBox/internal/cache"
	"github.com/pkg/errors"
)

// Memo remembers successful answers per pincode so that sessions in the same
// area do not each hit the backend. Failures are never memoized.
type Memo struct {
	next  Client
	cache cache.BytesCache
	ttl   time.Duration
}

func NewMemo(next Client, c cache.BytesCache, ttl time.Duration) *Memo {
	return &Memo{next: next, cache: c, ttl: ttl}
}

func MemoKey(pincode string) string {
	return fmt.Sprintf("pincode:%s:serviceability", pincode)
}

func (m *Memo) Validate(ctx context.Context, pincode string) (Result, error) {
	if m.cache != nil && m.ttl > 0 {
		b, ok, err := m.cache.Get(ctx, MemoKey(pincode))
		if err != nil {
			slog.Warn("serviceability memo get", "pincode", pincode, "error", err.Error())
		}
		if ok {
			var r Result
			if json.Unmarshal(b, &r) == nil {
				return r, nil
			}
		}
	}

	r, err := m.next.Validate(ctx, pincode)
	if err != nil {
		return Result{}, err
	}
	if err := m.Store(ctx, pincode, r); err != nil {
		slog.Warn("serviceability memo set", "pincode", pincode, "error", err.Error())
	}
	return r, nil
}

// Store overwrites the memo entry, e.g. after a background re-check.
func (m *Memo) Store(ctx context.Context, pincode string, r Result) error {
	if m.cache == nil || m.ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal memo")
	}
	return m.cache.Set(ctx, MemoKey(pincode), b, m.ttl)
}
