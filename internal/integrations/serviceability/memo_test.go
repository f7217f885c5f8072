package serviceability

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PinBox/internal/cache/memcache"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	calls int
	res   Result
	err   error
}

func (c *countingClient) Validate(ctx context.Context, pincode string) (Result, error) {
	c.calls++
	return c.res, c.err
}

func TestMemo_HitSkipsBackend(t *testing.T) {
	id := int64(3)
	next := &countingClient{res: Result{IsServiceable: true, LocationID: &id}}
	m := NewMemo(next, memcache.New(time.Minute), time.Minute)

	for i := 0; i < 3; i++ {
		r, err := m.Validate(context.Background(), "700001")
		require.NoError(t, err)
		require.True(t, r.IsServiceable)
		require.Equal(t, int64(3), *r.LocationID)
	}
	require.Equal(t, 1, next.calls)
}

func TestMemo_FailuresNotStored(t *testing.T) {
	next := &countingClient{err: errors.New("boom")}
	m := NewMemo(next, memcache.New(time.Minute), time.Minute)

	_, err := m.Validate(context.Background(), "700001")
	require.Error(t, err)
	_, err = m.Validate(context.Background(), "700001")
	require.Error(t, err)
	require.Equal(t, 2, next.calls)
}

func TestMemo_StoreOverrides(t *testing.T) {
	next := &countingClient{res: Result{IsServiceable: true}}
	m := NewMemo(next, memcache.New(time.Minute), time.Minute)

	require.NoError(t, m.Store(context.Background(), "700001", Result{IsServiceable: false}))
	r, err := m.Validate(context.Background(), "700001")
	require.NoError(t, err)
	require.False(t, r.IsServiceable)
	require.Equal(t, 0, next.calls)
}

func TestMemo_Disabled(t *testing.T) {
	next := &countingClient{res: Result{IsServiceable: true}}
	m := NewMemo(next, nil, 0)

	_, _ = m.Validate(context.Background(), "700001")
	_, _ = m.Validate(context.Background(), "700001")
	require.Equal(t, 2, next.calls)
	require.NoError(t, m.Store(context.Background(), "700001", Result{}))
}
