package device

import (
	"testing"
	"time"

	"github.com/BearBump/PinBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestOptionsFor(t *testing.T) {
	fast := OptionsFor(models.PrecisionFast)
	require.False(t, fast.EnableHighAccuracy)
	require.Equal(t, 12*time.Second, fast.Timeout)
	require.Equal(t, 60*time.Second, fast.MaximumAge)

	precise := OptionsFor(models.PrecisionPrecise)
	require.True(t, precise.EnableHighAccuracy)
	require.Equal(t, 20*time.Second, precise.Timeout)
	require.Zero(t, precise.MaximumAge)
}

func TestEnvironment_Check(t *testing.T) {
	require.NoError(t, Environment{SecureContext: true, Host: "shop.example", Geolocation: true}.Check())
	require.NoError(t, Environment{Host: "localhost:3000", Geolocation: true}.Check())
	require.ErrorIs(t, Environment{Host: "shop.example", Geolocation: true}.Check(), ErrInsecureContext)
	require.ErrorIs(t, Environment{SecureContext: true}.Check(), ErrNoGeolocation)
}

func TestIsLocalHost(t *testing.T) {
	for _, h := range []string{"localhost", "127.0.0.1", "127.0.0.1:8080", "[::1]:3000", "LOCALHOST"} {
		require.True(t, IsLocalHost(h), h)
	}
	for _, h := range []string{"", "example.com", "192.168.1.5", "localhost.example.com"} {
		require.False(t, IsLocalHost(h), h)
	}
}

func TestPositionError_Error(t *testing.T) {
	require.Equal(t, "geolocation error 1", (&PositionError{Code: CodePermissionDenied}).Error())
	require.Contains(t, (&PositionError{Code: CodeTimeout, Message: "slow"}).Error(), "slow")
}
