package device

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BearBump/PinBox/internal/models"
	"github.com/pkg/errors"
)

// PositionOptions mirror the browser geolocation options.
type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	// MaximumAge is how old a cached device fix may be; zero rejects cached fixes.
	MaximumAge time.Duration
}

func OptionsFor(p models.Precision) PositionOptions {
	if p == models.PrecisionPrecise {
		return PositionOptions{EnableHighAccuracy: true, Timeout: 20 * time.Second, MaximumAge: 0}
	}
	return PositionOptions{EnableHighAccuracy: false, Timeout: 12 * time.Second, MaximumAge: 60 * time.Second}
}

type Position struct {
	Coords     models.Coordinates
	AccuracyM  float64
	CapturedAt time.Time
}

// ErrorCode follows the W3C GeolocationPositionError codes.
type ErrorCode int

const (
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
)

type PositionError struct {
	Code    ErrorCode
	Message string
}

func (e *PositionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("geolocation error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("geolocation error %d", e.Code)
}

type Locator interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
}

var (
	ErrInsecureContext = errors.New("geolocation requires a secure context")
	ErrNoGeolocation   = errors.New("geolocation is not supported")
)

// Environment describes the browser session that asks for its position.
type Environment struct {
	SecureContext bool   `json:"secure_context"`
	Host          string `json:"host"`
	Geolocation   bool   `json:"geolocation"`
}

// Check fails when the browser cannot provide a position at all.
func (e Environment) Check() error {
	if !e.SecureContext && !IsLocalHost(e.Host) {
		return ErrInsecureContext
	}
	if !e.Geolocation {
		return ErrNoGeolocation
	}
	return nil
}

// IsLocalHost reports local development hosts, which browsers treat as secure.
func IsLocalHost(host string) bool {
	h := strings.TrimSpace(host)
	if hh, _, err := net.SplitHostPort(h); err == nil {
		h = hh
	}
	h = strings.Trim(h, "[]")
	switch strings.ToLower(h) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
