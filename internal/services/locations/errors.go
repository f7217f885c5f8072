package locations

import "github.com/pkg/errors"

var (
	ErrUnsupportedEnvironment = errors.New("unsupported environment")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrPositionUnavailable    = errors.New("position unavailable")
	ErrTimeout                = errors.New("position timeout")
	ErrPincodeNotDetected     = errors.New("pincode not detected")
	ErrValidationFailure      = errors.New("validation failure")
	ErrInvalidInput           = errors.New("invalid input")
	ErrSuperseded             = errors.New("superseded by a newer attempt")
)

// Тексты, которые видит пользователь. Витрина показывает их как есть.
const (
	MsgInsecureContext       = "Please use HTTPS to allow location access."
	MsgNoGeolocation         = "Geolocation not supported on this device."
	MsgPermissionDenied      = "Location permission denied."
	MsgPositionUnavailable   = "Location unavailable."
	MsgTimeout               = "Location request timed out."
	MsgPositionFailed        = "Couldn't fetch your location."
	MsgPrecisePositionFailed = "Couldn't fetch precise location."
	MsgPincodeNotDetected    = "Couldn't detect your pincode. You can enter it manually."
	MsgValidationFailed      = "We couldn't validate your area right now."
	MsgInvalidPincode        = "Invalid pincode"
	MsgAddressRequired       = "Please enter an address."
)
