package messages

import (
	"time"

	"github.com/BearBump/PinBox/internal/models"
)

// LocationResolved is published on the location.resolved topic whenever a
// resolution attempt of a session settles.
type LocationResolved struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"`

	Pincode        *string               `json:"pincode,omitempty"`
	AreaName       *string               `json:"area_name,omitempty"`
	Coords         *models.Coordinates   `json:"coords,omitempty"`
	Serviceability models.Serviceability `json:"serviceability"`
	LocationID     *int64                `json:"location_id,omitempty"`

	Error *string `json:"error,omitempty"`

	ResolvedAt time.Time `json:"resolved_at"`
}

// Checked reports whether the backend actually answered for the pincode.
func (m LocationResolved) Checked() bool {
	return m.Pincode != nil && m.Error == nil && m.Serviceability != models.ServiceabilityUnknown
}
