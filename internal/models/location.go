package models

import "time"

// Serviceability is the tri-state result of a pincode serviceability check.
type Serviceability string

const (
	ServiceabilityUnknown        Serviceability = "UNKNOWN"
	ServiceabilityServiceable    Serviceability = "SERVICEABLE"
	ServiceabilityNotServiceable Serviceability = "NOT_SERVICEABLE"
)

// FromFlag maps the backend's boolean flag onto Serviceability.
func FromFlag(isServiceable bool) Serviceability {
	if isServiceable {
		return ServiceabilityServiceable
	}
	return ServiceabilityNotServiceable
}

// Precision selects the device geolocation profile.
type Precision string

const (
	PrecisionFast    Precision = "fast"
	PrecisionPrecise Precision = "precise"
)

// Источник разрешения локации, попадает в историю.
const (
	ResolutionSourceDevice   = "device"
	ResolutionSourceManual   = "manual"
	ResolutionSourceAddress  = "address"
	ResolutionSourceValidate = "validate"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationState is what a session knows about its delivery location.
type LocationState struct {
	Pincode        *string        `json:"pincode"`
	LocationID     *int64         `json:"location_id"`
	AreaName       *string        `json:"area_name"`
	Coords         *Coordinates   `json:"coords,omitempty"`
	Serviceability Serviceability `json:"serviceability"`
	Loading        bool           `json:"loading"`
	Error          *string        `json:"error"`
}

// CachedLocation is the persisted single-slot layout. Field names follow the
// storefront's local storage entry so both sides can read it.
type CachedLocation struct {
	Pincode  *string       `json:"pincode,omitempty"`
	AreaName *string       `json:"areaName,omitempty"`
	Coords   *Coordinates  `json:"coords,omitempty"`
	Result   *CachedLookup `json:"result,omitempty"`
	TS       int64         `json:"ts"`
}

type CachedLookup struct {
	LocationID    *int64 `json:"location_id"`
	IsServiceable *bool  `json:"is_serviceable"`
}

// Resolution is one settled resolution attempt as stored in history.
type Resolution struct {
	ID             uint64
	SessionID      string
	Source         string
	Pincode        *string
	AreaName       *string
	Coords         *Coordinates
	Serviceability Serviceability
	LocationID     *int64
	Error          *string
	ResolvedAt     time.Time
	CreatedAt      time.Time
}

// PincodeCheck is the last known serviceability of a pincode.
type PincodeCheck struct {
	Pincode        string
	Serviceability Serviceability
	LocationID     *int64
	AreaName       *string
	LastCheckedAt  *time.Time
	NextCheckAt    time.Time
	CheckFailCount int32
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
