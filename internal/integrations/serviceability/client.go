package serviceability

import (
	"context"
)

// Result is the backend's answer for one pincode.
type Result struct {
	IsServiceable bool    `json:"is_serviceable"`
	LocationID    *int64  `json:"location_id,omitempty"`
	AreaName      *string `json:"area_name,omitempty"`
}

type Client interface {
	Validate(ctx context.Context, pincode string) (Result, error)
}
