package fake

import (
	"context"

	"github.com/BearBump/PinBox/internal/integrations/serviceability"
)

// FakeClient answers from a fixed table of serviceable pincodes.
type FakeClient struct {
	Serviceable map[string]int64
}

func New() *FakeClient {
	return &FakeClient{Serviceable: map[string]int64{
		"700001": 1,
		"700016": 2,
		"110001": 3,
	}}
}

func (f *FakeClient) Validate(ctx context.Context, pincode string) (serviceability.Result, error) {
	if err := ctx.Err(); err != nil {
		return serviceability.Result{}, err
	}
	id, ok := f.Serviceable[pincode]
	if !ok {
		return serviceability.Result{IsServiceable: false}, nil
	}
	return serviceability.Result{IsServiceable: true, LocationID: &id}, nil
}
