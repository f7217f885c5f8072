package backendhttp

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/PinBox/internal/integrations/httpjson"
	"github.com/BearBump/PinBox/internal/integrations/serviceability"
	"github.com/pkg/errors"
)

// Client talks to the storefront backend's location endpoint.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New returns nil when baseURL is empty: with no backend configured the
// resolver trusts the client-side pincode.
func New(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type validateResp struct {
	IsServiceable *bool   `json:"is_serviceable"`
	LocationID    *int64  `json:"location_id"`
	AreaName      *string `json:"area_name"`
}

func (r *validateResp) Validate() error {
	if r.IsServiceable == nil {
		return errors.New("is_serviceable is missing")
	}
	return nil
}

func (c *Client) Validate(ctx context.Context, pincode string) (serviceability.Result, error) {
	u := c.baseURL + "/api/location/validate/" + url.PathEscape(pincode)

	var rb validateResp
	if _, err := httpjson.Get(ctx, c.httpc, u, "", &rb); err != nil {
		return serviceability.Result{}, errors.Wrap(err, "validate pincode")
	}

	res := serviceability.Result{
		IsServiceable: *rb.IsServiceable,
		LocationID:    rb.LocationID,
	}
	if rb.AreaName != nil && strings.TrimSpace(*rb.AreaName) != "" {
		res.AreaName = rb.AreaName
	}
	return res, nil
}
