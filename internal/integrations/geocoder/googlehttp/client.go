package googlehttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BearBump/PinBox/internal/integrations/geocoder"
	"github.com/BearBump/PinBox/internal/integrations/httpjson"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com"
	geocodePath    = "/maps/api/geocode/json"

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
)

type Client struct {
	baseURL  string
	apiKey   string
	region   string
	language string
	httpc    *http.Client
	limiter  *rate.Limiter
}

// New creates a Google Geocoding API client. qps <= 0 disables client-side throttling.
func New(baseURL, apiKey string, qps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		region:   "in",
		language: "en",
		httpc: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	if qps > 0 {
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
	return c
}

type geocodeResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Results      []geocodeResult `json:"results"`
}

func (r *geocodeResponse) Validate() error {
	if r.Status == "" {
		return errors.New("geocode response has no status")
	}
	for i, res := range r.Results {
		for j, c := range res.AddressComponents {
			if c.Types == nil {
				return fmt.Errorf("results[%d].address_components[%d] has no types", i, j)
			}
		}
	}
	return nil
}

type geocodeResult struct {
	AddressComponents []addressComponent `json:"address_components"`
	FormattedAddress  string             `json:"formatted_address"`
	Geometry          *geometry          `json:"geometry,omitempty"`
}

type addressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

type geometry struct {
	Location latLng `json:"location"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ReverseGeocode asks for postal-code granularity first and falls back to an
// unrestricted address lookup when that yields nothing.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) geocoder.Lookup {
	if c.apiKey == "" {
		return geocoder.ProviderError("geocoding api key is not configured")
	}
	latlng := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)

	q := url.Values{}
	q.Set("latlng", latlng)
	q.Set("result_type", "postal_code")
	resp, err := c.query(ctx, q)
	if err != nil {
		return geocoder.ProviderError(err.Error())
	}
	if resp.Status == statusOK && len(resp.Results) > 0 {
		if l := geocoder.Extract(toResults(resp.Results)); l.Outcome == geocoder.OutcomeFound {
			return l
		}
	}

	q.Del("result_type")
	resp, err = c.query(ctx, q)
	if err != nil {
		return geocoder.ProviderError(err.Error())
	}
	return lookupFrom(resp)
}

// ForwardGeocode resolves a free-text address restricted to India.
func (c *Client) ForwardGeocode(ctx context.Context, address string) geocoder.Lookup {
	if c.apiKey == "" {
		return geocoder.ProviderError("geocoding api key is not configured")
	}
	q := url.Values{}
	q.Set("address", address)
	q.Set("components", "country:IN")
	resp, err := c.query(ctx, q)
	if err != nil {
		return geocoder.ProviderError(err.Error())
	}
	return lookupFrom(resp)
}

func lookupFrom(resp *geocodeResponse) geocoder.Lookup {
	switch resp.Status {
	case statusOK:
		return geocoder.Extract(toResults(resp.Results))
	case statusZeroResults:
		return geocoder.NotFound()
	default:
		reason := "geocoder status=" + resp.Status
		if resp.ErrorMessage != "" {
			reason += ": " + resp.ErrorMessage
		}
		return geocoder.ProviderError(reason)
	}
}

func (c *Client) query(ctx context.Context, q url.Values) (*geocodeResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "geocoder rate limit")
		}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = geocodePath
	q.Set("region", c.region)
	q.Set("language", c.language)
	redacted := *u
	redacted.RawQuery = q.Encode()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	q.Del("key")

	start := time.Now()
	var resp geocodeResponse
	code, err := httpjson.Get(ctx, c.httpc, u.String(), redacted.String(), &resp)
	if err != nil {
		return nil, err
	}
	slog.Debug("geocoder response", "status", resp.Status, "http_status", code,
		"results", len(resp.Results), "duration_ms", time.Since(start).Milliseconds())
	return &resp, nil
}

func toResults(in []geocodeResult) []geocoder.Result {
	out := make([]geocoder.Result, 0, len(in))
	for _, r := range in {
		res := geocoder.Result{Components: make([]geocoder.Component, 0, len(r.AddressComponents))}
		for _, c := range r.AddressComponents {
			res.Components = append(res.Components, geocoder.Component{LongName: c.LongName, Types: c.Types})
		}
		if r.Geometry != nil {
			res.Location = &models.Coordinates{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng}
		}
		out = append(out, res)
	}
	return out
}
