package googlehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/BearBump/PinBox/internal/integrations/geocoder"
	"github.com/stretchr/testify/require"
)

const kolkataPostal = `{
  "status": "OK",
  "results": [{
    "formatted_address": "Kolkata, West Bengal 700001, India",
    "geometry": {"location": {"lat": 22.5726, "lng": 88.3639}},
    "address_components": [
      {"long_name": "700001", "short_name": "700001", "types": ["postal_code"]},
      {"long_name": "B.B.D. Bagh", "short_name": "B.B.D. Bagh", "types": ["sublocality_level_1", "sublocality", "political"]},
      {"long_name": "Kolkata", "short_name": "Kolkata", "types": ["locality", "political"]}
    ]
  }]
}`

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	_, _ = w.Write([]byte(body))
}

func TestClient_ReverseGeocode_PostalQuery(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/maps/api/geocode/json", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "22.57,88.36", q.Get("latlng"))
		require.Equal(t, "postal_code", q.Get("result_type"))
		require.Equal(t, "in", q.Get("region"))
		require.Equal(t, "en", q.Get("language"))
		require.Equal(t, "secret", q.Get("key"))
		writeJSON(w, kolkataPostal)
	})

	c := New(srv.URL, "secret", 0)
	res := c.ReverseGeocode(context.Background(), 22.57, 88.36)
	require.Equal(t, geocoder.OutcomeFound, res.Outcome)
	require.Equal(t, "700001", res.Pincode)
	require.Equal(t, "B.B.D. Bagh", res.AreaName)
	require.NotNil(t, res.Coords)
	require.InDelta(t, 22.5726, res.Coords.Lat, 1e-9)
}

func TestClient_ReverseGeocode_FallsBackToUnrestricted(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			require.Equal(t, "postal_code", r.URL.Query().Get("result_type"))
			writeJSON(w, `{"status":"ZERO_RESULTS","results":[]}`)
			return
		}
		require.Empty(t, r.URL.Query().Get("result_type"))
		writeJSON(w, `{
  "status": "OK",
  "results": [
    {"address_components": [{"long_name": "Kolkata", "types": ["locality"]}]},
    {"address_components": [{"long_name": "700016", "types": ["postal_code"]}, {"long_name": "Park Street", "types": ["neighborhood"]}]}
  ]
}`)
	})

	c := New(srv.URL, "secret", 0)
	res := c.ReverseGeocode(context.Background(), 22.55, 88.35)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, geocoder.OutcomeFound, res.Outcome)
	require.Equal(t, "700016", res.Pincode)
	require.Equal(t, "Park Street", res.AreaName)
}

func TestClient_ReverseGeocode_NotFound(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("result_type") != "" {
			writeJSON(w, `{"status":"ZERO_RESULTS","results":[]}`)
			return
		}
		writeJSON(w, `{"status":"OK","results":[{"address_components":[{"long_name":"Bay of Bengal","types":["natural_feature"]}]}]}`)
	})

	c := New(srv.URL, "secret", 0)
	res := c.ReverseGeocode(context.Background(), 15.0, 88.0)
	require.Equal(t, geocoder.OutcomeNotFound, res.Outcome)
}

func TestClient_ReverseGeocode_ProviderStatus(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid.","results":[]}`)
	})

	c := New(srv.URL, "secret", 0)
	res := c.ReverseGeocode(context.Background(), 22.57, 88.36)
	require.Equal(t, geocoder.OutcomeProviderError, res.Outcome)
	require.Contains(t, res.Reason, "REQUEST_DENIED")
	require.Contains(t, res.Reason, "API key is invalid")
}

func TestClient_ReverseGeocode_HTTPErrorDoesNotLeakKey(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	c := New(srv.URL, "secret", 0)
	res := c.ReverseGeocode(context.Background(), 22.57, 88.36)
	require.Equal(t, geocoder.OutcomeProviderError, res.Outcome)
	require.NotContains(t, res.Reason, "secret")
}

func TestClient_NoAPIKey(t *testing.T) {
	c := New("http://127.0.0.1:1", "", 0)
	require.Equal(t, geocoder.OutcomeProviderError, c.ReverseGeocode(context.Background(), 1, 2).Outcome)
	require.Equal(t, geocoder.OutcomeProviderError, c.ForwardGeocode(context.Background(), "x").Outcome)
}

func TestClient_ForwardGeocode(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "B.B.D. Bagh, Kolkata", q.Get("address"))
		require.Equal(t, "country:IN", q.Get("components"))
		writeJSON(w, kolkataPostal)
	})

	c := New(srv.URL, "secret", 10)
	res := c.ForwardGeocode(context.Background(), "B.B.D. Bagh, Kolkata")
	require.Equal(t, geocoder.OutcomeFound, res.Outcome)
	require.Equal(t, "700001", res.Pincode)
}

func TestClient_ForwardGeocode_ZeroResults(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"status":"ZERO_RESULTS","results":[]}`)
	})

	c := New(srv.URL, "secret", 0)
	require.Equal(t, geocoder.OutcomeNotFound, c.ForwardGeocode(context.Background(), "nowhere").Outcome)
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, kolkataPostal)
	})

	c := New(srv.URL, "secret", 0.001)
	require.Equal(t, geocoder.OutcomeFound, c.ForwardGeocode(context.Background(), "a").Outcome)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.ForwardGeocode(ctx, "b")
	require.Equal(t, geocoder.OutcomeProviderError, res.Outcome)
	require.Contains(t, res.Reason, "rate limit")
}
