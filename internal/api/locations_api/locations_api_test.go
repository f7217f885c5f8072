package locations_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/PinBox/internal/cache/memcache"
	geofake "github.com/BearBump/PinBox/internal/integrations/geocoder/fake"
	svcfake "github.com/BearBump/PinBox/internal/integrations/serviceability/fake"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/BearBump/PinBox/internal/services/locations"
	"github.com/BearBump/PinBox/internal/storage/pglocations"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type historyStub struct {
	items  []*models.Resolution
	checks map[string]*models.PincodeCheck

	gotSession          string
	gotLimit, gotOffset int
}

func (h *historyStub) ListResolutions(ctx context.Context, sessionID string, limit, offset int) ([]*models.Resolution, error) {
	h.gotSession, h.gotLimit, h.gotOffset = sessionID, limit, offset
	return h.items, nil
}

func (h *historyStub) GetPincodeCheck(ctx context.Context, pincode string) (*models.PincodeCheck, error) {
	pc, ok := h.checks[pincode]
	if !ok {
		return nil, pglocations.ErrNotFound
	}
	return pc, nil
}

func newTestServer(t *testing.T, history HistoryReader) *httptest.Server {
	t.Helper()
	sessions := locations.NewSessions(locations.Deps{
		Geocoder: geofake.New(),
		Backend:  svcfake.New(),
		Slots:    locations.NewSlotStore(memcache.New(time.Minute), locations.DefaultCacheTTL, nil),
	})
	t.Cleanup(sessions.Close)

	api := New(sessions, history)
	r := chi.NewRouter()
	api.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func startSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out sessionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	_, err := uuid.Parse(out.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.ServiceabilityUnknown, out.Location.Serviceability)
	return out.SessionID
}

func decodeState(t *testing.T, body []byte) models.LocationState {
	t.Helper()
	var st models.LocationState
	require.NoError(t, json.Unmarshal(body, &st))
	return st
}

func TestLocationsAPI_StartSession(t *testing.T) {
	srv := newTestServer(t, nil)
	id := startSession(t, srv)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{"session_id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out sessionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, id, out.SessionID)

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{"session_id": "not-a-uuid"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/sessions", "{broken")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLocationsAPI_UnknownSession(t *testing.T) {
	srv := newTestServer(t, nil)
	id := uuid.NewString()

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/location", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/v1/sessions/"+id+"/location/pincode", map[string]string{"pincode": "700001"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLocationsAPI_ManualPincode(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/sessions/" + startSession(t, srv) + "/location"

	resp, body := do(t, http.MethodPut, base+"/pincode", map[string]string{"pincode": "700001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeState(t, body)
	require.Equal(t, "700001", *st.Pincode)
	require.Equal(t, models.ServiceabilityServiceable, st.Serviceability)
	require.Equal(t, int64(1), *st.LocationID)
	require.Nil(t, st.Error)
	require.False(t, st.Loading)

	resp, body = do(t, http.MethodPut, base+"/pincode", map[string]string{"pincode": "12ab"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decodeState(t, body)
	require.Equal(t, locations.MsgInvalidPincode, *st.Error)
	require.Equal(t, models.ServiceabilityUnknown, st.Serviceability)
	require.Equal(t, "700001", *st.Pincode)

	resp, body = do(t, http.MethodPost, base+"/validate", map[string]string{"pincode": "400001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decodeState(t, body)
	require.Equal(t, models.ServiceabilityNotServiceable, st.Serviceability)
	require.Nil(t, st.LocationID)

	resp, body = do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "400001", *decodeState(t, body).Pincode)
}

func TestLocationsAPI_DeviceReport(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/sessions/" + startSession(t, srv) + "/location"

	resp, body := do(t, http.MethodPost, base+"/device", map[string]any{
		"precision":  "precise",
		"latitude":   22.5726,
		"longitude":  88.3639,
		"accuracy_m": 12.5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeState(t, body)
	require.Equal(t, "700001", *st.Pincode)
	require.Equal(t, "B.B.D. Bagh", *st.AreaName)
	require.NotNil(t, st.Coords)
	require.Equal(t, models.ServiceabilityServiceable, st.Serviceability)

	resp, body = do(t, http.MethodPost, base+"/device", map[string]any{
		"error_code":    1,
		"error_message": "User denied Geolocation",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decodeState(t, body)
	require.Equal(t, locations.MsgPermissionDenied, *st.Error)
	require.Equal(t, models.ServiceabilityServiceable, st.Serviceability)
}

func TestLocationsAPI_DeviceReport_BadRequest(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/sessions/" + startSession(t, srv) + "/location"

	cases := []any{
		map[string]any{"precision": "sloppy"},
		map[string]any{"latitude": 91.0, "longitude": 0.0},
		map[string]any{"error_code": 7},
		"not json",
	}
	for _, c := range cases {
		resp, _ := do(t, http.MethodPost, base+"/device", c)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "%v", c)
	}
}

func TestLocationsAPI_InsecureSession(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"secure_context": false,
		"host":           "shop.example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out sessionResponse
	require.NoError(t, json.Unmarshal(body, &out))

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/sessions/"+out.SessionID+"/location/device", map[string]any{
		"latitude":  22.5726,
		"longitude": 88.3639,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeState(t, body)
	require.Equal(t, locations.MsgInsecureContext, *st.Error)
	require.Nil(t, st.Pincode)
}

func TestLocationsAPI_AddressAreaAndCache(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/sessions/" + startSession(t, srv) + "/location"

	resp, body := do(t, http.MethodPost, base+"/address", map[string]string{"address": "Connaught Place"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeState(t, body)
	require.Equal(t, "110001", *st.Pincode)
	require.Equal(t, int64(3), *st.LocationID)

	resp, body = do(t, http.MethodPost, base+"/address", map[string]string{"address": "   "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, locations.MsgAddressRequired, *decodeState(t, body).Error)

	resp, body = do(t, http.MethodPut, base+"/area", map[string]string{"area_name": "Janpath"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Janpath", *decodeState(t, body).AreaName)

	resp, body = do(t, http.MethodDelete, base+"/cache", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decodeState(t, body)
	require.Nil(t, st.Pincode)
	require.Nil(t, st.AreaName)
	require.Equal(t, models.ServiceabilityUnknown, st.Serviceability)
}

func TestLocationsAPI_EndSession(t *testing.T) {
	srv := newTestServer(t, nil)
	id := startSession(t, srv)

	resp, _ := do(t, http.MethodDelete, srv.URL+"/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/location", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLocationsAPI_History(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	pin := "700001"
	h := &historyStub{items: []*models.Resolution{{
		ID:             7,
		Source:         models.ResolutionSourceManual,
		Pincode:        &pin,
		Serviceability: models.ServiceabilityServiceable,
		ResolvedAt:     now,
	}}}
	srv := newTestServer(t, h)
	id := startSession(t, srv)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/location/history?limit=5&offset=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 5, h.gotLimit)
	require.Equal(t, 2, h.gotOffset)

	var out struct {
		Items []resolutionResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Items, 1)
	require.Equal(t, uint64(7), out.Items[0].ID)
	require.Equal(t, "manual", out.Items[0].Source)
	require.True(t, now.Equal(out.Items[0].ResolvedAt))

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/location/history?limit=100000000", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, maxHistoryLimit, h.gotLimit)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/location/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 50, h.gotLimit)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/location/history?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLocationsAPI_UpperCaseSessionID(t *testing.T) {
	h := &historyStub{}
	srv := newTestServer(t, h)
	raw := strings.ToUpper(uuid.NewString())

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{"session_id": raw})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out sessionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, strings.ToLower(raw), out.SessionID)

	resp, body = do(t, http.MethodPut, srv.URL+"/v1/sessions/"+raw+"/location/pincode", map[string]string{"pincode": "700001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "700001", *decodeState(t, body).Pincode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/sessions/"+raw+"/location/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, out.SessionID, h.gotSession)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/sessions/"+raw, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/sessions/"+out.SessionID+"/location", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLocationsAPI_HistoryNotConfigured(t *testing.T) {
	srv := newTestServer(t, nil)
	id := startSession(t, srv)

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/location/history", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/pincodes/700001", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLocationsAPI_GetPincode(t *testing.T) {
	next := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	id := int64(1)
	h := &historyStub{checks: map[string]*models.PincodeCheck{
		"700001": {
			Pincode:        "700001",
			Serviceability: models.ServiceabilityServiceable,
			LocationID:     &id,
			NextCheckAt:    next,
		},
	}}
	srv := newTestServer(t, h)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/pincodes/700001", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out pincodeCheckResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, models.ServiceabilityServiceable, out.Serviceability)
	require.Equal(t, int64(1), *out.LocationID)
	require.True(t, next.Equal(out.NextCheckAt))

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/pincodes/110001", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/pincodes/70001x", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
