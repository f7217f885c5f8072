package locations_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/PinBox/internal/integrations/device"
	"github.com/BearBump/PinBox/internal/integrations/device/reported"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/BearBump/PinBox/internal/services/locations"
	"github.com/BearBump/PinBox/internal/storage/pglocations"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// HistoryReader is served by the Postgres storage; nil disables the history
// and pincode endpoints.
type HistoryReader interface {
	ListResolutions(ctx context.Context, sessionID string, limit, offset int) ([]*models.Resolution, error)
	GetPincodeCheck(ctx context.Context, pincode string) (*models.PincodeCheck, error)
}

const maxHistoryLimit = 200

type LocationsAPI struct {
	sessions *locations.Sessions
	history  HistoryReader
	validate *validator.Validate
	now      func() time.Time
}

func New(sessions *locations.Sessions, history HistoryReader) *LocationsAPI {
	return &LocationsAPI{
		sessions: sessions,
		history:  history,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

func (a *LocationsAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", a.StartSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", a.EndSession)
			r.Get("/location", a.GetLocation)
			r.Post("/location/device", a.ReportDevice)
			r.Put("/location/pincode", a.SetPincode)
			r.Post("/location/address", a.ResolveAddress)
			r.Put("/location/area", a.SetArea)
			r.Post("/location/validate", a.Validate)
			r.Delete("/location/cache", a.ClearCache)
			r.Get("/location/history", a.ListHistory)
		})
		r.Get("/pincodes/{pincode}", a.GetPincode)
	})
}

type startSessionRequest struct {
	SessionID     string `json:"session_id" validate:"omitempty,uuid"`
	SecureContext *bool  `json:"secure_context"`
	Host          string `json:"host" validate:"max=255"`
	Geolocation   *bool  `json:"geolocation"`
}

type sessionResponse struct {
	SessionID string               `json:"session_id"`
	Location  models.LocationState `json:"location"`
}

type deviceReportRequest struct {
	Precision    string     `json:"precision" validate:"omitempty,oneof=fast precise"`
	Latitude     *float64   `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude    *float64   `json:"longitude" validate:"omitempty,min=-180,max=180"`
	AccuracyM    float64    `json:"accuracy_m" validate:"gte=0"`
	CapturedAt   *time.Time `json:"captured_at"`
	ErrorCode    int        `json:"error_code" validate:"gte=0,lte=3"`
	ErrorMessage string     `json:"error_message" validate:"max=500"`
}

type pincodeRequest struct {
	Pincode string `json:"pincode"`
}

type addressRequest struct {
	Address string `json:"address" validate:"max=500"`
}

type areaRequest struct {
	AreaName string `json:"area_name" validate:"max=200"`
}

type resolutionResponse struct {
	ID             uint64                `json:"id"`
	Source         string                `json:"source"`
	Pincode        *string               `json:"pincode"`
	AreaName       *string               `json:"area_name"`
	Coords         *models.Coordinates   `json:"coords,omitempty"`
	Serviceability models.Serviceability `json:"serviceability"`
	LocationID     *int64                `json:"location_id"`
	Error          *string               `json:"error"`
	ResolvedAt     time.Time             `json:"resolved_at"`
}

type pincodeCheckResponse struct {
	Pincode        string                `json:"pincode"`
	Serviceability models.Serviceability `json:"serviceability"`
	LocationID     *int64                `json:"location_id"`
	AreaName       *string               `json:"area_name"`
	LastCheckedAt  *time.Time            `json:"last_checked_at"`
	NextCheckAt    time.Time             `json:"next_check_at"`
	CheckFailCount int32                 `json:"check_fail_count"`
	LastError      *string               `json:"last_error"`
}

func (a *LocationsAPI) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !a.decodeOptional(w, r, &req) {
		return
	}

	env := device.Environment{SecureContext: true, Geolocation: true, Host: req.Host}
	if req.SecureContext != nil {
		env.SecureContext = *req.SecureContext
	}
	if req.Geolocation != nil {
		env.Geolocation = *req.Geolocation
	}

	res, err := a.sessions.Start(r.Context(), req.SessionID, env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: res.SessionID(), Location: res.State()})
}

func (a *LocationsAPI) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.End(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *LocationsAPI) GetLocation(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.State())
}

func (a *LocationsAPI) ReportDevice(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	var req deviceReportRequest
	if !a.decode(w, r, &req) {
		return
	}

	precision := models.PrecisionFast
	if req.Precision == string(models.PrecisionPrecise) {
		precision = models.PrecisionPrecise
	}
	rep := reported.Report{
		Lat:          req.Latitude,
		Lng:          req.Longitude,
		AccuracyM:    req.AccuracyM,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
	}
	if req.CapturedAt != nil {
		rep.CapturedAt = *req.CapturedAt
	}

	st, err := res.ResolveFromDevice(r.Context(), precision, reported.New(rep, a.now))
	a.respondState(w, res, st, err)
}

func (a *LocationsAPI) SetPincode(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	var req pincodeRequest
	if !a.decode(w, r, &req) {
		return
	}
	st, err := res.SetManualPincode(r.Context(), req.Pincode)
	a.respondState(w, res, st, err)
}

func (a *LocationsAPI) ResolveAddress(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !a.decode(w, r, &req) {
		return
	}
	st, err := res.ResolveFromAddress(r.Context(), req.Address)
	a.respondState(w, res, st, err)
}

func (a *LocationsAPI) SetArea(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	var req areaRequest
	if !a.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, res.SetAreaName(r.Context(), req.AreaName))
}

func (a *LocationsAPI) Validate(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	var req pincodeRequest
	if !a.decode(w, r, &req) {
		return
	}
	st, err := res.Validate(r.Context(), req.Pincode)
	a.respondState(w, res, st, err)
}

func (a *LocationsAPI) ClearCache(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	st, err := res.ClearCache(r.Context())
	a.respondState(w, res, st, err)
}

func (a *LocationsAPI) ListHistory(w http.ResponseWriter, r *http.Request) {
	res, ok := a.resolver(w, r)
	if !ok {
		return
	}
	id := res.SessionID()
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}

	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit = min(limit, maxHistoryLimit)
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.history.ListResolutions(r.Context(), id, limit, offset)
	if err != nil {
		slog.Error("list resolutions", "session_id", id, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	out := make([]resolutionResponse, 0, len(items))
	for _, it := range items {
		out = append(out, resolutionResponse{
			ID:             it.ID,
			Source:         it.Source,
			Pincode:        it.Pincode,
			AreaName:       it.AreaName,
			Coords:         it.Coords,
			Serviceability: it.Serviceability,
			LocationID:     it.LocationID,
			Error:          it.Error,
			ResolvedAt:     it.ResolvedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *LocationsAPI) GetPincode(w http.ResponseWriter, r *http.Request) {
	pin := chi.URLParam(r, "pincode")
	if !models.ValidPincode(pin) {
		writeError(w, http.StatusBadRequest, locations.MsgInvalidPincode)
		return
	}
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}

	pc, err := a.history.GetPincodeCheck(r.Context(), pin)
	if errors.Is(err, pglocations.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pincode has not been checked yet")
		return
	}
	if err != nil {
		slog.Error("get pincode check", "pincode", pin, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "pincode lookup unavailable")
		return
	}
	writeJSON(w, http.StatusOK, pincodeCheckResponse{
		Pincode:        pc.Pincode,
		Serviceability: pc.Serviceability,
		LocationID:     pc.LocationID,
		AreaName:       pc.AreaName,
		LastCheckedAt:  pc.LastCheckedAt,
		NextCheckAt:    pc.NextCheckAt,
		CheckFailCount: pc.CheckFailCount,
		LastError:      pc.LastError,
	})
}

func (a *LocationsAPI) resolver(w http.ResponseWriter, r *http.Request) (*locations.Resolver, bool) {
	res, err := a.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return res, true
}

func (a *LocationsAPI) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return a.check(w, dst)
}

// decodeOptional accepts an empty body.
func (a *LocationsAPI) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return a.check(w, dst)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return a.check(w, dst)
}

func (a *LocationsAPI) check(w http.ResponseWriter, dst any) bool {
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid field "+verrs[0].Field()+": "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// respondState always answers 200: failures are already part of the state.
func (a *LocationsAPI) respondState(w http.ResponseWriter, res *locations.Resolver, st models.LocationState, err error) {
	if errors.Is(err, locations.ErrSuperseded) {
		st = res.State()
	}
	if err != nil {
		slog.Debug("location attempt settled with error", "session_id", res.SessionID(), "error", err.Error())
	}
	writeJSON(w, http.StatusOK, st)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
