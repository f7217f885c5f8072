package locations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/PinBox/internal/broker/messages"
	"github.com/BearBump/PinBox/internal/integrations/device"
	"github.com/BearBump/PinBox/internal/integrations/geocoder"
	"github.com/BearBump/PinBox/internal/integrations/serviceability"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/BearBump/PinBox/internal/telemetry"
	"github.com/pkg/errors"
)

// EventPublisher receives every settled attempt of every session.
type EventPublisher interface {
	PublishResolved(ctx context.Context, msg messages.LocationResolved) error
}

// Deps are shared by all resolvers of a Sessions registry.
// Backend may be nil: pincodes are then kept with UNKNOWN serviceability.
type Deps struct {
	Geocoder geocoder.Client
	Backend  serviceability.Client
	Slots    *SlotStore
	Events   EventPublisher
	Metrics  *telemetry.Metrics
	Now      func() time.Time
}

// Resolver owns the location state of one session.
//
// Every state-changing operation starts an attempt and takes a generation
// number. An attempt may only write state while its generation is current;
// once a newer attempt starts, the older one's results are dropped and it
// returns ErrSuperseded.
type Resolver struct {
	sessionID string
	deps      Deps

	mu  sync.Mutex
	env device.Environment
	gen uint64
	st  models.LocationState
}

func NewResolver(sessionID string, env device.Environment, deps Deps) *Resolver {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Resolver{
		sessionID: sessionID,
		deps:      deps,
		env:       env,
		st:        models.LocationState{Serviceability: models.ServiceabilityUnknown},
	}
}

func (r *Resolver) SessionID() string { return r.sessionID }

func (r *Resolver) SetEnvironment(env device.Environment) {
	r.mu.Lock()
	r.env = env
	r.mu.Unlock()
}

// State returns a copy that shares nothing with the resolver.
func (r *Resolver) State() models.LocationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneState(r.st)
}

// Warm loads the cached entry into state. It is a no-op once any attempt has
// started.
func (r *Resolver) Warm(ctx context.Context) {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	cl, ok, err := r.deps.Slots.Load(ctx, r.sessionID)
	if err != nil {
		slog.Warn("warm location", "session_id", r.sessionID, "error", err.Error())
		return
	}
	if !ok {
		return
	}

	r.commit(gen, func(st *models.LocationState) {
		st.Pincode = cloneString(cl.Pincode)
		st.AreaName = cloneString(cl.AreaName)
		st.Coords = cloneCoords(cl.Coords)
		st.Serviceability = models.ServiceabilityUnknown
		st.LocationID = nil
		if st.Pincode != nil && cl.Result != nil {
			st.LocationID = cloneInt64(cl.Result.LocationID)
			if cl.Result.IsServiceable != nil {
				st.Serviceability = models.FromFlag(*cl.Result.IsServiceable)
			}
		}
	})
}

// Close supersedes whatever attempt is in flight.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.gen++
	r.st.Loading = false
	r.mu.Unlock()
}

func (r *Resolver) ResolveFromDevice(ctx context.Context, precision models.Precision, loc device.Locator) (models.LocationState, error) {
	gen, env := r.begin()
	src := models.ResolutionSourceDevice

	if err := env.Check(); err != nil {
		msg := MsgNoGeolocation
		if errors.Is(err, device.ErrInsecureContext) {
			msg = MsgInsecureContext
		}
		return r.fail(ctx, gen, src, msg, errors.Wrap(ErrUnsupportedEnvironment, err.Error()))
	}
	if loc == nil {
		return r.fail(ctx, gen, src, MsgNoGeolocation, errors.Wrap(ErrUnsupportedEnvironment, "no locator"))
	}
	if !r.commit(gen, func(st *models.LocationState) { st.Loading = true }) {
		return r.superseded(src)
	}

	opts := device.OptionsFor(precision)
	pctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	pos, err := loc.CurrentPosition(pctx, opts)
	cancel()
	if err != nil {
		msg, serr := classifyPositionError(err, precision)
		return r.fail(ctx, gen, src, msg, serr)
	}

	coords := pos.Coords
	if !r.commit(gen, func(st *models.LocationState) { st.Coords = &coords }) {
		return r.superseded(src)
	}

	look := r.ReverseGeocode(ctx, coords.Lat, coords.Lng)
	if look.Outcome != geocoder.OutcomeFound {
		return r.fail(ctx, gen, src, MsgPincodeNotDetected, errors.Wrap(ErrPincodeNotDetected, look.Outcome.String()))
	}
	if !r.setPincode(gen, look.Pincode, look.AreaName) {
		return r.superseded(src)
	}
	return r.validate(ctx, gen, src, look.Pincode)
}

func (r *Resolver) SetManualPincode(ctx context.Context, pin string) (models.LocationState, error) {
	gen, _ := r.begin()
	src := models.ResolutionSourceManual

	if !models.ValidPincode(pin) {
		return r.rejectPincode(gen, pin)
	}
	if !r.setPincode(gen, pin, "") {
		return r.superseded(src)
	}
	// оптимистично сохраняем пинкод до ответа бэкенда
	r.save(ctx, r.State(), nil)
	return r.validate(ctx, gen, src, pin)
}

func (r *Resolver) Validate(ctx context.Context, pin string) (models.LocationState, error) {
	gen, _ := r.begin()
	src := models.ResolutionSourceValidate

	if !models.ValidPincode(pin) {
		return r.rejectPincode(gen, pin)
	}
	if !r.setPincode(gen, pin, "") {
		return r.superseded(src)
	}
	return r.validate(ctx, gen, src, pin)
}

func (r *Resolver) ResolveFromAddress(ctx context.Context, address string) (models.LocationState, error) {
	gen, _ := r.begin()
	src := models.ResolutionSourceAddress

	address = strings.TrimSpace(address)
	if address == "" {
		return r.fail(ctx, gen, src, MsgAddressRequired, errors.Wrap(ErrInvalidInput, "empty address"))
	}
	if !r.commit(gen, func(st *models.LocationState) { st.Loading = true }) {
		return r.superseded(src)
	}

	look := r.forwardGeocode(ctx, address)
	if look.Outcome != geocoder.OutcomeFound {
		return r.fail(ctx, gen, src, MsgPincodeNotDetected, errors.Wrap(ErrPincodeNotDetected, look.Outcome.String()))
	}
	if !r.setPincode(gen, look.Pincode, look.AreaName) {
		return r.superseded(src)
	}
	return r.validate(ctx, gen, src, look.Pincode)
}

// SetAreaName overrides the locality label. It does not start an attempt.
func (r *Resolver) SetAreaName(ctx context.Context, area string) models.LocationState {
	area = strings.TrimSpace(area)

	r.mu.Lock()
	if area == "" {
		r.st.AreaName = nil
	} else {
		r.st.AreaName = &area
	}
	snap := cloneState(r.st)
	r.mu.Unlock()

	r.save(ctx, snap, resultOf(snap))
	return snap
}

// ClearCache removes the persisted entry and resets in-memory state.
func (r *Resolver) ClearCache(ctx context.Context) (models.LocationState, error) {
	r.mu.Lock()
	r.gen++
	r.st = models.LocationState{Serviceability: models.ServiceabilityUnknown}
	snap := cloneState(r.st)
	r.mu.Unlock()

	if err := r.deps.Slots.Clear(ctx, r.sessionID); err != nil {
		slog.Warn("clear location cache", "session_id", r.sessionID, "error", err.Error())
		return snap, err
	}
	return snap, nil
}

// ReverseGeocode never fails; provider problems come back as a ProviderError
// lookup and are logged.
func (r *Resolver) ReverseGeocode(ctx context.Context, lat, lng float64) geocoder.Lookup {
	var look geocoder.Lookup
	if r.deps.Geocoder == nil {
		look = geocoder.ProviderError("geocoder is not configured")
	} else {
		look = r.deps.Geocoder.ReverseGeocode(ctx, lat, lng)
	}
	r.deps.Metrics.GeocodeLookup("reverse", look.Outcome.String())
	if look.Outcome == geocoder.OutcomeProviderError {
		slog.Warn("reverse geocode failed", "session_id", r.sessionID, "lat", lat, "lng", lng, "reason", look.Reason)
	}
	return look
}

func (r *Resolver) forwardGeocode(ctx context.Context, address string) geocoder.Lookup {
	var look geocoder.Lookup
	if r.deps.Geocoder == nil {
		look = geocoder.ProviderError("geocoder is not configured")
	} else {
		look = r.deps.Geocoder.ForwardGeocode(ctx, address)
	}
	r.deps.Metrics.GeocodeLookup("forward", look.Outcome.String())
	if look.Outcome == geocoder.OutcomeProviderError {
		slog.Warn("forward geocode failed", "session_id", r.sessionID, "reason", look.Reason)
	}
	return look
}

// validate finishes an attempt whose pincode is already in state.
func (r *Resolver) validate(ctx context.Context, gen uint64, src, pin string) (models.LocationState, error) {
	if r.deps.Backend == nil {
		if !r.commit(gen, func(st *models.LocationState) { st.Loading = false }) {
			return r.superseded(src)
		}
		snap := r.State()
		r.save(ctx, snap, nil)
		return r.settle(ctx, src, snap, nil)
	}

	if !r.commit(gen, func(st *models.LocationState) { st.Loading = true }) {
		return r.superseded(src)
	}

	started := time.Now()
	res, err := r.deps.Backend.Validate(ctx, pin)
	if err != nil {
		r.deps.Metrics.ValidationDone("failure", time.Since(started).Seconds())
		slog.Warn("validate pincode", "session_id", r.sessionID, "pincode", pin, "error", err.Error())

		ok := r.commit(gen, func(st *models.LocationState) {
			st.Serviceability = models.ServiceabilityNotServiceable
			st.LocationID = nil
			st.Error = strPtr(MsgValidationFailed)
			st.Loading = false
		})
		if !ok {
			return r.superseded(src)
		}
		return r.settle(ctx, src, r.State(), errors.Wrap(ErrValidationFailure, err.Error()))
	}
	r.deps.Metrics.ValidationDone(string(models.FromFlag(res.IsServiceable)), time.Since(started).Seconds())

	ok := r.commit(gen, func(st *models.LocationState) {
		st.Serviceability = models.FromFlag(res.IsServiceable)
		st.LocationID = cloneInt64(res.LocationID)
		if res.AreaName != nil && strings.TrimSpace(*res.AreaName) != "" {
			st.AreaName = cloneString(res.AreaName)
		}
		st.Loading = false
	})
	if !ok {
		return r.superseded(src)
	}
	snap := r.State()
	r.save(ctx, snap, resultOf(snap))
	return r.settle(ctx, src, snap, nil)
}

func (r *Resolver) begin() (uint64, device.Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.st.Error = nil
	r.st.Loading = false
	return r.gen, r.env
}

// commit applies fn only if gen is still the current attempt.
func (r *Resolver) commit(gen uint64, fn func(st *models.LocationState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false
	}
	fn(&r.st)
	return true
}

func (r *Resolver) setPincode(gen uint64, pin, area string) bool {
	return r.commit(gen, func(st *models.LocationState) {
		p := pin
		st.Pincode = &p
		st.Serviceability = models.ServiceabilityUnknown
		st.LocationID = nil
		if area != "" {
			a := area
			st.AreaName = &a
		}
	})
}

func (r *Resolver) rejectPincode(gen uint64, pin string) (models.LocationState, error) {
	r.commit(gen, func(st *models.LocationState) {
		st.Error = strPtr(MsgInvalidPincode)
		st.Serviceability = models.ServiceabilityUnknown
	})
	return r.State(), errors.Wrapf(ErrInvalidInput, "pincode %q", pin)
}

// fail records msg as the attempt's error. Serviceability stays as it was.
func (r *Resolver) fail(ctx context.Context, gen uint64, src, msg string, err error) (models.LocationState, error) {
	ok := r.commit(gen, func(st *models.LocationState) {
		st.Error = strPtr(msg)
		st.Loading = false
	})
	if !ok {
		return r.superseded(src)
	}
	return r.settle(ctx, src, r.State(), err)
}

func (r *Resolver) superseded(src string) (models.LocationState, error) {
	r.deps.Metrics.ResolutionSettled(src, "superseded")
	return r.State(), ErrSuperseded
}

func (r *Resolver) settle(ctx context.Context, src string, snap models.LocationState, err error) (models.LocationState, error) {
	outcome := "resolved"
	if err != nil {
		outcome = "error"
	}
	r.deps.Metrics.ResolutionSettled(src, outcome)

	if r.deps.Events != nil {
		msg := messages.LocationResolved{
			SessionID:      r.sessionID,
			Source:         src,
			Pincode:        snap.Pincode,
			AreaName:       snap.AreaName,
			Coords:         snap.Coords,
			Serviceability: snap.Serviceability,
			LocationID:     snap.LocationID,
			Error:          snap.Error,
			ResolvedAt:     r.deps.Now().UTC(),
		}
		if perr := r.deps.Events.PublishResolved(ctx, msg); perr != nil {
			slog.Warn("publish location.resolved", "session_id", r.sessionID, "error", perr.Error())
		}
	}
	return snap, err
}

func (r *Resolver) save(ctx context.Context, snap models.LocationState, res *models.CachedLookup) {
	cl := models.CachedLocation{
		Pincode:  snap.Pincode,
		AreaName: snap.AreaName,
		Coords:   snap.Coords,
		Result:   res,
	}
	if err := r.deps.Slots.Save(ctx, r.sessionID, cl); err != nil {
		slog.Warn("save location cache", "session_id", r.sessionID, "error", err.Error())
	}
}

func classifyPositionError(err error, precision models.Precision) (string, error) {
	var pe *device.PositionError
	if errors.As(err, &pe) {
		switch pe.Code {
		case device.CodePermissionDenied:
			return MsgPermissionDenied, errors.Wrap(ErrPermissionDenied, pe.Error())
		case device.CodePositionUnavailable:
			return MsgPositionUnavailable, errors.Wrap(ErrPositionUnavailable, pe.Error())
		case device.CodeTimeout:
			return MsgTimeout, errors.Wrap(ErrTimeout, pe.Error())
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout, errors.Wrap(ErrTimeout, err.Error())
	}
	if precision == models.PrecisionPrecise {
		return MsgPrecisePositionFailed, fmt.Errorf("get precise position: %w", err)
	}
	return MsgPositionFailed, fmt.Errorf("get position: %w", err)
}

// resultOf rebuilds the cached lookup from a settled state.
func resultOf(st models.LocationState) *models.CachedLookup {
	if st.Pincode == nil || st.Error != nil || st.Serviceability == models.ServiceabilityUnknown {
		return nil
	}
	flag := st.Serviceability == models.ServiceabilityServiceable
	return &models.CachedLookup{LocationID: cloneInt64(st.LocationID), IsServiceable: &flag}
}

func cloneState(st models.LocationState) models.LocationState {
	out := st
	out.Pincode = cloneString(st.Pincode)
	out.AreaName = cloneString(st.AreaName)
	out.Error = cloneString(st.Error)
	out.LocationID = cloneInt64(st.LocationID)
	out.Coords = cloneCoords(st.Coords)
	return out
}

func strPtr(s string) *string { return &s }

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneCoords(p *models.Coordinates) *models.Coordinates {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
