package locations

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/PinBox/internal/integrations/device"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionIdleTTL: сессия без запросов дольше этого срока считается
// брошенной (закрытая вкладка не присылает DELETE).
const DefaultSessionIdleTTL = 30 * time.Minute

type SessionsOption func(*Sessions)

// WithIdleTTL sets how long a session may go without requests before its
// resolver is torn down.
func WithIdleTTL(d time.Duration) SessionsOption {
	return func(s *Sessions) {
		if d > 0 {
			s.idleTTL = d
		}
	}
}

// Sessions owns the resolvers of all live sessions. Every Start or Get
// extends the session's idle deadline; expired sessions are ended the same
// way End does.
type Sessions struct {
	deps    Deps
	idleTTL time.Duration

	mu    sync.Mutex // serialises insert, touch and delete
	items *gocache.Cache
}

func NewSessions(deps Deps, opts ...SessionsOption) *Sessions {
	s := &Sessions{deps: deps, idleTTL: DefaultSessionIdleTTL}
	for _, opt := range opts {
		opt(s)
	}

	cleanup := s.idleTTL / 2
	if cleanup > 5*time.Minute {
		cleanup = 5 * time.Minute
	}
	s.items = gocache.New(s.idleTTL, cleanup)
	s.items.OnEvicted(func(_ string, v any) {
		if r, ok := v.(*Resolver); ok {
			r.Close()
			s.deps.Metrics.SessionEnded()
		}
	})
	return s
}

// canonicalID accepts any uuid spelling and returns the lower-case form.
func canonicalID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Start opens a session. An empty id creates a new one; a known id (e.g. a
// browser coming back with its stored session) resumes it, warming the
// resolver from the cache if it is not live in this process.
func (s *Sessions) Start(ctx context.Context, id string, env device.Environment) (*Resolver, error) {
	if id == "" {
		id = uuid.NewString()
	} else {
		var err error
		if id, err = canonicalID(id); err != nil {
			return nil, errors.Wrap(ErrInvalidInput, "session id")
		}
	}

	if r, ok := s.touch(id); ok {
		r.SetEnvironment(env)
		return r, nil
	}

	r := NewResolver(id, env, s.deps)
	r.Warm(ctx)

	s.mu.Lock()
	if v, ok := s.items.Get(id); ok {
		s.items.SetDefault(id, v)
		s.mu.Unlock()
		existing := v.(*Resolver)
		existing.SetEnvironment(env)
		return existing, nil
	}
	s.items.SetDefault(id, r)
	s.mu.Unlock()

	s.deps.Metrics.SessionStarted()
	return r, nil
}

func (s *Sessions) Get(id string) (*Resolver, error) {
	id, err := canonicalID(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	r, ok := s.touch(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r, nil
}

func (s *Sessions) touch(id string) (*Resolver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items.Get(id)
	if !ok {
		return nil, false
	}
	s.items.SetDefault(id, v)
	return v.(*Resolver), true
}

// End tears the resolver down. The cached entry outlives the session.
func (s *Sessions) End(id string) error {
	id, err := canonicalID(id)
	if err != nil {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items.Get(id); !ok {
		return ErrSessionNotFound
	}
	// OnEvicted закрывает резолвер.
	s.items.Delete(id)
	return nil
}

func (s *Sessions) Len() int {
	return s.items.ItemCount()
}

// Close ends every session.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.DeleteExpired()
	for id := range s.items.Items() {
		s.items.Delete(id)
	}
}
