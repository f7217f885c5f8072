package revalidator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/BearBump/PinBox/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	ServiceableDelay    time.Duration // default: 24 hours
	NotServiceableDelay time.Duration // default: 6 hours

	// Jitter spreads re-checks of pincodes first seen together.
	Jitter time.Duration // default: 0

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		ServiceableDelay:    24 * time.Hour,
		NotServiceableDelay: 6 * time.Hour,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Planner is shared by the revalidator's workers.
type Planner struct {
	cfg PlannerConfig

	mu sync.Mutex // guards r
	r  Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.ServiceableDelay <= 0 {
		cfg.ServiceableDelay = def.ServiceableDelay
	}
	if cfg.NotServiceableDelay <= 0 {
		cfg.NotServiceableDelay = def.NotServiceableDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Planner) NextCheckDelay(s models.Serviceability) time.Duration {
	d := p.cfg.NotServiceableDelay
	if s == models.ServiceabilityServiceable {
		d = p.cfg.ServiceableDelay
	}
	if sec := int(p.cfg.Jitter.Seconds()); sec > 0 {
		p.mu.Lock()
		n := p.r.Intn(sec + 1)
		p.mu.Unlock()
		d += time.Duration(n) * time.Second
	}
	return d
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
