// Package resilience provides the circuit breaker and retry executor that
// guard upstream provider calls.
package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed allows all calls through.
	StateClosed State = "closed"

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen State = "open"

	// StateHalfOpen allows exactly one trial call through.
	StateHalfOpen State = "half_open"
)

// BreakerConfig controls the failure tracking and cooldown behavior of a
// single breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within Window that trips
	// the breaker.
	FailureThreshold int

	// Window is the sliding interval over which failures are counted.
	Window time.Duration

	// Cooldown is the initial open duration after a trip.
	Cooldown time.Duration

	// MaxCooldown caps the exponential cooldown growth on repeated trips.
	MaxCooldown time.Duration
}

// DefaultBreakerConfig returns conservative production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           30 * time.Second,
		Cooldown:         10 * time.Second,
		MaxCooldown:      5 * time.Minute,
	}
}

// TransitionFunc is invoked on every state change, outside the breaker lock.
type TransitionFunc func(provider string, from, to State)

// Breaker is a per-provider circuit breaker. Failures are counted over a
// sliding window; crossing the threshold opens the circuit for a cooldown
// that doubles on each consecutive trip, capped at MaxCooldown. After the
// cooldown, exactly one caller is admitted as a trial: success closes the
// circuit, failure reopens it.
type Breaker struct {
	provider string
	config   BreakerConfig

	mu            sync.Mutex
	state         State
	failures      []time.Time
	openedAt      time.Time
	cooldown      time.Duration
	trialInFlight bool

	onTransition TransitionFunc
	now          func() time.Time
}

// NewBreaker creates a closed breaker for a provider. onTransition may be
// nil.
func NewBreaker(provider string, config BreakerConfig, onTransition TransitionFunc) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.MaxCooldown < config.Cooldown {
		config.MaxCooldown = config.Cooldown
	}
	return &Breaker{
		provider:     provider,
		config:       config,
		state:        StateClosed,
		cooldown:     config.Cooldown,
		onTransition: onTransition,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the cooldown elapses, then admits a single trial call and
// moves to half-open. Concurrent callers during a half-open trial are
// rejected.
func (b *Breaker) Allow() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false
		}
		from := b.state
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return true

	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return false
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return true
	}

	b.mu.Unlock()
	return false
}

// Success records a successful call. A half-open trial success closes the
// circuit and resets the cooldown.
func (b *Breaker) Success() {
	b.mu.Lock()

	if b.state == StateHalfOpen {
		from := b.state
		b.state = StateClosed
		b.trialInFlight = false
		b.failures = nil
		b.cooldown = b.config.Cooldown
		b.mu.Unlock()
		b.notify(from, StateClosed)
		return
	}

	b.mu.Unlock()
}

// Failure records a failed call. In the closed state it may trip the
// breaker; a half-open trial failure reopens it with a doubled cooldown.
func (b *Breaker) Failure() {
	b.mu.Lock()
	now := b.now()

	switch b.state {
	case StateClosed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.config.FailureThreshold {
			b.openLocked(now, StateClosed)
			return
		}
		b.mu.Unlock()

	case StateHalfOpen:
		b.cooldown = min(b.cooldown*2, b.config.MaxCooldown)
		b.openLocked(now, StateHalfOpen)

	default:
		b.mu.Unlock()
	}
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// openLocked transitions to open and releases the lock.
func (b *Breaker) openLocked(now time.Time, from State) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = nil
	b.trialInFlight = false
	b.mu.Unlock()
	b.notify(from, StateOpen)
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

func (b *Breaker) notify(from, to State) {
	if b.onTransition != nil && from != to {
		b.onTransition(b.provider, from, to)
	}
}

// BreakerSet holds one independently locked breaker per provider.
type BreakerSet struct {
	mu           sync.RWMutex
	breakers     map[string]*Breaker
	config       BreakerConfig
	onTransition TransitionFunc
}

// NewBreakerSet creates an empty set; breakers are created lazily on first
// use with the shared config.
func NewBreakerSet(config BreakerConfig, onTransition TransitionFunc) *BreakerSet {
	return &BreakerSet{
		breakers:     make(map[string]*Breaker),
		config:       config,
		onTransition: onTransition,
	}
}

// Get returns the breaker for a provider, creating it if needed.
func (s *BreakerSet) Get(provider string) *Breaker {
	s.mu.RLock()
	breaker, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return breaker
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if breaker, ok := s.breakers[provider]; ok {
		return breaker
	}
	breaker = NewBreaker(provider, s.config, s.onTransition)
	s.breakers[provider] = breaker
	return breaker
}

// Healthy reports whether the provider's circuit would currently admit a
// call. An unknown provider is healthy.
func (s *BreakerSet) Healthy(provider string) bool {
	s.mu.RLock()
	breaker, ok := s.breakers[provider]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	switch breaker.State() {
	case StateClosed, StateHalfOpen:
		return true
	default:
		return false
	}
}

// States returns a snapshot of every tracked provider's state.
func (s *BreakerSet) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]State, len(s.breakers))
	for provider, breaker := range s.breakers {
		states[provider] = breaker.State()
	}
	return states
}
