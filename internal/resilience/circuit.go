package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the breaker position for one upstream.
type CircuitState int

const (
	// CircuitClosed passes calls through normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cool-down elapses.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen rejects a call while the breaker cool-down is running.
// Callers treat it like any other source failure: the router moves to the
// next acquisition path instead of waiting the upstream out.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a breaker trips and recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold is how many failures in a row open the circuit.
	// Default: 5.
	FailureThreshold int

	// ResetTimeout is the open-state cool-down before probing. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is how many probes must succeed before the circuit
	// closes again. Default: 1.
	HalfOpenMaxProbes int

	// ShouldTrip decides which errors count toward the threshold. Nil
	// counts every non-nil error.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig is the breaker profile shared by the crawler,
// tikhub and cleaner upstreams.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker guards one upstream service.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	streak      int
	probes      int
	lastFailure time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a breaker, filling config zero values with
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open, and feeds the outcome back
// into the breaker state.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// State reports the effective state, accounting for an elapsed cool-down.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.coolDownElapsed() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	from := cb.state
	cb.state = CircuitClosed
	cb.streak = 0
	cb.probes = 0
	if from != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, CircuitClosed)
	}
}

func (cb *CircuitBreaker) coolDownElapsed() bool {
	return cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if !cb.coolDownElapsed() {
			return ErrCircuitOpen
		}
		cb.shift(CircuitHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && (cb.cfg.ShouldTrip == nil || cb.cfg.ShouldTrip(err)) {
		cb.streak++
		cb.lastFailure = cb.now()
		switch cb.state {
		case CircuitClosed:
			if cb.streak >= cb.cfg.FailureThreshold {
				cb.shift(CircuitOpen)
			}
		case CircuitHalfOpen:
			// A failed probe restarts the cool-down.
			cb.probes = 0
			cb.shift(CircuitOpen)
		}
		return
	}

	switch cb.state {
	case CircuitClosed:
		cb.streak = 0
	case CircuitHalfOpen:
		cb.probes++
		if cb.probes >= cb.cfg.HalfOpenMaxProbes {
			cb.streak = 0
			cb.probes = 0
			cb.shift(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) shift(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers is the per-upstream breaker registry the pipeline shares
// across runs.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates an empty registry with one shared config.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for an upstream, creating it on first use.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[service]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[service]; ok {
		return cb
	}
	cb = NewCircuitBreaker(sb.cfg)
	sb.breakers[service] = cb
	return cb
}

// States snapshots every known breaker, keyed by upstream name.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}
