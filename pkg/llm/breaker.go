package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the circuit breaker around the model boundary.
type BreakerConfig struct {
	// FailureThreshold is the consecutive ErrUnavailable count that
	// opens the breaker.
	FailureThreshold int `yaml:"failure_threshold"`
	// Cooldown is how long the breaker stays open before allowing
	// half-open trial calls.
	Cooldown time.Duration `yaml:"cooldown"`
	// HalfOpenTrials is the number of consecutive successful trial
	// calls required to close the breaker again.
	HalfOpenTrials int `yaml:"half_open_trials"`
}

// DefaultBreakerConfig returns the standard settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenTrials:   2,
	}
}

// BreakerClient is a circuit breaker decorator around a Client.
// After FailureThreshold consecutive upstream outages it opens and
// fails fast with ErrUnavailable instead of incurring repeated
// timeouts; after Cooldown a limited number of trial calls decide
// whether to close again.
type BreakerClient struct {
	inner Client
	cfg   BreakerConfig
	now   func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	successes     int
	openedAt      time.Time
	trialInFlight bool

	// onStateChange is an optional hook for metrics.
	onStateChange func(BreakerState)
}

// NewBreakerClient wraps a client with circuit breaking.
func NewBreakerClient(inner Client, cfg BreakerConfig) *BreakerClient {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = def.HalfOpenTrials
	}
	return &BreakerClient{
		inner: inner,
		cfg:   cfg,
		now:   time.Now,
		state: BreakerClosed,
	}
}

// OnStateChange registers a hook invoked on every state transition.
// Must be called before the breaker is shared across goroutines.
func (b *BreakerClient) OnStateChange(fn func(BreakerState)) {
	b.onStateChange = fn
}

// State returns the current breaker state.
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Complete implements Client with fast-fail semantics when open.
func (b *BreakerClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if err := b.admit(); err != nil {
		return nil, err
	}

	resp, err := b.inner.Complete(ctx, req)
	b.record(err)
	return resp, err
}

// admit decides whether a call may proceed given the current state.
func (b *BreakerClient) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		}
		b.transition(BreakerHalfOpen)
		b.successes = 0
		b.trialInFlight = true
		return nil
	case BreakerHalfOpen:
		// One trial at a time keeps the half-open probe cheap.
		if b.trialInFlight {
			return fmt.Errorf("%w: circuit breaker half-open, trial in flight", ErrUnavailable)
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// record updates state from a call outcome. Only ErrUnavailable counts
// as a breaker failure — malformed output or caller cancellation say
// nothing about upstream health.
func (b *BreakerClient) record(err error) {
	isOutage := err != nil && isUnavailable(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if isOutage {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.open()
			}
		} else if err == nil {
			b.failures = 0
		}
	case BreakerHalfOpen:
		b.trialInFlight = false
		if isOutage {
			b.open()
		} else if err == nil {
			b.successes++
			if b.successes >= b.cfg.HalfOpenTrials {
				b.transition(BreakerClosed)
				b.failures = 0
			}
		}
	}
}

func (b *BreakerClient) open() {
	b.transition(BreakerOpen)
	b.openedAt = b.now()
	b.successes = 0
	b.trialInFlight = false
}

func (b *BreakerClient) transition(next BreakerState) {
	if b.state == next {
		return
	}
	slog.Warn("Model circuit breaker state change", "from", b.state, "to", next)
	b.state = next
	if b.onStateChange != nil {
		b.onStateChange(next)
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
