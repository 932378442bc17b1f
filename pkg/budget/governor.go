// Package budget enforces token, cost, and wall-clock ceilings for a
// single triage invocation. The governor is the only mutable state
// shared across concurrent specialists, so all charging is atomic.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned by Charge when a ceiling has been hit.
// Callers must terminate gracefully at their next check point and report
// exhausted status — never propagate this past the loop boundary.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Limits are the configured ceilings for one invocation.
// A zero value means the corresponding dimension is unlimited.
type Limits struct {
	MaxTokens   int
	MaxCost     float64
	MaxDuration time.Duration
}

// Remaining reports headroom per dimension. Unlimited dimensions report
// negative values.
type Remaining struct {
	Tokens int
	Cost   float64
	Time   time.Duration
}

// Snapshot is a point-in-time view of cumulative spend.
type Snapshot struct {
	Tokens  int
	Cost    float64
	Elapsed time.Duration
}

// Governor tracks cumulative spend against Limits. One governor is
// created per triage call and discarded on completion.
type Governor struct {
	limits Limits
	start  time.Time
	now    func() time.Time

	mu     sync.Mutex
	tokens int
	cost   float64
}

// NewGovernor creates a governor whose clock starts immediately.
func NewGovernor(limits Limits) *Governor {
	return newGovernorAt(limits, time.Now)
}

// newGovernorAt injects the clock for tests.
func newGovernorAt(limits Limits, now func() time.Time) *Governor {
	return &Governor{
		limits: limits,
		start:  now(),
		now:    now,
	}
}

// Charge records spend for one model or tool call. It admits the charge
// that crosses a ceiling (the in-flight call already happened) and
// rejects everything after. Overshoot is therefore bounded by one call.
func (g *Governor) Charge(tokens int, cost float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limits.MaxTokens > 0 && g.tokens >= g.limits.MaxTokens {
		return fmt.Errorf("%w: %d tokens spent, ceiling %d", ErrBudgetExceeded, g.tokens, g.limits.MaxTokens)
	}
	if g.limits.MaxCost > 0 && g.cost >= g.limits.MaxCost {
		return fmt.Errorf("%w: %.4f spent, ceiling %.4f", ErrBudgetExceeded, g.cost, g.limits.MaxCost)
	}
	if g.limits.MaxDuration > 0 && g.now().Sub(g.start) >= g.limits.MaxDuration {
		return fmt.Errorf("%w: elapsed %s, ceiling %s", ErrBudgetExceeded, g.now().Sub(g.start), g.limits.MaxDuration)
	}

	g.tokens += tokens
	g.cost += cost
	return nil
}

// Elapsed returns wall-clock time since the governor was created.
func (g *Governor) Elapsed() time.Duration {
	return g.now().Sub(g.start)
}

// Remaining returns per-dimension headroom. Exhausted dimensions report
// zero; unlimited ones report -1 (tokens/cost) or a negative duration.
func (g *Governor) Remaining() Remaining {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := Remaining{Tokens: -1, Cost: -1, Time: -1}
	if g.limits.MaxTokens > 0 {
		r.Tokens = max(0, g.limits.MaxTokens-g.tokens)
	}
	if g.limits.MaxCost > 0 {
		r.Cost = g.limits.MaxCost - g.cost
		if r.Cost < 0 {
			r.Cost = 0
		}
	}
	if g.limits.MaxDuration > 0 {
		r.Time = g.limits.MaxDuration - g.now().Sub(g.start)
		if r.Time < 0 {
			r.Time = 0
		}
	}
	return r
}

// Snapshot returns cumulative spend so far.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Tokens:  g.tokens,
		Cost:    g.cost,
		Elapsed: g.now().Sub(g.start),
	}
}
