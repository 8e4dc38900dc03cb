package orchestrator

import "sync"

// CircuitState is the breaker's externally visible state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// circuitBreaker tracks consecutive task failures and, once a threshold is
// reached, opens to fail fast rather than keep admitting doomed tasks, per
// spec.md §4.6 step 8. Grounded on the counter shape of
// backoff.EffectivenessTracker, narrowed from a running success-rate
// average to a simple consecutive-failure trip since spec.md specifies a
// hard threshold rather than a rate.
type circuitBreaker struct {
	enabled   bool
	threshold int

	mu                  sync.Mutex
	consecutiveFailures int
	state               CircuitState
}

func newCircuitBreaker(enabled bool, threshold int) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &circuitBreaker{enabled: enabled, threshold: threshold, state: CircuitClosed}
}

// RecordSuccess resets the consecutive-failure counter. The breaker only
// fully closes again on the next external processBatch call (half-open
// reset), handled by Orchestrator.ProcessBatch re-creating this state, per
// spec.md §9 Open Question 1.
func (c *circuitBreaker) RecordSuccess() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
}

// RecordFailure increments the consecutive-failure counter and trips the
// breaker open once the threshold is reached.
func (c *circuitBreaker) RecordFailure() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures++
	if c.consecutiveFailures >= c.threshold {
		c.state = CircuitOpen
	}
}

// Open reports whether new admissions should be refused.
func (c *circuitBreaker) Open() bool {
	if !c.enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == CircuitOpen
}

// State returns the current externally visible state.
func (c *circuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
