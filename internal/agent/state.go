package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ierrors "github.com/kubeadapt/gpu-inventory/internal/errors"
	"github.com/kubeadapt/gpu-inventory/internal/transport"
)

// State is the lifecycle state of the push loop.
type State string

// Push loop states.
const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateStopped  State = "stopped"
)

const defaultRateLimitBackoff = 30 * time.Second

// StateMachine tracks the push loop state and handles transitions driven by
// the outcome of each push.
type StateMachine struct {
	mu           sync.RWMutex
	state        State
	stateReason  string
	backoffUntil time.Time
	clock        ierrors.Clock
}

// NewStateMachine creates a StateMachine starting in StateStarting.
func NewStateMachine(clock ierrors.Clock) *StateMachine {
	return &StateMachine{
		state: StateStarting,
		clock: clock,
	}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StateReason returns the human-readable reason for the current state.
func (sm *StateMachine) StateReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stateReason
}

// TransitionTo directly sets the state with a reason.
func (sm *StateMachine) TransitionTo(state State, reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = state
	sm.stateReason = reason
}

// HandlePushResult transitions state based on the error returned by a push.
// Credentials or endpoint problems stop the loop; rate limiting backs off;
// anything else is retried on the next tick.
func (sm *StateMachine) HandlePushResult(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch {
	case err == nil:
		sm.state = StateRunning
		sm.stateReason = ""
	case errors.Is(err, transport.ErrUnauthorized):
		sm.state = StateStopped
		sm.stateReason = "authentication failed"
	case errors.Is(err, transport.ErrGone):
		sm.state = StateStopped
		sm.stateReason = "endpoint retired"
	case errors.Is(err, transport.ErrRateLimited):
		sm.state = StateBackoff
		sm.stateReason = "rate limited"
		backoff, ok := transport.RetryAfter(err)
		if !ok {
			backoff = defaultRateLimitBackoff
		}
		sm.backoffUntil = sm.clock.Now().Add(backoff)
	default:
		// The push client already retried; keep the current state.
		sm.stateReason = fmt.Sprintf("push failed: %v", err)
	}
}

// IsBackoffExpired returns true if the backoff period has elapsed.
func (sm *StateMachine) IsBackoffExpired() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return !sm.clock.Now().Before(sm.backoffUntil)
}

// BackoffRemaining returns the duration until backoff expires, or 0 if expired.
func (sm *StateMachine) BackoffRemaining() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	remaining := sm.backoffUntil.Sub(sm.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
