package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schmitthub/plexup/internal/logger"
)

// State is the Retryer's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateSucceeded
	StateExhausted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Attempt records one try of the retry loop.
type Attempt struct {
	Number  int
	Outcome Outcome
	Elapsed time.Duration
	Err     error
}

const (
	// DefaultMaxAttempts matches the workflow's retry ceiling.
	DefaultMaxAttempts = 3
	// DefaultAttemptTimeout bounds a single attempt.
	DefaultAttemptTimeout = 2 * time.Minute
)

// Retryer owns both the attempt loop and the recovery action, so the
// invariant "recovery runs before every retry, never after the last
// attempt" lives in one place instead of being split across externally
// triggered scripts.
//
// Attempts are strictly sequential: each retry removes and recreates the
// server container, so two attempts must never overlap.
type Retryer struct {
	// MaxAttempts is the attempt ceiling, default 3.
	MaxAttempts int
	// AttemptTimeout bounds each attempt, default 2 minutes. An attempt
	// past its deadline is cancelled before the next one starts.
	AttemptTimeout time.Duration
	// Recover runs after every failed attempt except the last. It must be
	// best-effort: for claimed instances the unclaim step has to tolerate
	// an unreachable server.
	Recover func(ctx context.Context, inst *Instance)

	state    State
	attempts []Attempt
}

// State returns the current state.
func (r *Retryer) State() State {
	return r.state
}

// Attempts returns the recorded attempts so far.
func (r *Retryer) Attempts() []Attempt {
	return r.attempts
}

// Do invokes fn until it succeeds or the attempt ceiling is reached.
// Terminal failure is fatal to the leg: the last error is returned wrapped
// and no further retries happen.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) (*Instance, error)) (*Instance, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	attemptTimeout := r.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		r.state = StateAttempting

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		start := time.Now()
		inst, err := fn(attemptCtx)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			r.attempts = append(r.attempts, Attempt{Number: n, Outcome: OutcomeSuccess, Elapsed: elapsed})
			r.state = StateSucceeded
			logger.Info().Int("attempt", n).Dur("elapsed", elapsed).Msg("bootstrap succeeded")
			return inst, nil
		}

		outcome := OutcomeError
		if errors.Is(err, ErrBootstrapTimeout) || errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		r.attempts = append(r.attempts, Attempt{Number: n, Outcome: outcome, Elapsed: elapsed, Err: err})
		lastErr = err

		logger.Warn().
			Int("attempt", n).
			Int("max_attempts", maxAttempts).
			Str("outcome", string(outcome)).
			Err(err).
			Msg("bootstrap attempt failed")

		// Outer cancellation ends the loop without further recovery.
		// Cancelled is not Exhausted: the attempt ceiling was never reached.
		if ctx.Err() != nil {
			r.state = StateCancelled
			return nil, fmt.Errorf("bootstrap cancelled after %d attempts: %w", len(r.attempts), ctx.Err())
		}

		if n < maxAttempts && r.Recover != nil {
			r.Recover(ctx, inst)
		}
	}

	r.state = StateExhausted
	return nil, fmt.Errorf("bootstrap failed after %d attempts: %w", len(r.attempts), lastErr)
}
