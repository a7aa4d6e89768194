// Package failover runs provider calls under the model fallback and retry policy.
//
// Behavior per failure kind:
//   - rate limit: switch to the next untried model in preferred order without
//     spending retry budget. With no model left, back off on the current one.
//   - provider error: retry the same model after each configured backoff, then
//     walk the remaining models once each.
//   - timeout: fatal, reported as a session timeout.
//   - context overflow: returned wrapping types.ErrBudgetExceeded so the caller
//     can shrink the request.
//   - other: retry with base*attempt backoff, then fatal.
package failover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/types"
)

var logger *logging.Logger

func init() {
	logger, _ = logging.NewLogger("failover")
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// NotifyFunc receives human-readable notices about retries and model switches.
type NotifyFunc func(message string)

// RunFunc performs one provider call against model.
type RunFunc func(ctx context.Context, model string) error

// Policy holds the retry settings shared by every session. It is read-only after construction.
type Policy struct {
	// ProviderBackoffs are the waits before each same-model retry after a provider error.
	ProviderBackoffs []time.Duration

	// OtherBase is multiplied by the attempt number for unclassified failures.
	OtherBase       time.Duration
	OtherMaxRetries int

	// AttemptTimeout bounds each call. Zero means no per-call deadline.
	AttemptTimeout time.Duration

	// Limiter, when set, gates every attempt across all sessions.
	Limiter *rate.Limiter

	Sleep SleepFunc
}

// DefaultPolicy returns the standard backoff schedule.
func DefaultPolicy() *Policy {
	return &Policy{
		ProviderBackoffs: []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		OtherBase:        time.Second,
		OtherMaxRetries:  2,
	}
}

// Attempt records one call made under the policy.
type Attempt struct {
	Model    string
	Err      error
	Kind     llm.FailureKind
	Duration time.Duration
}

// RetryState is the per-call bookkeeping. Create a fresh one for every provider call.
type RetryState struct {
	// Models is the preferred order: session default first, then fallbacks.
	Models []string

	// Attempted holds every model tried during this call.
	Attempted map[string]bool

	RemainingRetries int
	LastError        error
	Attempts         []Attempt
}

// NewRetryState creates state for a call starting at current.
func NewRetryState(current string, fallbacks []string) *RetryState {
	models := []string{current}
	for _, m := range fallbacks {
		if m != "" && m != current {
			models = append(models, m)
		}
	}
	return &RetryState{
		Models:    models,
		Attempted: make(map[string]bool, len(models)),
	}
}

// nextModel returns the first model in preferred order not yet attempted.
func (s *RetryState) nextModel() (string, bool) {
	for _, m := range s.Models {
		if !s.Attempted[m] {
			return m, true
		}
	}
	return "", false
}

func (s *RetryState) tried() []string {
	out := make([]string, 0, len(s.Attempted))
	for _, m := range s.Models {
		if s.Attempted[m] {
			out = append(out, m)
		}
	}
	return out
}

// Execute runs fn under the policy and returns the model that succeeded.
// The caller should adopt that model as its default when it differs from the first.
func (p *Policy) Execute(ctx context.Context, state *RetryState, notify NotifyFunc, fn RunFunc) (string, error) {
	if len(state.Models) == 0 || state.Models[0] == "" {
		return "", fmt.Errorf("failover: no model configured")
	}
	if notify == nil {
		notify = func(string) {}
	}

	model := state.Models[0]
	state.RemainingRetries = len(p.ProviderBackoffs)
	otherRetries := p.OtherMaxRetries
	otherAttempt := 0
	walking := false // true once same-model retries are spent

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		state.Attempted[model] = true
		start := time.Now()
		err := p.runAttempt(ctx, model, fn)
		if err == nil {
			return model, nil
		}

		failure := llm.ClassifyError(err, model)
		if failure == nil {
			// Caller cancellation.
			return "", err
		}
		state.LastError = failure
		state.Attempts = append(state.Attempts, Attempt{
			Model:    model,
			Err:      err,
			Kind:     failure.Kind,
			Duration: time.Since(start),
		})
		logger.Warnf("attempt %d on %s failed (%s): %v", len(state.Attempts), model, failure.Kind, err)

		switch failure.Kind {
		case llm.FailureTimeout:
			notify(fmt.Sprintf("Model %s timed out.", model))
			return "", &types.ProviderFatalError{Err: failure, Models: state.tried(), Timeout: true}

		case llm.FailureContextOverflow:
			notify(fmt.Sprintf("Model %s rejected the request as too large.", model))
			return "", fmt.Errorf("model %s: %w", model, errors.Join(types.ErrBudgetExceeded, failure))

		case llm.FailureRateLimit:
			if next, ok := state.nextModel(); ok {
				notify(fmt.Sprintf("Model %s is rate limited; switching to %s.", model, next))
				model = next
				continue
			}
			if !p.retrySameModel(ctx, state, model, "rate limited", notify) {
				return "", p.fatal(ctx, state, failure)
			}

		case llm.FailureProvider:
			if !walking && p.retrySameModel(ctx, state, model, "provider error", notify) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return "", err
			}
			walking = true
			next, ok := state.nextModel()
			if !ok {
				return "", p.fatal(ctx, state, failure)
			}
			notify(fmt.Sprintf("Model %s keeps failing; falling back to %s.", model, next))
			model = next

		default:
			if otherRetries <= 0 {
				return "", p.fatal(ctx, state, failure)
			}
			otherRetries--
			otherAttempt++
			wait := p.OtherBase * time.Duration(otherAttempt)
			notify(fmt.Sprintf("Call to %s failed; retrying in %s.", model, wait))
			if err := p.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
	}
}

// retrySameModel waits out the next provider backoff. It returns false when none remain.
func (p *Policy) retrySameModel(ctx context.Context, state *RetryState, model, reason string, notify NotifyFunc) bool {
	if state.RemainingRetries <= 0 {
		return false
	}
	idx := len(p.ProviderBackoffs) - state.RemainingRetries
	wait := p.ProviderBackoffs[idx]
	state.RemainingRetries--
	notify(fmt.Sprintf("Model %s: %s; retrying in %s (%d/%d).", model, reason, wait, idx+1, len(p.ProviderBackoffs)))
	return p.sleep(ctx, wait) == nil
}

func (p *Policy) runAttempt(ctx context.Context, model string, fn RunFunc) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx, model)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	err := fn(attemptCtx, model)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		// Normalize whatever the transport returned on deadline expiry.
		return fmt.Errorf("call to %s exceeded %s: %w", model, p.AttemptTimeout, context.DeadlineExceeded)
	}
	return err
}

func (p *Policy) fatal(ctx context.Context, state *RetryState, failure *llm.Failure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return &types.ProviderFatalError{Err: failure, Models: state.tried()}
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepWithContext(ctx, d)
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
