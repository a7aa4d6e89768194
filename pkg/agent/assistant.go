package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/loom/pkg/agent/prompts"
	"github.com/entrhq/loom/pkg/agent/stream"
	"github.com/entrhq/loom/pkg/types"
)

// loopState is the per-turn bookkeeping of runAgentLoop.
type loopState struct {
	// forced is set once the forced-completion message was injected.
	forced     bool
	emptyTurns int
}

// runAgentLoop executes iterations until the completion tool is called or the
// session fails. A failure returns a partial artifact with the error.
func (s *Session) runAgentLoop(ctx context.Context, consumer *stream.Consumer) (*types.Artifact, error) {
	state := &loopState{}

	for {
		if err := ctx.Err(); err != nil {
			return s.partialArtifact("cancelled"), fmt.Errorf("session cancelled: %w", err)
		}

		s.checkIterationBudget(consumer, state)

		done, summary, err := s.executeIteration(ctx, consumer, state)
		if err != nil {
			if ctx.Err() != nil {
				return s.partialArtifact("cancelled"), fmt.Errorf("session cancelled: %w", ctx.Err())
			}
			return s.partialArtifact(failureReason(err)), err
		}
		if done {
			return s.synthesize(ctx, consumer, summary)
		}
	}
}

// checkIterationBudget injects the forced-completion message once the
// iteration limit is reached, and a reminder at every milestone before that.
func (s *Session) checkIterationBudget(consumer *stream.Consumer, state *loopState) {
	cfg := s.engine.cfg.Session
	iterations := s.Stats().Iterations

	if iterations >= cfg.MaxIterations {
		if !state.forced {
			state.forced = true
			s.appendCorrection(prompts.ForcedCompletionPrompt)
			s.emitNotice(consumer, "Iteration limit of %d reached; requesting completion.", cfg.MaxIterations)
		}
		return
	}

	if cfg.MilestoneInterval > 0 && iterations > 0 &&
		iterations%cfg.MilestoneInterval == 0 && iterations != s.lastMilestone {
		s.lastMilestone = iterations
		s.appendCorrection(prompts.BuildMilestoneReminder(iterations, cfg.MaxIterations))
	}
}

// executeIteration performs a single iteration of the loop.
// Returns (done, summary, err) where:
//   - done: the completion tool succeeded and summary holds its result
//   - err: the session cannot continue
func (s *Session) executeIteration(ctx context.Context, consumer *stream.Consumer, state *loopState) (bool, string, error) {
	// Step 1: Select the message window
	req, err := s.prepareRequest(false)
	if err != nil {
		return false, "", err
	}

	// Step 2: Stream the model response under the failover policy
	turn, err := s.callModel(ctx, consumer, req)
	if errors.Is(err, types.ErrBudgetExceeded) && ctx.Err() == nil {
		agentDebugLog.Warnf("Session %s: provider rejected the request size, retrying with the minimal window", s.ID)
		req, err = s.prepareRequest(true)
		if err != nil {
			return false, "", err
		}
		turn, err = s.callModel(ctx, consumer, req)
	}
	if err != nil {
		return false, "", err
	}

	// Step 3: Empty turns are corrected without counting an iteration
	if turn.Empty() {
		state.emptyTurns++
		s.update(func(st *Stats) { st.EmptyTurns++ })
		if state.emptyTurns > s.engine.cfg.Session.MaxEmptyTurns {
			return false, "", fmt.Errorf("%w: %d in a row", ErrEmptyTurns, state.emptyTurns)
		}
		agentDebugLog.Debugf("Session %s: empty turn %d", s.ID, state.emptyTurns)
		s.appendCorrection(prompts.BuildErrorRecoveryMessage(prompts.ErrorRecoveryContext{
			Type: prompts.ErrorTypeEmptyResponse,
		}))
		return false, "", nil
	}
	state.emptyTurns = 0

	s.update(func(st *Stats) { st.Iterations++ })
	s.recordUsage(req, turn)

	// Step 4: Locate tool calls
	parsed, err := s.engine.parser.Parse(turn.Text, turn.ToolCalls)
	if err != nil {
		s.transcript.Append(types.NewAssistantMessage(turn.Text))
		msg := prompts.BuildErrorRecoveryMessage(prompts.ErrorRecoveryContext{
			Type:           prompts.ErrorTypeInvalidCall,
			Error:          err,
			AvailableTools: s.toolNames(),
		})
		s.appendCorrection(msg)
		if s.trackError(msg) {
			return false, "", s.circuitBreakerError()
		}
		return false, "", nil
	}

	if !parsed.HasCalls() {
		s.transcript.Append(types.NewAssistantMessage(turn.Text))
		if state.forced {
			return false, "", ErrIterationLimit
		}
		return false, "", nil
	}

	// Step 5: Execute the calls
	return s.executeCalls(ctx, consumer, state, turn.Text, parsed.Calls)
}

// failureReason labels a failure in partial artifacts.
func failureReason(err error) string {
	var fatal *types.ProviderFatalError
	switch {
	case errors.Is(err, ErrIterationLimit):
		return "iteration_limit"
	case errors.Is(err, ErrEmptyTurns):
		return "empty_turns"
	case errors.Is(err, ErrCircuitBreaker):
		return "circuit_breaker"
	case errors.Is(err, types.ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.As(err, &fatal):
		if fatal.Timeout {
			return "timeout"
		}
		return "provider_failure"
	default:
		return "error"
	}
}
