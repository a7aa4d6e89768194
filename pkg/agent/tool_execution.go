package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/loom/pkg/agent/prompts"
	"github.com/entrhq/loom/pkg/agent/stream"
	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/types"
)

const (
	skippedAfterCompletion = "Not executed: the task was already completed."
	skippedWhenForced      = "Not executed: only task_completion may be called now."
)

// executeCalls resolves and dispatches the calls of one assistant turn in
// order. Returns (done, summary, err) like executeIteration.
func (s *Session) executeCalls(ctx context.Context, consumer *stream.Consumer, state *loopState, text string, calls []tools.Call) (bool, string, error) {
	invs := make([]types.ToolInvocation, len(calls))
	resolveErrs := make([]error, len(calls))
	for i, call := range calls {
		invs[i], resolveErrs[i] = s.engine.parser.Resolve(call)
	}
	s.transcript.Append(types.NewAssistantToolCallMessage(text, invs...))

	var (
		completed bool
		summary   string
	)
	for i, inv := range invs {
		if completed {
			s.appendToolResult(&types.ToolResult{CallID: inv.CallID, Name: inv.Name, Payload: skippedAfterCompletion})
			continue
		}

		if err := resolveErrs[i]; err != nil {
			msg := s.invalidCallMessage(inv.Name, err)
			s.appendToolResult(&types.ToolResult{CallID: inv.CallID, Name: inv.Name, Payload: msg, IsError: true})
			if s.trackError(msg) {
				return false, "", s.circuitBreakerError()
			}
			continue
		}

		// Structured calls were already announced by the stream pipeline.
		if inv.Encoding == types.EncodingEmbedded {
			consumer.Emit(types.NewToolEvent(inv))
		}

		loopBreaking := s.engine.registry.LoopBreaking(inv.Name)
		if state.forced && !loopBreaking {
			s.appendToolResult(&types.ToolResult{CallID: inv.CallID, Name: inv.Name, Payload: skippedWhenForced, IsError: true})
			continue
		}

		result := s.dispatch(ctx, inv)
		if err := ctx.Err(); err != nil {
			return false, "", err
		}

		if result.IsError {
			msg := prompts.BuildErrorRecoveryMessage(prompts.ErrorRecoveryContext{
				Type:     prompts.ErrorTypeToolExecution,
				ToolName: inv.Name,
				Error:    errors.New(result.Text()),
			})
			result.Payload = msg
			s.appendToolResult(result)
			if s.trackError(msg) {
				return false, "", s.circuitBreakerError()
			}
			continue
		}

		s.resetErrorTracking()
		s.appendToolResult(result)
		if loopBreaking {
			completed = true
			summary = result.Text()
		}
	}

	if state.forced && !completed {
		return false, "", ErrIterationLimit
	}
	return completed, summary, nil
}

// dispatch runs one invocation and updates the counters.
func (s *Session) dispatch(ctx context.Context, inv types.ToolInvocation) *types.ToolResult {
	s.setState(StateAwaitingTool)
	defer s.setState(StateRunning)

	agentDebugLog.Debugf("Session %s: dispatching %s (%s)", s.ID, inv.Name, inv.CallID)
	result := s.engine.dispatcher.Dispatch(ctx, inv, s.resources)

	s.update(func(st *Stats) {
		st.ToolCalls++
		if result.IsError {
			st.ToolErrors++
		}
		if result.Cached {
			st.CachedCalls++
		}
	})
	return result
}

// appendToolResult records a result answering an invocation of the last assistant message.
func (s *Session) appendToolResult(result *types.ToolResult) {
	msg := types.NewToolMessage(result)
	if result.IsError {
		msg.WithMetadata("is_error", true)
	}
	if result.Cached {
		msg.WithMetadata("cached", true)
	}
	s.transcript.Append(msg)
}

// invalidCallMessage explains an unresolvable invocation to the model.
func (s *Session) invalidCallMessage(name string, err error) string {
	rc := prompts.ErrorRecoveryContext{
		Type:           prompts.ErrorTypeInvalidCall,
		ToolName:       name,
		Error:          err,
		AvailableTools: s.toolNames(),
	}
	if errors.Is(err, tools.ErrToolNotFound) {
		rc.Type = prompts.ErrorTypeUnknownTool
	}
	return prompts.BuildErrorRecoveryMessage(rc)
}

// trackError records a consecutive failure. Returns true when the circuit
// breaker trips.
func (s *Session) trackError(msg string) bool {
	limit := s.engine.cfg.Session.MaxToolErrors
	s.lastErrors = append(s.lastErrors, msg)
	if len(s.lastErrors) > limit {
		s.lastErrors = s.lastErrors[len(s.lastErrors)-limit:]
	}
	return len(s.lastErrors) >= limit
}

// resetErrorTracking clears the streak after a successful call.
func (s *Session) resetErrorTracking() {
	s.lastErrors = s.lastErrors[:0]
}

func (s *Session) circuitBreakerError() error {
	last := ""
	if n := len(s.lastErrors); n > 0 {
		last = s.lastErrors[n-1]
	}
	return fmt.Errorf("%w: %d consecutive tool errors, last: %s", ErrCircuitBreaker, len(s.lastErrors), last)
}
