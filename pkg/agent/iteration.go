package agent

import (
	"context"
	"errors"

	agentcontext "github.com/entrhq/loom/pkg/agent/context"
	"github.com/entrhq/loom/pkg/agent/prompts"
	"github.com/entrhq/loom/pkg/agent/stream"
	"github.com/entrhq/loom/pkg/agent/transcript"
	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/llm/failover"
	"github.com/entrhq/loom/pkg/types"
)

// prepareRequest builds the provider request for the next iteration. With
// minimal set only the system messages, the last user message and the latest
// invocation are sent.
func (s *Session) prepareRequest(minimal bool) (*llm.Request, error) {
	if last := s.transcript.Last(); last != nil && last.Role == types.RoleAssistant {
		s.appendCorrection(prompts.ContinuationPrompt)
	}

	history := transcript.StripDelivered(s.transcript.Messages(), s.transcript.Delivered)

	var (
		sel *agentcontext.Selection
		err error
	)
	if minimal {
		sel, err = s.engine.budget.FitMinimal(history)
	} else {
		sel, err = s.engine.budget.SelectWindow(history)
		if errors.Is(err, types.ErrBudgetExceeded) {
			agentDebugLog.Warnf("Session %s: no pruning tier fits, using the minimal window", s.ID)
			sel, err = s.engine.budget.FitMinimal(history)
		}
	}
	if err != nil {
		return nil, err
	}
	if sel.Tier != nil {
		agentDebugLog.Debugf("Session %s: pruned to tier %s (%d/%d tokens, %d messages)",
			s.ID, sel.Tier.Name(), sel.Estimated, sel.Limit, len(sel.Messages))
	}

	req := &llm.Request{
		Messages:  prompts.BuildMessages(sel.Messages),
		MaxTokens: s.engine.cfg.LLM.MaxTokens,
	}
	if s.engine.parser.NativeTools() {
		req.Tools = s.engine.registry.Definitions()
	}
	return req, nil
}

// callModel streams one turn, switching models as the failover policy
// decides. The model that answered becomes the session default.
func (s *Session) callModel(ctx context.Context, consumer *stream.Consumer, req *llm.Request) (*stream.Turn, error) {
	s.setState(StateRunning)
	return s.streamTurn(ctx, consumer, req)
}

// streamTurn runs req under the failover policy. Events of every attempt are
// forwarded to consumer; already streamed text is not retracted on retry.
func (s *Session) streamTurn(ctx context.Context, consumer *stream.Consumer, req *llm.Request) (*stream.Turn, error) {
	var turn *stream.Turn
	state := failover.NewRetryState(s.Model(), s.FallbackModels)

	notify := func(msg string) {
		s.emitNotice(consumer, "%s", msg)
	}

	model, err := s.engine.policy.Execute(ctx, state, notify, func(ctx context.Context, model string) error {
		provider, err := s.engine.providerFor(model)
		if err != nil {
			return err
		}
		attempt := *req
		attempt.Model = model

		chunks, err := provider.StreamChat(ctx, &attempt)
		if err != nil {
			return err
		}
		t, err := s.pipeline.Run(ctx, chunks, func(ev types.StreamEvent) { consumer.Emit(ev) })
		if err != nil {
			return err
		}
		turn = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if model != s.Model() {
		s.setModel(model)
		s.emitNotice(consumer, "Continuing with model %s.", model)
	}
	s.transcript.MarkDelivered(transcript.AttachmentIDs(req.Messages)...)
	return turn, nil
}

// recordUsage adds provider-reported usage, or an estimate when the provider
// reported none.
func (s *Session) recordUsage(req *llm.Request, turn *stream.Turn) {
	usage := types.TokenUsage{}
	if turn.Usage != nil {
		usage = *turn.Usage
	} else {
		est := s.engine.budget.Estimator()
		usage.PromptTokens = est.EstimateTokens(req.Messages)
		usage.CompletionTokens = est.EstimateTokens([]*types.Message{types.NewAssistantMessage(turn.Text)})
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	s.update(func(st *Stats) { st.Usage.Add(usage) })
}
