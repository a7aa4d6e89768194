package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/loom/pkg/agent/resources"
	"github.com/entrhq/loom/pkg/agent/stream"
	"github.com/entrhq/loom/pkg/agent/transcript"
	"github.com/entrhq/loom/pkg/types"
)

// SessionState is the position of a session in its loop.
type SessionState string

const (
	StateRunning      SessionState = "running"       // StateRunning waits on the model.
	StateAwaitingTool SessionState = "awaiting_tool" // StateAwaitingTool waits on a tool handler.
	StateSynthesizing SessionState = "synthesizing"  // StateSynthesizing runs the final tool-free pass.
	StateDone         SessionState = "done"          // StateDone ended with a Complete event.
	StateFailed       SessionState = "failed"        // StateFailed ended with an Error event.
)

// IsTerminal reports whether no further turns can be submitted.
func (s SessionState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

var (
	// ErrSessionBusy is returned when a turn is submitted while another is running.
	ErrSessionBusy = errors.New("session is already processing a turn")

	// ErrSessionClosed is returned when a turn is submitted after the session ended.
	ErrSessionClosed = errors.New("session has ended")

	// ErrIterationLimit ends a session that did not complete after the forced-completion turn.
	ErrIterationLimit = errors.New("iteration limit reached without completion")

	// ErrEmptyTurns ends a session whose model keeps returning empty turns.
	ErrEmptyTurns = errors.New("model returned too many empty turns")

	// ErrCircuitBreaker ends a session after too many consecutive tool or protocol errors.
	ErrCircuitBreaker = errors.New("circuit breaker triggered")
)

// Stats is a point-in-time view of a session.
type Stats struct {
	StartedAt time.Time

	ID    string
	Model string
	State SessionState

	Usage types.TokenUsage

	Iterations  int
	ToolCalls   int
	ToolErrors  int
	CachedCalls int
	EmptyTurns  int
}

// Session is one run of the loop toward a final artifact. Its transcript is
// owned exclusively by the session.
type Session struct {
	StartedAt time.Time
	engine    *Engine

	transcript *transcript.Transcript
	pipeline   *stream.Pipeline

	// resources accumulates caller attachments for resource binding.
	resources *resources.Set
	inputs    []resources.Resource

	ID             string
	model          string
	FallbackModels []string
	instructions   string

	lastErrors []string

	stats Stats

	// lastMilestone is the iteration count at the last reminder.
	lastMilestone int

	mu      sync.Mutex
	state   SessionState
	running bool
}

// StartSession creates a session. An empty model and nil fallbacks use the
// configured llm.model and llm.fallback_models. systemPrompt holds the task
// instructions; tool usage guidance is added by the engine.
func (e *Engine) StartSession(model string, fallbacks []string, systemPrompt string) *Session {
	if model == "" {
		model = e.cfg.LLM.Model
	}
	if fallbacks == nil {
		fallbacks = e.cfg.LLM.FallbackModels
	}

	id := uuid.NewString()
	s := &Session{
		ID:             id,
		StartedAt:      time.Now(),
		engine:         e,
		transcript:     transcript.New(id, e.sink),
		pipeline:       stream.NewPipeline(),
		model:          model,
		FallbackModels: append([]string(nil), fallbacks...),
		instructions:   systemPrompt,
		state:          StateRunning,
	}
	s.stats.ID = id
	s.stats.StartedAt = s.StartedAt

	s.transcript.Append(types.NewSystemMessage(s.buildSystemPrompt()))
	agentDebugLog.Infof("Session %s started with model %s, fallbacks %v", id, model, s.FallbackModels)
	return s
}

// SubmitTurn sends user input with optional attachments and runs the loop
// until the session completes or fails. The returned channel carries the
// turn's events and is closed after the single terminal event.
//
// Cancelling ctx ends the session with an Error event.
func (s *Session) SubmitTurn(ctx context.Context, input string, attachments ...types.Attachment) <-chan types.StreamEvent {
	consumer := stream.NewConsumer(ctx, s.engine.bufferSize)

	if err := s.begin(); err != nil {
		go consumer.Fail(err, nil)
		return consumer.Events()
	}

	go s.run(ctx, consumer, types.NewInput(input, attachments...))
	return consumer.Events()
}

// Model returns the session's current default model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Model = s.model
	st.State = s.state
	return st
}

// Transcript returns a copy of the full message history.
func (s *Session) Transcript() []*types.Message {
	return s.transcript.Messages()
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return ErrSessionClosed
	}
	if s.running {
		return ErrSessionBusy
	}
	s.running = true
	return nil
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

func (s *Session) update(fn func(st *Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// run drives one submitted turn to its terminal event.
func (s *Session) run(ctx context.Context, consumer *stream.Consumer, input *types.Input) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.addResources(input.Attachments)
	s.transcript.Append(input.Message())

	artifact, err := s.runAgentLoop(ctx, consumer)
	if err != nil {
		s.setState(StateFailed)
		agentDebugLog.Warnf("Session %s failed after %d iterations: %v", s.ID, s.Stats().Iterations, err)
		consumer.Fail(err, artifact)
		return
	}

	s.setState(StateDone)
	agentDebugLog.Infof("Session %s completed (%s) after %d iterations", s.ID, artifact.Source, artifact.Iterations)
	consumer.Complete(artifact)
}

// addResources assigns IDs to new attachments and adds them to the binding set.
func (s *Session) addResources(atts []types.Attachment) {
	if len(atts) == 0 {
		return
	}
	for i := range atts {
		if atts[i].ID == "" {
			atts[i].ID = uuid.NewString()
		}
		s.inputs = append(s.inputs, resources.Resource{
			Data:     atts[i].Data,
			MimeType: atts[i].MimeType,
			Index:    atts[i].Index,
		})
	}
	s.resources = resources.NewSet(s.inputs...)
}

func (s *Session) emitNotice(consumer *stream.Consumer, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	agentDebugLog.Debugf("Session %s: %s", s.ID, msg)
	consumer.Emit(types.NewNoticeEvent(msg))
}
