// Package agent drives tool-using model sessions.
//
// An Engine is built once per process from a config and a tool registry and
// is read-only afterwards. Each Session owns its transcript and runs one
// loop at a time:
//
//	engine, err := agent.NewEngine(cfg, registry, agent.WithProvider(provider))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close(context.Background())
//
//	session := engine.StartSession("", nil, "Review the attached pages.")
//	for ev := range session.SubmitTurn(ctx, "Start", pages...) {
//	    switch ev.Kind {
//	    case types.EventKindText:
//	        fmt.Print(ev.Delta)
//	    case types.EventKindComplete:
//	        fmt.Println(ev.Artifact.Content)
//	    case types.EventKindError:
//	        log.Println(ev.Error)
//	    }
//	}
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/loom/pkg/agent/cache"
	agentcontext "github.com/entrhq/loom/pkg/agent/context"
	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/llm/failover"
	"github.com/entrhq/loom/pkg/llm/tokenizer"
	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/store"
	"github.com/entrhq/loom/pkg/store/sqlite"
)

var agentDebugLog *logging.Logger

func init() {
	var err error
	agentDebugLog, err = logging.NewLogger("agent")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		agentDebugLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

// Engine holds everything sessions share. It is safe for concurrent use by
// many sessions and is not modified after NewEngine returns.
type Engine struct {
	cfg *config.Config

	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	parser     *tools.Parser
	budget     *agentcontext.Manager
	policy     *failover.Policy

	provider  llm.Provider
	providers map[string]llm.Provider

	cache cache.Cache
	sink  store.Sink

	// closers release resources the engine created itself, in order.
	closers []func(ctx context.Context) error

	tokenizer  *tokenizer.Tokenizer
	sleep      failover.SleepFunc
	limiter    *rate.Limiter
	bufferSize int
	noCache    bool
}

// EngineOption is a function that configures an engine
type EngineOption func(*Engine)

// WithProvider sets the backend used for every model without a specific provider.
func WithProvider(p llm.Provider) EngineOption {
	return func(e *Engine) {
		e.provider = p
	}
}

// WithModelProvider routes one model to its own backend, e.g. a fallback
// model served by a different vendor.
func WithModelProvider(model string, p llm.Provider) EngineOption {
	return func(e *Engine) {
		if e.providers == nil {
			e.providers = make(map[string]llm.Provider)
		}
		e.providers[model] = p
	}
}

// WithCache replaces the in-memory binary cache.
func WithCache(c cache.Cache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithoutCache disables result caching.
func WithoutCache() EngineOption {
	return func(e *Engine) {
		e.noCache = true
	}
}

// WithSink sets the transcript durability sink. It takes precedence over
// transcript.sqlite_path.
func WithSink(s store.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithTokenizer overrides the tokenizer loaded from budget.encoding.
func WithTokenizer(t *tokenizer.Tokenizer) EngineOption {
	return func(e *Engine) {
		e.tokenizer = t
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn failover.SleepFunc) EngineOption {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithLimiter replaces the limiter built from llm.requests_per_second.
func WithLimiter(l *rate.Limiter) EngineOption {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithBufferSize sets the event channel buffer size of each turn.
func WithBufferSize(size int) EngineOption {
	return func(e *Engine) {
		e.bufferSize = size
	}
}

// NewEngine builds an engine. A nil cfg uses config.DefaultConfig and a nil
// registry creates one honoring tools.disabled. The completion tool is
// registered when missing.
func NewEngine(cfg *config.Config, registry *tools.Registry, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.provider == nil && len(e.providers) == 0 {
		return nil, errors.New("no provider configured")
	}

	if registry == nil {
		var err error
		registry, err = tools.NewRegistry(cfg.Tools.Disabled...)
		if err != nil {
			return nil, err
		}
	}
	if !registry.Has(tools.TaskCompletionToolName) {
		if err := registry.Register(tools.NewTaskCompletionTool()); err != nil {
			return nil, fmt.Errorf("failed to register completion tool: %w", err)
		}
	}
	e.registry = registry

	if e.tokenizer == nil {
		tok, err := tokenizer.New(cfg.Budget.Encoding)
		if err != nil {
			agentDebugLog.Warnf("Token estimates use the character heuristic: %v", err)
		}
		e.tokenizer = tok
	}
	e.budget = agentcontext.NewManager(
		agentcontext.NewEstimator(e.tokenizer),
		cfg.Budget.ContextWindow,
		agentcontext.TiersFromConfig(cfg.Budget.Tiers)...,
	)

	if e.limiter == nil && cfg.LLM.RequestsPerSecond > 0 {
		burst := cfg.LLM.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RequestsPerSecond), burst)
	}
	e.policy = &failover.Policy{
		ProviderBackoffs: cfg.Retry.ProviderBackoffs,
		OtherBase:        cfg.Retry.OtherBase,
		OtherMaxRetries:  cfg.Retry.OtherMaxRetries,
		AttemptTimeout:   cfg.Session.CallTimeout,
		Limiter:          e.limiter,
		Sleep:            e.sleep,
	}

	if e.noCache {
		e.cache = nil
	} else if e.cache == nil && cfg.Cache.MaxEntries > 0 {
		e.cache = cache.NewMemory(cfg.Cache.MaxEntries)
	}
	e.dispatcher = tools.NewDispatcher(registry, e.cache, cfg.Cache.TTL)
	e.parser = tools.NewParser(registry, cfg.Tools.Protocol, cfg.Tools.Sentinels)

	if e.sink == nil {
		if err := e.openSink(); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// openSink wires the sqlite transcript sink when a path is configured.
func (e *Engine) openSink() error {
	path := e.cfg.Transcript.SQLitePath
	if path == "" {
		e.sink = store.NopSink{}
		return nil
	}

	writer, err := sqlite.Open(context.Background(), path)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	sink := store.NewAsyncSink(writer)
	e.sink = sink
	e.closers = append(e.closers,
		sink.Close,
		func(context.Context) error { return writer.Close() },
	)
	agentDebugLog.Infof("Persisting transcripts to %s", path)
	return nil
}

// Close flushes and releases resources the engine opened itself.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for _, c := range e.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Registry returns the tool registry shared by all sessions.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// providerFor returns the backend serving model.
func (e *Engine) providerFor(model string) (llm.Provider, error) {
	if p, ok := e.providers[model]; ok {
		return p, nil
	}
	if e.provider != nil {
		return e.provider, nil
	}
	return nil, fmt.Errorf("no provider for model %s", model)
}

// synthesisTimeout bounds a whole synthesis pass.
func (e *Engine) synthesisTimeout() time.Duration {
	return e.cfg.Session.SynthesisTimeout
}
