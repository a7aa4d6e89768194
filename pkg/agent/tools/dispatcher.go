package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/entrhq/loom/pkg/agent/cache"
	"github.com/entrhq/loom/pkg/agent/resources"
	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/types"
)

var logger *logging.Logger

func init() {
	logger, _ = logging.NewLogger("tools")
}

// Dispatcher executes resolved invocations: it validates arguments, binds
// resource parameters, consults the cache and contains handler failures.
// It is safe for concurrent use by many sessions.
type Dispatcher struct {
	registry *Registry
	cache    cache.Cache
	group    singleflight.Group
	ttl      time.Duration

	sharedTimeout time.Duration
}

// DefaultSharedTimeout bounds a cached execution shared between callers.
const DefaultSharedTimeout = 5 * time.Minute

// NewDispatcher creates a dispatcher. c may be nil to disable caching.
func NewDispatcher(registry *Registry, c cache.Cache, ttl time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, cache: c, ttl: ttl, sharedTimeout: DefaultSharedTimeout}
}

// SetSharedTimeout bounds executions shared by identical concurrent calls.
// Non-positive values keep the current bound.
func (d *Dispatcher) SetSharedTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.sharedTimeout = timeout
	}
}

// Registry returns the registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs inv and always returns a result. Failures are reported as
// error results so the session can feed them back to the model.
func (d *Dispatcher) Dispatch(ctx context.Context, inv types.ToolInvocation, set *resources.Set) *types.ToolResult {
	tool, err := d.registry.Resolve(inv.Name)
	if err != nil {
		return types.NewErrorResult(inv, &types.ProtocolError{Err: err, ToolName: inv.Name})
	}

	args, err := tool.Schema().Coerce(inv.Arguments)
	if err != nil {
		return types.NewErrorResult(inv, &types.ProtocolError{
			Err:      fmt.Errorf("invalid arguments: %w", err),
			ToolName: inv.Name,
			Raw:      inv.ArgumentsJSON(),
		})
	}

	if err := bindResources(args, set); err != nil {
		return types.NewErrorResult(inv, &types.ToolExecutionError{Err: err, ToolName: inv.Name})
	}

	if d.cache == nil {
		return d.finish(inv, d.run(ctx, tool, args))
	}

	key := cache.Key(tool.Name(), args.Normalized())
	if data, ok := d.cache.Get(key); ok {
		result, derr := decodeCached(data)
		if derr == nil {
			logger.Debugf("cache hit for %s (%s)", inv.Name, key[:12])
			result.Cached = true
			return d.finish(inv, outcome{result: result})
		}
		logger.Warnf("discarding undecodable cache entry for %s: %v", inv.Name, derr)
	}

	if err := ctx.Err(); err != nil {
		return d.finish(inv, cancelled(tool, err))
	}

	// Identical concurrent calls from different sessions share one execution.
	// It is detached from the first caller; each waiter leaves on its own context.
	ch := d.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sharedTimeout)
		defer cancel()

		out := d.run(shared, tool, args)
		if out.err == nil && shouldCache(tool, out.result) {
			if data, err := encodeCached(out.result); err == nil {
				d.cache.PutAsync(key, data, d.ttl)
			} else {
				logger.Warnf("failed to encode %s result for cache: %v", inv.Name, err)
			}
		}
		return out, nil
	})

	select {
	case res := <-ch:
		return d.finish(inv, res.Val.(outcome))
	case <-ctx.Done():
		return d.finish(inv, cancelled(tool, ctx.Err()))
	}
}

func cancelled(tool Tool, err error) outcome {
	return outcome{err: &types.ToolExecutionError{Err: err, ToolName: tool.Name()}}
}

type outcome struct {
	result *types.ToolResult
	err    error
}

// run invokes the handler with panic recovery.
func (d *Dispatcher) run(ctx context.Context, tool Tool, args Arguments) (out outcome) {
	if err := ctx.Err(); err != nil {
		return outcome{err: &types.ToolExecutionError{Err: err, ToolName: tool.Name()}}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("tool %s panicked: %v\n%s", tool.Name(), r, debug.Stack())
			out = outcome{err: &types.ToolExecutionError{
				Err:      fmt.Errorf("%v", r),
				ToolName: tool.Name(),
				Panicked: true,
			}}
		}
	}()

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return outcome{err: &types.ToolExecutionError{Err: err, ToolName: tool.Name()}}
	}
	if result == nil {
		result = &types.ToolResult{}
	}
	return outcome{result: result}
}

// finish stamps a per-call copy of the outcome with the invocation identity.
func (d *Dispatcher) finish(inv types.ToolInvocation, out outcome) *types.ToolResult {
	if out.err != nil {
		return types.NewErrorResult(inv, out.err)
	}

	result := *out.result
	result.CallID = inv.CallID
	result.Name = inv.Name
	result.Attachments = make([]types.Attachment, len(out.result.Attachments))
	for i, a := range out.result.Attachments {
		if a.ID == "" || result.Cached {
			a.ID = uuid.NewString()
		}
		result.Attachments[i] = a
	}
	return &result
}

func bindResources(args Arguments, set *resources.Set) error {
	for name, v := range args {
		rv, ok := v.(ResourceValue)
		if !ok {
			continue
		}
		r, ok := set.Nearest(rv.Requested)
		if !ok {
			return fmt.Errorf("parameter %q: no resources available to bind index %d", name, rv.Requested)
		}
		if r.Index != rv.Requested {
			logger.Debugf("bound %s=%d to nearest resource %d", name, rv.Requested, r.Index)
		}
		rv.Resource = r
		rv.Bound = true
		args[name] = rv
	}
	return nil
}

func shouldCache(tool Tool, result *types.ToolResult) bool {
	if result == nil || result.IsError {
		return false
	}
	if len(result.Attachments) > 0 {
		return true
	}
	c, ok := tool.(Cacheable)
	return ok && c.Cacheable()
}

type cachedAttachment struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type cachedResult struct {
	Payload     json.RawMessage    `json:"payload"`
	Attachments []cachedAttachment `json:"attachments,omitempty"`
}

func encodeCached(r *types.ToolResult) ([]byte, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	c := cachedResult{Payload: payload}
	for _, a := range r.Attachments {
		c.Attachments = append(c.Attachments, cachedAttachment{MimeType: a.MimeType, Data: a.Data})
	}
	return json.Marshal(c)
}

func decodeCached(data []byte) (*types.ToolResult, error) {
	var c cachedResult
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	var payload interface{}
	if len(c.Payload) > 0 {
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			return nil, err
		}
	}
	result := &types.ToolResult{Payload: payload}
	for _, a := range c.Attachments {
		result.Attachments = append(result.Attachments, types.Attachment{MimeType: a.MimeType, Data: a.Data})
	}
	return result, nil
}
