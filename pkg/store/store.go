// Package store persists session transcripts without blocking the session loop.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/types"
)

var logger *logging.Logger

func init() {
	logger, _ = logging.NewLogger("store")
}

// Sink receives transcript snapshots. PersistAsync must return immediately;
// failures are the sink's concern and are never reported to the caller.
type Sink interface {
	PersistAsync(sessionID string, msgs []*types.Message)
}

// Writer durably stores a full transcript snapshot.
type Writer interface {
	Write(ctx context.Context, sessionID string, msgs []*types.Message) error
}

// NopSink discards snapshots.
type NopSink struct{}

// PersistAsync implements Sink.
func (NopSink) PersistAsync(string, []*types.Message) {}

// AsyncSink adapts a blocking Writer into a Sink. Snapshots for the same
// session coalesce: only the latest pending snapshot is written.
type AsyncSink struct {
	writer  Writer
	pending map[string][]*types.Message
	order   []string
	wake    chan struct{}
	done    chan struct{}
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithWriteTimeout bounds each Write call.
func WithWriteTimeout(d time.Duration) AsyncOption {
	return func(s *AsyncSink) {
		s.timeout = d
	}
}

// NewAsyncSink starts a background worker writing snapshots through w.
func NewAsyncSink(w Writer, opts ...AsyncOption) *AsyncSink {
	s := &AsyncSink{
		writer:  w,
		pending: make(map[string][]*types.Message),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// PersistAsync queues msgs as the latest snapshot for sessionID.
func (s *AsyncSink) PersistAsync(sessionID string, msgs []*types.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logger.Warnf("dropping snapshot for session %s: sink closed", sessionID)
		return
	}
	if _, queued := s.pending[sessionID]; !queued {
		s.order = append(s.order, sessionID)
	}
	s.pending[sessionID] = msgs

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.mu.Unlock()
}

// Close flushes pending snapshots and stops the worker.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.wake)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("transcript sink did not flush before deadline"), ctx.Err())
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for range s.wake {
		s.flush()
	}
	s.flush()
}

func (s *AsyncSink) flush() {
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			s.mu.Unlock()
			return
		}
		id := s.order[0]
		s.order = s.order[1:]
		msgs := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.writer.Write(ctx, id, msgs); err != nil {
			logger.Errorf("failed to persist transcript for session %s (%d messages): %v", id, len(msgs), err)
		}
		cancel()
	}
}

// MemoryWriter keeps the latest snapshot per session in memory.
type MemoryWriter struct {
	snapshots map[string][]*types.Message
	writes    int
	mu        sync.Mutex
}

// NewMemoryWriter creates an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{snapshots: make(map[string][]*types.Message)}
}

// Write implements Writer.
func (w *MemoryWriter) Write(_ context.Context, sessionID string, msgs []*types.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshots[sessionID] = msgs
	w.writes++
	return nil
}

// Snapshot returns the last written snapshot for sessionID.
func (w *MemoryWriter) Snapshot(sessionID string) []*types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshots[sessionID]
}

// Writes returns the number of Write calls.
func (w *MemoryWriter) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
