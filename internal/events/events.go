// Package events carries structured pipeline emissions to wherever they
// need to go. Sinks are fire-and-forget: orchestration never blocks on
// sink unavailability.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/model"
)

// Sink receives pipeline events. Emit must not block the caller.
type Sink interface {
	Emit(ev model.Event)
}

// New builds an event with id and timestamp filled in.
func New(runID string, pass model.Pass, kind string, payload map[string]any) model.Event {
	return model.Event{
		ID:        uuid.New().String(),
		RunID:     runID,
		Pass:      pass,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ZapSink logs events through the global zap logger.
type ZapSink struct{}

func (ZapSink) Emit(ev model.Event) {
	zap.L().Info("pipeline event",
		zap.String("event_id", ev.ID),
		zap.String("run_id", ev.RunID),
		zap.String("pass", string(ev.Pass)),
		zap.String("kind", ev.Kind),
		zap.Any("payload", ev.Payload),
	)
}

// Appender persists events; implemented by the store.
type Appender interface {
	AppendEvent(ctx context.Context, ev model.Event) error
}

// BufferedSink queues events and writes them asynchronously through an
// Appender. When the buffer is full the event is dropped and counted
// rather than blocking the pipeline.
type BufferedSink struct {
	ch       chan model.Event
	appender Appender
	timeout  time.Duration
	dropped  atomic.Int64
	wg       sync.WaitGroup
	closeOnce sync.Once
}

// NewBuffered starts a buffered sink with the given queue capacity.
func NewBuffered(appender Appender, capacity int) *BufferedSink {
	if capacity <= 0 {
		capacity = 256
	}
	s := &BufferedSink{
		ch:       make(chan model.Event, capacity),
		appender: appender,
		timeout:  5 * time.Second,
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *BufferedSink) drain() {
	defer s.wg.Done()
	for ev := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.appender.AppendEvent(ctx, ev); err != nil {
			zap.L().Warn("event sink: append failed",
				zap.String("event_id", ev.ID),
				zap.String("kind", ev.Kind),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Emit queues the event, dropping it if the buffer is full.
func (s *BufferedSink) Emit(ev model.Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded due to backpressure.
func (s *BufferedSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes queued events and stops the drain goroutine.
func (s *BufferedSink) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
	s.wg.Wait()
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ev model.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
