package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescope/internal/model"
)

type captureAppender struct {
	mu     sync.Mutex
	events []model.Event
	block  chan struct{}
}

func (c *captureAppender) AppendEvent(_ context.Context, ev model.Event) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureAppender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNew_FillsIdentity(t *testing.T) {
	ev := New("run-1", model.PassMarket, "gate_verdict", map[string]any{"passed": true})
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, model.PassMarket, ev.Pass)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestBufferedSink_DeliversInOrder(t *testing.T) {
	app := &captureAppender{}
	sink := NewBuffered(app, 16)

	for i := 0; i < 5; i++ {
		sink.Emit(New("run-1", model.PassIntake, "step_complete", nil))
	}
	sink.Close()

	require.Equal(t, 5, app.count())
	assert.Zero(t, sink.Dropped())
}

func TestBufferedSink_DropsWhenFull(t *testing.T) {
	app := &captureAppender{block: make(chan struct{})}
	sink := NewBuffered(app, 1)

	// First event occupies the worker, second fills the buffer, the
	// rest must be dropped without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Emit(New("run-1", model.PassIntake, "step_complete", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	assert.Positive(t, sink.Dropped())
	close(app.block)
	sink.Close()
}

func TestMultiSink(t *testing.T) {
	app1 := &captureAppender{}
	app2 := &captureAppender{}
	s1 := NewBuffered(app1, 4)
	s2 := NewBuffered(app2, 4)

	MultiSink{s1, s2}.Emit(New("run-1", model.PassFinancial, "decision", nil))
	s1.Close()
	s2.Close()

	assert.Equal(t, 1, app1.count())
	assert.Equal(t, 1, app2.count())
}
