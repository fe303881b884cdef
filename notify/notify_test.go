package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/hearth/types"
)

func TestNewExitNotice(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	n := NewExitNotice("sess-1", types.ExitRecord{
		Source: "platform", Name: "audio", Pid: 42, ExitCode: 1, Essential: true, At: at,
	})
	assert.Equal(t, EventTypeProcessExited, n.EventType)
	assert.Equal(t, types.Version, n.Version)
	assert.Equal(t, "sess-1", n.Session)
	assert.Equal(t, "audio", n.Name)
	assert.True(t, n.Essential)
	assert.Equal(t, "2026-03-01T11:00:00Z", n.Timestamp)

	zero := NewExitNotice("", types.ExitRecord{})
	assert.NotEmpty(t, zero.Timestamp)
}

func TestRetry(t *testing.T) {
	boom := errors.New("boom")

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(t.Context(), 3, time.Millisecond, func(context.Context) error {
			calls++
			if calls < 3 {
				return boom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts", func(t *testing.T) {
		calls := 0
		err := Retry(t.Context(), 2, time.Millisecond, func(context.Context) error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent stops", func(t *testing.T) {
		calls := 0
		err := Retry(t.Context(), 5, time.Millisecond, func(context.Context) error {
			calls++
			return Permanent(boom)
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		err := Retry(ctx, 1, time.Hour, func(context.Context) error { return boom })
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	assert.NoError(t, Permanent(nil))
}

// fakePublisher records notices. When gate is set, Publish blocks on it.
type fakePublisher struct {
	mu      sync.Mutex
	got     []*ExitNotice
	err     error
	gate    chan struct{}
	started chan struct{}
	closed  bool
}

func (p *fakePublisher) Publish(ctx context.Context, n *ExitNotice) error {
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, n)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, n := range p.got {
		out = append(out, n.Name)
	}
	return out
}

func TestSink_PublishesExits(t *testing.T) {
	pub := &fakePublisher{}
	s := NewSink(pub, SinkOptions{Session: "s"})

	s.RecordEvents("platform", []types.Event{types.NewStringEvent(0, types.EventTypeNotification, "x")})
	s.RecordExit(types.ExitRecord{Source: "platform", Name: "audio", ExitCode: 1, Essential: true})
	s.RecordExit(types.ExitRecord{Source: "user", Name: "weather"})
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"audio", "weather"}, pub.names())
	assert.True(t, pub.closed)
	published, failed, dropped := s.Stats()
	assert.Equal(t, [3]int64{2, 0, 0}, [3]int64{published, failed, dropped})

	s.RecordExit(types.ExitRecord{Name: "late"})
	assert.Len(t, pub.names(), 2, "exits after close are ignored")
	assert.NoError(t, s.Close())
}

func TestSink_EssentialOnly(t *testing.T) {
	pub := &fakePublisher{}
	s := NewSink(pub, SinkOptions{EssentialOnly: true})
	s.RecordExit(types.ExitRecord{Name: "weather"})
	s.RecordExit(types.ExitRecord{Name: "audio", Essential: true})
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"audio"}, pub.names())
}

func TestSink_FailuresAreCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("unreachable")}
	s := NewSink(pub, SinkOptions{})
	s.RecordExit(types.ExitRecord{Name: "audio"})
	require.NoError(t, s.Close())
	_, failed, _ := s.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewSink(pub, SinkOptions{QueueSize: 1})

	s.RecordExit(types.ExitRecord{Name: "first"})
	<-pub.started
	s.RecordExit(types.ExitRecord{Name: "second"})
	s.RecordExit(types.ExitRecord{Name: "third"})

	_, _, dropped := s.Stats()
	assert.Equal(t, int64(1), dropped)

	close(pub.gate)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"first", "second"}, pub.names())
}

func TestSink_CloseGivesUpAfterDrainTimeout(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	s := NewSink(pub, SinkOptions{DrainTimeout: 10 * time.Millisecond})
	s.RecordExit(types.ExitRecord{Name: "stuck"})

	start := time.Now()
	require.NoError(t, s.Close())
	assert.Less(t, time.Since(start), time.Second)
	_, failed, _ := s.Stats()
	assert.Equal(t, int64(1), failed)
}
