package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/taskdeps/internal/config"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSweeper records calls and the peak number of concurrent sweeps.
type countingSweeper struct {
	calls    int32
	active   int32
	peak     int32
	delay    time.Duration
	err      error
	promoted int

	mu   sync.Mutex
	ctxs []context.Context
}

func (s *countingSweeper) ProcessPendingTasks(ctx context.Context) (int, error) {
	atomic.AddInt32(&s.calls, 1)
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}

	s.mu.Lock()
	s.ctxs = append(s.ctxs, ctx)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.promoted, s.err
}

func TestNewRunner_DefaultInterval(t *testing.T) {
	r := NewRunner(&countingSweeper{}, config.SweepConfig{}, nil)
	assert.Equal(t, DefaultInterval, r.Interval())

	r = NewRunner(&countingSweeper{}, config.SweepConfig{Interval: time.Minute}, nil)
	assert.Equal(t, time.Minute, r.Interval())
}

func TestRunner_SweepsImmediatelyAndOnInterval(t *testing.T) {
	log, _ := logger.NewTestLogger(t)
	sweeper := &countingSweeper{}
	r := NewRunner(sweeper, config.SweepConfig{Enabled: true, Interval: 10 * time.Millisecond}, log)

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&sweeper.calls) >= 3 },
		time.Second, 5*time.Millisecond)
}

func TestRunner_SweepsDoNotOverlap(t *testing.T) {
	log, _ := logger.NewTestLogger(t)
	sweeper := &countingSweeper{delay: 25 * time.Millisecond}
	r := NewRunner(sweeper, config.SweepConfig{Enabled: true, Interval: time.Millisecond}, log)

	r.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sweeper.calls) >= 3 },
		2*time.Second, 5*time.Millisecond)
	r.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&sweeper.peak))
}

func TestRunner_StopCancelsInFlightSweep(t *testing.T) {
	log, _ := logger.NewTestLogger(t)
	sweeper := &countingSweeper{delay: time.Hour}
	r := NewRunner(sweeper, config.SweepConfig{Enabled: true, Interval: time.Hour}, log)

	r.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sweeper.calls) == 1 },
		time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	assert.ErrorIs(t, sweeper.ctxs[0].Err(), context.Canceled)
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	r := NewRunner(&countingSweeper{}, config.SweepConfig{Interval: time.Hour}, nil)
	r.Start()
	r.Stop()
	assert.NotPanics(t, r.Stop)
}

func TestRunner_StartTwiceRunsOneLoop(t *testing.T) {
	sweeper := &countingSweeper{}
	r := NewRunner(sweeper, config.SweepConfig{Interval: time.Hour}, nil)
	r.Start()
	r.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sweeper.calls) >= 1 },
		time.Second, time.Millisecond)
	r.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&sweeper.calls))
}

func TestRunner_RunOnce(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		log, logs := logger.NewTestLogger(t)
		r := NewRunner(&countingSweeper{promoted: 4}, config.SweepConfig{Interval: time.Hour}, log)

		promoted, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, promoted)
		assert.NotEmpty(t, logs.EntriesWithMessage(t, "sweep promoted tasks"))
	})

	t.Run("failure is logged and returned", func(t *testing.T) {
		log, logs := logger.NewTestLogger(t)
		boom := errors.New("database unavailable")
		r := NewRunner(&countingSweeper{err: boom}, config.SweepConfig{Interval: time.Hour}, log)

		_, err := r.RunOnce(context.Background())
		assert.ErrorIs(t, err, boom)

		entries := logs.EntriesWithMessage(t, "sweep failed")
		require.Len(t, entries, 1)
		assert.Equal(t, "ERROR", entries[0]["level"])
	})
}
