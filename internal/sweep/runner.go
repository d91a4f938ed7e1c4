package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskdeps/internal/config"
)

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 30 * time.Second

// Sweeper promotes every pending task that is ready to start and reports how
// many were promoted. service.StatusService satisfies it.
type Sweeper interface {
	ProcessPendingTasks(ctx context.Context) (int, error)
}

// Runner calls a Sweeper on a fixed interval until stopped.
type Runner struct {
	sweeper    Sweeper
	interval   time.Duration
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
	logger     *slog.Logger
}

// NewRunner creates a Runner. It does not start sweeping until Start is called.
func NewRunner(sweeper Sweeper, cfg config.SweepConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sweeper:    sweeper,
		interval:   interval,
		ctx:        ctx,
		cancelFunc: cancel,
		logger:     logger.With("component", "sweep_runner"),
	}
}

// Interval returns the time between sweeps.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Start launches the sweep loop. The first sweep runs immediately; later
// sweeps run once per interval. Sweeps never overlap. Calling Start more
// than once has no effect.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.logger.Info("starting sweep runner", "interval", r.interval.String())
		r.wg.Add(1)
		go r.loop()
	})
}

// Stop cancels any sweep in progress and waits for the loop to exit.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancelFunc()
		r.wg.Wait()
		r.logger.Info("sweep runner stopped")
	})
}

// RunOnce performs a single sweep with the given context.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	promoted, err := r.sweeper.ProcessPendingTasks(ctx)
	if err != nil {
		r.logger.Error("sweep failed",
			"error", err,
			"promoted", promoted,
			"duration_ms", time.Since(start).Milliseconds())
		return promoted, err
	}
	if promoted > 0 {
		r.logger.Info("sweep promoted tasks", "promoted", promoted)
	} else {
		r.logger.Debug("sweep found nothing to promote")
	}
	return promoted, nil
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	_, _ = r.RunOnce(r.ctx)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.RunOnce(r.ctx)
		}
	}
}
