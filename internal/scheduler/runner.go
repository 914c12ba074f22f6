package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alertbot/pkg/logx"
)

// Runner is one armed scheduler: a single goroutine looping on a ticker.
// Running the scan inline in that one goroutine makes overlapping ticks
// structurally impossible; there is no separate "tick in progress" flag to
// get wrong.
type Runner struct {
	cfg  Config
	deps Deps

	limiter *rate.Limiter

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewRunner(cfg Config, deps Deps) *Runner {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 1500 * time.Millisecond
	}
	return &Runner{
		cfg:  cfg,
		deps: deps,
		// burst 1, waited before each dispatch: the first send after an
		// idle stretch goes immediately, every consecutive send has the
		// full pause in front of it.
		limiter: rate.NewLimiter(rate.Every(cfg.Pause), 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the loop. ctx is the process-lifetime context, not a
// request context: the runner outlives whatever HTTP call armed it.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	r.deps.Log.Debug("scheduler armed",
		logx.String("instance", r.cfg.InstanceID),
		logx.Duration("interval", r.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-t.C:
			r.tick(ctx)
		}
	}
}

// Signal asks the loop to exit without waiting for an in-flight tick.
// The tick's own state checks make it no-op from here on.
func (r *Runner) Signal() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Stop signals the loop and waits for it to exit. A tick in flight is
// allowed to finish naturally; ctx bounds how long Stop waits for it.
func (r *Runner) Stop(ctx context.Context) error {
	r.Signal()
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// live reports whether the tick should keep doing externally visible work.
func (r *Runner) live() bool {
	return !r.stopped() && r.deps.Inst.Ready()
}
