// Package scheduler runs the per-instance delivery scan: fetch candidate
// deliveries, fetch today's alerts, skip what is already recorded as sent,
// resolve the destination group, dispatch, record, pace.
package scheduler

import (
	"context"
	"time"

	"alertbot/internal/eventbus"
	"alertbot/internal/storage"
	"alertbot/internal/transport"
	"alertbot/pkg/logx"
)

// InstanceControl is the slice of instance state the runner needs. The
// tick body spans many suspension points; Ready is re-checked across them
// because a concurrent power-off or disconnect can land at any of them.
type InstanceControl interface {
	// Ready reports whether the instance is still in its ready state and
	// the scheduler is still armed.
	Ready() bool
	// MarkDisconnected flips the instance out of ready after the transport
	// reported a closed session mid-dispatch.
	MarkDisconnected(cause error)
	// RecordTick stores the completion timestamp of the last scan pass.
	RecordTick(at time.Time)
	// IncSent bumps the instance's sent-today counter.
	IncSent()
}

// FormatFunc renders one alert into transport-ready text. It may suspend
// (link shortening) but must not fail: degraded text beats a lost alert.
type FormatFunc func(ctx context.Context, a storage.Alert) string

// Config for one runner.
type Config struct {
	InstanceID string
	// Interval between scan passes.
	Interval time.Duration
	// Pause after each successful send (backpressure toward the
	// transport, which penalizes burst sending).
	Pause time.Duration
}

// Deps are the runner's collaborators. Bus may be nil.
type Deps struct {
	Store  storage.Store
	Client transport.Client
	Cache  *Cache
	Format FormatFunc
	Inst   InstanceControl
	Bus    eventbus.Bus
	Log    logx.Logger
}
