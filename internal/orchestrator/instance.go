// Package orchestrator owns the instance registry: it brings every
// configured messaging instance from cold start to an authenticated, ready
// state, arms its delivery scheduler, and tears everything down in order.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"alertbot/internal/eventbus"
	"alertbot/internal/scheduler"
	"alertbot/internal/transport"
	"alertbot/pkg/logx"
)

// State is the lifecycle state of one instance.
type State string

const (
	StateCreating     State = "CREATING"
	StateAwaitingAuth State = "AWAITING_AUTH"
	StateReady        State = "READY"
	StateDisconnected State = "DISCONNECTED"
	StateStopping     State = "STOPPING"
	StateError        State = "ERROR"
)

var (
	// ErrReadyTimeout: the connection did not signal ready within the
	// configured bound. A reportable outcome, not a crash; the instance
	// may still become ready on its own later.
	ErrReadyTimeout = errors.New("orchestrator: readiness timeout")

	// ErrRecreated: the pending wait was cut short because the instance
	// was torn down and rebuilt.
	ErrRecreated = errors.New("orchestrator: instance recreated")

	ErrNotReady = errors.New("orchestrator: instance not ready")
	ErrNotFound = errors.New("orchestrator: unknown instance")
)

// Instance is one tracked messaging identity. At most one connection and
// at most one armed scheduler exist per id at any time; the registry slot
// enforces the former, detachRunner the latter.
type Instance struct {
	id         string
	sessionDir string
	client     transport.Client
	cache      *scheduler.Cache

	bus eventbus.Bus
	log logx.Logger

	mu        sync.Mutex
	state     State
	identity  string
	runner    *scheduler.Runner
	lastRun   time.Time
	sentToday int64

	// Readiness is a single-fire signal: resolved with the account
	// identity on success, rejected with a cause on terminal failure
	// before readiness. Once makes double resolution impossible.
	readyOnce     sync.Once
	readyDone     chan struct{}
	readyIdentity string
	readyErr      error

	watcherDone chan struct{}
}

func newInstance(id, sessionDir string, bus eventbus.Bus, log logx.Logger) *Instance {
	return &Instance{
		id:          id,
		sessionDir:  sessionDir,
		bus:         bus,
		log:         log.With(logx.String("instance", id)),
		state:       StateCreating,
		readyDone:   make(chan struct{}),
		watcherDone: make(chan struct{}),
	}
}

func (in *Instance) ID() string { return in.id }

func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Instance) Identity() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.identity
}

// setConn installs the built client and its group cache. Guarded by mu: a
// concurrent power-off snapshot may read both at any point.
func (in *Instance) setConn(c transport.Client, cache *scheduler.Cache) {
	in.mu.Lock()
	in.client = c
	in.cache = cache
	in.mu.Unlock()
}

// conn returns the installed client and cache (nil before setConn).
func (in *Instance) conn() (transport.Client, *scheduler.Cache) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.client, in.cache
}

func (in *Instance) setState(s State) {
	in.mu.Lock()
	prev := in.state
	// Stopping is absorbing: a late lifecycle event (a ready racing a
	// power-off) must not revive a half-destroyed instance.
	if prev == StateStopping && s != StateStopping {
		in.mu.Unlock()
		return
	}
	in.state = s
	in.mu.Unlock()
	if prev == s {
		return
	}
	in.log.Info("instance state changed", logx.String("from", string(prev)), logx.String("to", string(s)))
	eventbus.Publish(in.bus, eventbus.Event{
		Type: eventbus.TopicInstanceState,
		Data: map[string]any{"instance": in.id, "state": string(s), "prev": string(prev)},
	})
}

// resolveReady fires the readiness signal with the account identity.
func (in *Instance) resolveReady(identity string) {
	in.readyOnce.Do(func() {
		in.readyIdentity = identity
		close(in.readyDone)
	})
}

// rejectReady fires the readiness signal with a terminal cause. A no-op
// once the signal has fired: a disconnect after READY rejects nothing.
func (in *Instance) rejectReady(cause error) {
	in.readyOnce.Do(func() {
		in.readyErr = cause
		close(in.readyDone)
	})
}

// awaitReady blocks until the signal fires, the timeout elapses, or ctx is
// cancelled. Multiple callers may wait on the same instance.
func (in *Instance) awaitReady(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-in.readyDone:
		return in.readyIdentity, in.readyErr
	case <-t.C:
		return "", ErrReadyTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// attachRunner records the armed scheduler; it refuses to double-arm.
func (in *Instance) attachRunner(r *scheduler.Runner) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.runner != nil || in.state != StateReady {
		return false
	}
	in.runner = r
	return true
}

// detachRunner clears and returns the scheduler handle (nil if disarmed).
func (in *Instance) detachRunner() *scheduler.Runner {
	in.mu.Lock()
	r := in.runner
	in.runner = nil
	in.mu.Unlock()
	return r
}

// ---- scheduler.InstanceControl ----

// Ready reports whether scheduler ticks should keep doing work.
func (in *Instance) Ready() bool {
	return in.State() == StateReady
}

// MarkDisconnected disarms the scheduler and flips the state after the
// transport reported a closed session. Recovery requires a fresh power-on.
func (in *Instance) MarkDisconnected(cause error) {
	if r := in.detachRunner(); r != nil {
		// Signal, don't wait: this may run inside the runner's own tick.
		r.Signal()
	}
	in.setState(StateDisconnected)
	in.rejectReady(cause)
}

func (in *Instance) RecordTick(at time.Time) {
	in.mu.Lock()
	in.lastRun = at
	in.mu.Unlock()
}

func (in *Instance) IncSent() {
	in.mu.Lock()
	in.sentToday++
	in.mu.Unlock()
}

func (in *Instance) resetSentToday() {
	in.mu.Lock()
	in.sentToday = 0
	in.mu.Unlock()
}

// Snapshot is the health view of one instance. Reading it never touches
// the transport.
type Snapshot struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	Identity     string    `json:"identity,omitempty"`
	LastRun      time.Time `json:"last_run,omitzero"`
	SentToday    int64     `json:"sent_today"`
	GroupsCached int       `json:"groups_cached"`
}

func (in *Instance) snapshot() Snapshot {
	in.mu.Lock()
	s := Snapshot{
		ID:        in.id,
		State:     in.state,
		Identity:  in.identity,
		LastRun:   in.lastRun,
		SentToday: in.sentToday,
	}
	cache := in.cache
	in.mu.Unlock()
	if cache != nil {
		s.GroupsCached = cache.Len()
	}
	return s
}
