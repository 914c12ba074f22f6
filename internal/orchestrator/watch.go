package orchestrator

import (
	"errors"
	"fmt"

	"alertbot/internal/eventbus"
	"alertbot/internal/scheduler"
	"alertbot/internal/transport"
	"alertbot/pkg/logx"
)

// watch consumes one instance's lifecycle stream until the client closes
// it. It is the only writer of lifecycle-driven state transitions, which
// keeps the "first ready, or first failure before ready" race inside one
// goroutine.
func (m *Manager) watch(inst *Instance) {
	defer close(inst.watcherDone)
	client, _ := inst.conn()
	for ev := range client.Events() {
		switch ev.Kind {
		case transport.EventQR:
			inst.setState(StateAwaitingAuth)
			// The challenge is forwarded to observers; the operator scans
			// it out-of-band.
			eventbus.Publish(m.deps.Bus, eventbus.Event{
				Type: eventbus.TopicInstanceQR,
				Data: map[string]any{"instance": inst.id, "challenge": ev.Payload},
			})

		case transport.EventReady:
			inst.mu.Lock()
			inst.identity = ev.Identity
			inst.mu.Unlock()
			inst.setState(StateReady)
			m.arm(inst)
			inst.resolveReady(ev.Identity)

		case transport.EventAuthFailure:
			cause := ev.Err
			if cause == nil {
				cause = transport.ErrAuthFailure
			} else if !errors.Is(cause, transport.ErrAuthFailure) {
				cause = fmt.Errorf("%w: %s", transport.ErrAuthFailure, cause)
			}
			inst.setState(StateError)
			inst.rejectReady(cause)

		case transport.EventDisconnected:
			cause := ev.Err
			if cause == nil {
				cause = transport.ErrSessionClosed
			}
			// Before readiness this rejects the pending signal instead of
			// letting callers hang until timeout; after readiness the
			// signal has fired and this only disarms and flips state.
			inst.MarkDisconnected(fmt.Errorf("disconnected: %w", cause))
		}
	}
	m.log.Debug("lifecycle stream closed", logx.String("instance", inst.id))
}

// arm starts the delivery scheduler for a ready instance. attachRunner
// refuses a second scheduler, so a duplicate ready event cannot double-arm;
// the registry check refuses an instance a power-off already let go of.
func (m *Manager) arm(inst *Instance) {
	if !m.tracks(inst) {
		return
	}
	cfg := m.config()
	client, cache := inst.conn()
	r := scheduler.NewRunner(scheduler.Config{
		InstanceID: inst.id,
		Interval:   cfg.ScanInterval,
		Pause:      cfg.MessagePause,
	}, scheduler.Deps{
		Store:  m.deps.Store,
		Client: client,
		Cache:  cache,
		Format: m.deps.Format,
		Inst:   inst,
		Bus:    m.deps.Bus,
		Log:    m.log,
	})
	if !inst.attachRunner(r) {
		return
	}
	r.Start(m.baseCtx)
}
