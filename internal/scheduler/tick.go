package scheduler

import (
	"context"
	"time"

	"alertbot/internal/eventbus"
	"alertbot/internal/storage"
	"alertbot/internal/transport"
	"alertbot/pkg/logx"
)

// tick is one full scan-and-send pass. Every store or transport call is a
// suspension point across which instance state may change, so liveness is
// re-checked before every externally visible action.
//
// Failure policy (per alert, per tick):
//   - already sent             -> skip, never re-send
//   - group unresolved         -> leave pending, continue
//   - destination not found    -> evict cache entry, leave pending, continue
//   - session closed           -> mark instance disconnected, abort tick
//   - store error              -> abort tick, instance state untouched
//   - any other send error     -> leave pending, continue
func (r *Runner) tick(ctx context.Context) {
	if !r.live() {
		return
	}
	log := r.deps.Log.With(logx.String("instance", r.cfg.InstanceID))

	start := time.Now()
	// The completion timestamp is recorded whether the scan finished or
	// aborted; health reports "last attempt", not "last clean pass".
	defer func() {
		at := time.Now()
		r.deps.Inst.RecordTick(at)
		eventbus.Publish(r.deps.Bus, eventbus.Event{
			Type: eventbus.TopicTickCompleted,
			Data: map[string]any{"instance": r.cfg.InstanceID, "took_ms": at.Sub(start).Milliseconds()},
		})
	}()

	deliveries, err := r.deps.Store.ListDeliveries(ctx, r.cfg.InstanceID)
	if err != nil {
		log.Warn("delivery scan aborted: store unavailable", logx.Err(err))
		return
	}

	for _, deliveryID := range deliveries {
		if !r.live() {
			return
		}
		alerts, err := r.deps.Store.ListTodayAlerts(ctx, deliveryID)
		if err != nil {
			log.Warn("delivery scan aborted: store unavailable", logx.Err(err))
			return
		}

		for _, a := range alerts {
			if !r.live() {
				return
			}
			if !r.dispatchOne(ctx, log, a) {
				return
			}
		}
	}
}

// dispatchOne handles one alert; it returns false when the whole tick must
// abort (session closed, store failure, shutdown).
func (r *Runner) dispatchOne(ctx context.Context, log logx.Logger, a storage.Alert) bool {
	alog := log.With(logx.Int64("delivery", a.DeliveryID), logx.Int64("alert", a.AlertID))

	sent, err := r.deps.Store.IsAlertSent(ctx, a.DeliveryID, a.AlertID)
	if err != nil {
		alog.Warn("delivery scan aborted: store unavailable", logx.Err(err))
		return false
	}
	if sent {
		return true
	}

	if a.GroupName == "" {
		// No configured destination; nothing to do for this alert, ever.
		return true
	}

	chatID, found, err := r.deps.Cache.Resolve(ctx, a.GroupName)
	if err != nil {
		if transport.IsSessionClosed(err) {
			r.abortDisconnected(alog, err)
			return false
		}
		alog.Warn("group resolution failed; alert stays pending", logx.String("group", a.GroupName), logx.Err(err))
		return true
	}
	if !found {
		alog.Debug("group not found; alert stays pending", logx.String("group", a.GroupName))
		r.publishSkip(a, "group_not_found")
		return true
	}

	text := r.deps.Format(ctx, a)

	// Pace toward the transport: a send after an idle stretch goes out
	// immediately, consecutive sends wait out the configured pause first.
	if err := r.limiter.Wait(ctx); err != nil {
		return false
	}

	// Last state check before the externally visible send.
	if !r.live() {
		return false
	}

	if err := r.deps.Client.Send(ctx, chatID, text); err != nil {
		switch {
		case transport.IsChatNotFound(err):
			// Stale handle: drop it so the next pass re-enumerates.
			r.deps.Cache.Evict(a.GroupName)
			alog.Warn("destination gone; evicted from cache", logx.String("group", a.GroupName), logx.Err(err))
			r.publishSkip(a, "destination_not_found")
			return true
		case transport.IsSessionClosed(err):
			r.abortDisconnected(alog, err)
			return false
		default:
			alog.Warn("send failed; alert stays pending", logx.Err(err))
			return true
		}
	}

	if err := r.deps.Store.MarkAlertSent(ctx, a.DeliveryID, a.AlertID); err != nil {
		// The message went out but the record didn't land; the next tick
		// may re-send. At-least-once is the contract here.
		alog.Error("sent but not recorded; may re-send next pass", logx.Err(err))
		return false
	}
	r.deps.Inst.IncSent()
	eventbus.Publish(r.deps.Bus, eventbus.Event{
		Type: eventbus.TopicAlertSent,
		Data: map[string]any{
			"instance": r.cfg.InstanceID,
			"delivery": a.DeliveryID,
			"alert":    a.AlertID,
			"group":    a.GroupName,
		},
	})
	return true
}

func (r *Runner) abortDisconnected(log logx.Logger, err error) {
	log.Warn("session closed mid-dispatch; instance needs a fresh power-on", logx.Err(err))
	r.deps.Inst.MarkDisconnected(err)
}

func (r *Runner) publishSkip(a storage.Alert, reason string) {
	eventbus.Publish(r.deps.Bus, eventbus.Event{
		Type: eventbus.TopicAlertSkipped,
		Data: map[string]any{
			"instance": r.cfg.InstanceID,
			"delivery": a.DeliveryID,
			"alert":    a.AlertID,
			"reason":   reason,
		},
	})
}
