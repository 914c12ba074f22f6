package storage

import (
	"context"
	"errors"
	"strings"

	"alertbot/pkg/logx"
)

// Store is the persistence API the dispatcher core consumes. The store is
// shared process-wide: every instance's scheduler tick may use it
// concurrently, and it is closed only at process shutdown, never when an
// individual instance is torn down.
type Store interface {
	// ListInstances returns the ids of every configured messaging instance
	// (those with at least one enabled delivery).
	ListInstances(ctx context.Context) ([]string, error)

	// ListDeliveries returns the enabled delivery ids for one instance.
	ListDeliveries(ctx context.Context, instanceID string) ([]int64, error)

	// ListTodayAlerts returns the alerts created today (server-local day)
	// for one delivery, oldest first.
	ListTodayAlerts(ctx context.Context, deliveryID int64) ([]Alert, error)

	// IsAlertSent reports whether the (delivery, alert) pair is recorded
	// as sent.
	IsAlertSent(ctx context.Context, deliveryID, alertID int64) (bool, error)

	// MarkAlertSent durably records the pair as sent. Safe to call twice
	// for the same key.
	MarkAlertSent(ctx context.Context, deliveryID, alertID int64) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
