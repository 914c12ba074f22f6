package storage

import "time"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the production backend)
//   - "memory": in-process store, used by tests and dry runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Alert is one candidate message, immutable once observed. Field names
// follow the upstream news platform's columns.
type Alert struct {
	DeliveryID  int64
	AlertID     int64
	Title       string
	Description string
	MediaTypeID int
	SourceName  string
	// GroupName is the configured destination for this alert. Alerts with
	// an empty GroupName are never dispatched.
	GroupName   string
	ArticleType int
	QueryID     int64
	PageUserID  int64
	CreatedAt   time.Time
}

// Delivery pairs a messaging instance with an alert stream.
type Delivery struct {
	ID         int64
	InstanceID string
	Enabled    bool
}
