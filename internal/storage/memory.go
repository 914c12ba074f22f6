package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs tests and dry runs; the dispatch
// semantics (idempotent MarkAlertSent, today-filter) match the sqlite store.
type Memory struct {
	mu         sync.Mutex
	deliveries []Delivery
	alerts     []Alert
	sent       map[[2]int64]time.Time

	// Errs, when non-nil, is consulted before every call so tests can
	// inject transient store failures per method name.
	Errs func(method string) error
}

func NewMemory() *Memory {
	return &Memory{sent: map[[2]int64]time.Time{}}
}

func (m *Memory) AddDelivery(d Delivery) {
	m.mu.Lock()
	m.deliveries = append(m.deliveries, d)
	m.mu.Unlock()
}

func (m *Memory) AddAlert(a Alert) {
	m.mu.Lock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()
}

func (m *Memory) fail(method string) error {
	if m.Errs == nil {
		return nil
	}
	return m.Errs(method)
}

func (m *Memory) ListInstances(ctx context.Context) ([]string, error) {
	if err := m.fail("ListInstances"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var ids []string
	for _, d := range m.deliveries {
		if d.Enabled && !seen[d.InstanceID] {
			seen[d.InstanceID] = true
			ids = append(ids, d.InstanceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) ListDeliveries(ctx context.Context, instanceID string) ([]int64, error) {
	if err := m.fail("ListDeliveries"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, d := range m.deliveries {
		if d.Enabled && d.InstanceID == instanceID {
			ids = append(ids, d.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) ListTodayAlerts(ctx context.Context, deliveryID int64) ([]Alert, error) {
	if err := m.fail("ListTodayAlerts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	y, mo, dd := now.Date()
	var out []Alert
	for _, a := range m.alerts {
		ay, amo, ad := a.CreatedAt.Date()
		if a.DeliveryID == deliveryID && ay == y && amo == mo && ad == dd {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AlertID < out[j].AlertID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) IsAlertSent(ctx context.Context, deliveryID, alertID int64) (bool, error) {
	if err := m.fail("IsAlertSent"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sent[[2]int64{deliveryID, alertID}]
	return ok, nil
}

func (m *Memory) MarkAlertSent(ctx context.Context, deliveryID, alertID int64) error {
	if err := m.fail("MarkAlertSent"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{deliveryID, alertID}
	if _, ok := m.sent[key]; !ok {
		m.sent[key] = time.Now()
	}
	return nil
}

func (m *Memory) Close() error { return nil }
