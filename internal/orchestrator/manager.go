package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"alertbot/internal/eventbus"
	"alertbot/internal/scheduler"
	"alertbot/internal/storage"
	"alertbot/internal/transport"
	"alertbot/pkg/logx"
)

// Config for the orchestrator.
type Config struct {
	SessionRoot  string
	ReadyTimeout time.Duration
	ScanInterval time.Duration
	MessagePause time.Duration
}

// Deps are the manager's collaborators. Bus may be nil.
type Deps struct {
	Store   storage.Store
	Factory transport.Factory
	Format  scheduler.FormatFunc
	Bus     eventbus.Bus
	Log     logx.Logger
}

// Manager owns the instance registry. It is constructed once at process
// start and holds the process-lifetime context for scheduler loops, which
// must outlive the HTTP request that armed them.
type Manager struct {
	baseCtx context.Context
	deps    Deps
	log     logx.Logger

	cfgMu sync.Mutex
	cfg   Config

	mu        sync.Mutex
	instances map[string]*Instance
}

func NewManager(ctx context.Context, cfg Config, deps Deps) *Manager {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	return &Manager{
		baseCtx:   ctx,
		deps:      deps,
		log:       deps.Log,
		cfg:       cfg,
		instances: map[string]*Instance{},
	}
}

// Apply updates dispatch settings. Schedulers armed after the change pick
// up the new interval/pause; already-armed runners keep theirs.
func (m *Manager) Apply(cfg Config) {
	m.cfgMu.Lock()
	if cfg.SessionRoot == "" {
		cfg.SessionRoot = m.cfg.SessionRoot
	}
	m.cfg = cfg
	m.cfgMu.Unlock()
}

func (m *Manager) config() Config {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.cfg
}

// PowerResult is the per-instance outcome of a power-on pass.
type PowerResult struct {
	ID       string
	State    State
	Identity string
	// AlreadyReady marks an id that was connected before this call.
	AlreadyReady bool
	Err          error
}

// PowerOn drives every configured instance toward READY. Each id's wait is
// independent: one id's timeout never blocks or cancels another's. The
// only wholesale failure is the store being unreachable for the instance
// list itself.
func (m *Manager) PowerOn(ctx context.Context) ([]PowerResult, error) {
	ids, err := m.deps.Store.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list configured instances: %w", err)
	}
	return m.PowerOnIDs(ctx, ids), nil
}

// PowerOnIDs powers on an explicit id list (used by tests and by PowerOn).
func (m *Manager) PowerOnIDs(ctx context.Context, ids []string) []PowerResult {
	results := make([]PowerResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = m.powerOnOne(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return results
}

func (m *Manager) powerOnOne(ctx context.Context, id string) PowerResult {
	cfg := m.config()

	m.mu.Lock()
	existing := m.instances[id]
	if existing != nil {
		switch existing.State() {
		case StateReady:
			m.mu.Unlock()
			return PowerResult{ID: id, State: StateReady, Identity: existing.Identity(), AlreadyReady: true}
		case StateCreating, StateAwaitingAuth:
			// A startup is already in flight; join its wait instead of
			// racing a second connection for the same id.
			m.mu.Unlock()
			return m.waitOutcome(ctx, existing, cfg.ReadyTimeout)
		default:
			// DISCONNECTED / ERROR / STOPPING: rebuild from scratch.
			delete(m.instances, id)
		}
	}

	inst := newInstance(id, filepath.Join(cfg.SessionRoot, id), m.deps.Bus, m.log)
	// The slot is claimed before any I/O so a concurrent power-on for the
	// same id joins this attempt rather than opening a second connection.
	m.instances[id] = inst
	m.mu.Unlock()

	if existing != nil {
		m.teardown(context.Background(), existing)
	}

	if err := os.MkdirAll(inst.sessionDir, 0o755); err != nil {
		m.drop(inst)
		return PowerResult{ID: id, State: StateError, Err: fmt.Errorf("session dir: %w", err)}
	}

	client, err := m.deps.Factory.New(id, inst.sessionDir)
	if err != nil {
		m.drop(inst)
		return PowerResult{ID: id, State: StateError, Err: fmt.Errorf("create client: %w", err)}
	}
	inst.setConn(client, scheduler.NewCache(client))

	// A concurrent power-off may have cleared the registry while the
	// client was being built; its snapshot had no client to close, so
	// close the late arrival here instead of running it untracked.
	if !m.tracks(inst) {
		_ = client.Close(context.Background())
		return PowerResult{ID: id, State: inst.State(), Err: ErrRecreated}
	}

	go m.watch(inst)
	go func() {
		// Initialize may suspend for a long time; a failure before any
		// lifecycle event is a terminal startup error.
		if err := client.Initialize(m.baseCtx); err != nil {
			inst.rejectReady(err)
			inst.setState(StateError)
		}
	}()

	return m.waitOutcome(ctx, inst, cfg.ReadyTimeout)
}

func (m *Manager) waitOutcome(ctx context.Context, inst *Instance, timeout time.Duration) PowerResult {
	identity, err := inst.awaitReady(ctx, timeout)
	if err != nil {
		return PowerResult{ID: inst.id, State: inst.State(), Err: err}
	}
	return PowerResult{ID: inst.id, State: StateReady, Identity: identity}
}

// tracks reports whether the registry slot for inst.id still holds inst.
func (m *Manager) tracks(inst *Instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[inst.id] == inst
}

// drop removes a failed instance from the registry (only if the slot still
// holds it; a concurrent recreate may have replaced it).
func (m *Manager) drop(inst *Instance) {
	m.mu.Lock()
	if m.instances[inst.id] == inst {
		delete(m.instances, inst.id)
	}
	m.mu.Unlock()
	inst.rejectReady(ErrRecreated)
	inst.setState(StateError)
}

// TeardownResult is the per-instance outcome of a power-off pass.
type TeardownResult struct {
	ID  string
	Err error
}

// PowerOff quiesces every scheduler first, then tears down every
// connection. Individual teardown failures are reported, never fatal to
// the remaining teardowns. The registry ends empty.
func (m *Manager) PowerOff(ctx context.Context) []TeardownResult {
	m.mu.Lock()
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.instances = map[string]*Instance{}
	m.mu.Unlock()

	sort.Slice(insts, func(i, j int) bool { return insts[i].id < insts[j].id })

	// Phase 1: stop feeding the transports before any connection dies.
	for _, inst := range insts {
		inst.setState(StateStopping)
		if r := inst.detachRunner(); r != nil {
			// Wait for the loop: no in-flight tick may reference a
			// half-destroyed connection.
			if err := r.Stop(ctx); err != nil {
				m.log.Warn("scheduler stop timed out; relying on state checks",
					logx.String("instance", inst.id), logx.Err(err))
			}
		}
		inst.rejectReady(ErrRecreated)
	}

	// Phase 2: tear down connections, collecting failures independently.
	results := make([]TeardownResult, 0, len(insts))
	for _, inst := range insts {
		var err error
		if client, _ := inst.conn(); client != nil {
			err = client.Close(ctx)
		}
		if err != nil {
			m.log.Warn("instance teardown failed", logx.String("instance", inst.id), logx.Err(err))
		} else {
			m.log.Info("instance torn down", logx.String("instance", inst.id))
		}
		results = append(results, TeardownResult{ID: inst.id, Err: err})
	}
	return results
}

// teardown destroys one instance that is being replaced.
func (m *Manager) teardown(ctx context.Context, inst *Instance) {
	inst.setState(StateStopping)
	if r := inst.detachRunner(); r != nil {
		_ = r.Stop(ctx)
	}
	inst.rejectReady(ErrRecreated)
	if client, _ := inst.conn(); client != nil {
		if err := client.Close(ctx); err != nil {
			m.log.Warn("teardown of replaced instance failed", logx.String("instance", inst.id), logx.Err(err))
		}
	}
}

// Health returns a snapshot of every tracked instance. No transport I/O.
func (m *Manager) Health() []Snapshot {
	m.mu.Lock()
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) instance(id string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst, nil
}

// SendTest bypasses the scheduler and sends one ad-hoc message through a
// named instance.
func (m *Manager) SendTest(ctx context.Context, id, group, text string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	if !inst.Ready() {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, id, inst.State())
	}
	client, cache := inst.conn()
	chatID, found, err := cache.Resolve(ctx, group)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("group %q not found", group)
	}
	if err := client.Send(ctx, chatID, text); err != nil {
		if transport.IsChatNotFound(err) {
			cache.Evict(group)
		}
		return err
	}
	return nil
}

// ListGroups enumerates a named instance's group chats.
func (m *Manager) ListGroups(ctx context.Context, id string) ([]transport.Chat, error) {
	inst, err := m.instance(id)
	if err != nil {
		return nil, err
	}
	if !inst.Ready() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, inst.State())
	}
	client, _ := inst.conn()
	chats, err := client.Chats(ctx)
	if err != nil {
		return nil, err
	}
	groups := chats[:0:0]
	for _, ch := range chats {
		if ch.IsGroup {
			groups = append(groups, ch)
		}
	}
	return groups, nil
}

// ResetDailyCounters zeroes every instance's sent-today counter. Wired to
// the midnight rollover job.
func (m *Manager) ResetDailyCounters() {
	m.mu.Lock()
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.Unlock()
	for _, inst := range insts {
		inst.resetSentToday()
	}
	if len(insts) > 0 {
		m.log.Info("daily send counters reset", logx.Int("instances", len(insts)))
	}
}
