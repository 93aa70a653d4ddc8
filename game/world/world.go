package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/game/replication"
	"github.com/kasuganosora/satchel/scheduler"
	"go.uber.org/zap"
)

// ErrLocked is returned by Open when another node holds the owner's inventory.
var ErrLocked = errors.New("world: inventory locked by another node")

// Persister loads and saves both inventory snapshots of an owner.
type Persister interface {
	LoadUnsorted(ctx context.Context, owner int64) (inventory.Snapshot, error)
	LoadSorted(ctx context.Context, owner int64) (inventory.Snapshot, error)
	SaveSorted(ctx context.Context, owner int64, snap inventory.Snapshot) error
	// Save writes the authoritative snapshot, then the layout.
	Save(ctx context.Context, owner int64, snap inventory.Snapshot) error
}

// Auditor records reconciliation outcomes.
type Auditor interface {
	RecordReconcile(owner int64, res inventory.ReconcileResult)
}

// DefaultBag is granted to an owner with nothing persisted.
type DefaultBag struct {
	Template inventory.TemplateID
	Category int
}

// Options tunes room behaviour.
type Options struct {
	Tick        time.Duration
	LockTTL     time.Duration
	DefaultBags []DefaultBag
	Debug       bool // check invariants after every tick with events

	// Scheduler delays Release by CloseGrace so a quick reconnect finds
	// the room still open. Without it Release closes immediately.
	Scheduler  *scheduler.Scheduler
	CloseGrace time.Duration
}

// Manager owns the open Room of every owner on this node.
type Manager struct {
	mu    sync.RWMutex
	rooms map[int64]*Room

	store     Persister
	cache     cache.Cache
	resources inventory.ResourceCatalog
	templates inventory.BagCatalog
	reporter  replication.ViolationReporter
	auditor   Auditor
	opts      Options
	token     string // lock value identifying this node
	logger    *zap.Logger
}

// NewManager creates a Manager. reporter and auditor may be nil.
func NewManager(store Persister, c cache.Cache, resources inventory.ResourceCatalog, templates inventory.BagCatalog,
	reporter replication.ViolationReporter, auditor Auditor, opts Options, logger *zap.Logger) *Manager {
	if opts.Tick <= 0 {
		opts.Tick = 50 * time.Millisecond
	}
	return &Manager{
		rooms:     make(map[int64]*Room),
		store:     store,
		cache:     c,
		resources: resources,
		templates: templates,
		reporter:  reporter,
		auditor:   auditor,
		opts:      opts,
		token:     uuid.NewString(),
		logger:    logger,
	}
}

func lockKey(owner int64) string { return fmt.Sprintf("lock:inv:%d", owner) }

func idleTask(owner int64) string { return fmt.Sprintf("inv:idle:%d", owner) }

// Open returns the owner's room, loading and reconciling the inventory on
// first use. Concurrent callers for the same owner share one load.
func (m *Manager) Open(ctx context.Context, owner int64) (*Room, error) {
	// Fast path: room already exists.
	m.mu.RLock()
	room, ok := m.rooms[owner]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		// Double-check after acquiring write lock.
		if room, ok = m.rooms[owner]; !ok {
			room = newRoom(owner, m)
			m.rooms[owner] = room
			m.mu.Unlock()
			m.load(ctx, room)
		} else {
			m.mu.Unlock()
		}
	}

	select {
	case <-room.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if room.err != nil {
		return nil, room.err
	}
	if m.opts.Scheduler != nil {
		m.opts.Scheduler.Remove(idleTask(owner))
	}
	return room, nil
}

// Release closes the owner's room once nobody uses it. A room with an
// attached session stays open.
func (m *Manager) Release(owner int64) {
	idle := func(ctx context.Context) error {
		if room := m.Get(owner); room == nil || room.Session() != nil {
			return nil
		}
		return m.Close(ctx, owner)
	}
	if m.opts.Scheduler == nil || m.opts.CloseGrace <= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := idle(ctx); err != nil {
			m.logger.Error("close idle inventory", zap.Int64("owner", owner), zap.Error(err))
		}
		return
	}
	m.opts.Scheduler.AddDelay(idleTask(owner), m.opts.CloseGrace, idle)
}

// Peek returns the owner's current state without opening a room. An open
// room answers from memory; otherwise the persisted snapshots are
// reconciled into a throwaway inventory and nothing is written back.
func (m *Manager) Peek(ctx context.Context, owner int64) (*replication.SnapshotMessage, error) {
	if room := m.Get(owner); room != nil {
		var msg *replication.SnapshotMessage
		err := room.Do(ctx, func(a *replication.Authority) { msg = a.Sync() })
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
	}
	inv, _, _, err := m.reconcile(ctx, owner)
	if err != nil {
		return nil, err
	}
	return replication.NewSnapshotMessage(inv), nil
}

// load fills room and starts its loop. On failure the room is removed and
// room.err is set for everyone waiting on it.
func (m *Manager) load(ctx context.Context, room *Room) {
	defer close(room.ready)
	owner := room.Owner

	fail := func(err error) {
		room.err = err
		m.mu.Lock()
		if m.rooms[owner] == room {
			delete(m.rooms, owner)
		}
		m.mu.Unlock()
	}

	if m.opts.LockTTL > 0 {
		ok, err := m.cache.SetNX(ctx, lockKey(owner), m.token, m.opts.LockTTL)
		if err != nil {
			fail(fmt.Errorf("world: lock owner %d: %w", owner, err))
			return
		}
		if !ok {
			fail(ErrLocked)
			return
		}
	}

	inv, fresh, err := m.build(ctx, owner)
	if err != nil {
		m.releaseLock(owner)
		fail(err)
		return
	}

	room.inv = inv
	room.auth = replication.NewAuthority(owner, inv, m.reporter, room.logger)
	go room.Run()
	m.logger.Info("inventory opened", zap.Int64("owner", owner), zap.Bool("new", fresh))
}

// reconcile loads both persisted snapshots and merges them.
func (m *Manager) reconcile(ctx context.Context, owner int64) (*inventory.Inventory, inventory.ReconcileResult, inventory.Snapshot, error) {
	var res inventory.ReconcileResult
	unsorted, err := m.store.LoadUnsorted(ctx, owner)
	if err != nil {
		return nil, res, unsorted, err
	}
	sorted, err := m.store.LoadSorted(ctx, owner)
	if err != nil {
		return nil, res, unsorted, err
	}

	inv := inventory.New(m.resources, m.templates, m.logger)
	if res, err = inv.Reconcile(unsorted, sorted); err != nil {
		return nil, res, unsorted, err
	}
	stuck := m.unplacedBaggable(res)
	if stuck > 0 && len(sorted.Bags) > 0 {
		// A fragmented layout can leave no room for leftovers. Packing the
		// authoritative holdings from scratch may fit them; it replaces the
		// layout only when it places strictly more.
		packed := inventory.New(m.resources, m.templates, m.logger)
		pres, err := packed.Reconcile(unsorted, inventory.Snapshot{})
		if err != nil {
			return nil, res, unsorted, err
		}
		if m.unplacedBaggable(pres) < stuck {
			m.logger.Warn("layout discarded, leftovers did not fit",
				zap.Int64("owner", owner), zap.Any("unplaced", res.Unplaced))
			inv, res = packed, pres
			res.Resave = true
		}
	}
	return inv, res, unsorted, nil
}

// unplacedBaggable sums the unplaced quantities a different layout could
// still hold. Unknown types and hidden overflow never fit anywhere.
func (m *Manager) unplacedBaggable(res inventory.ReconcileResult) int {
	n := 0
	for r, q := range res.Unplaced {
		if info, ok := m.resources.Resource(r); ok && info.Baggable {
			n += q
		}
	}
	return n
}

// build reconciles the persisted snapshots into a live inventory and writes
// back whatever reconciliation changed.
func (m *Manager) build(ctx context.Context, owner int64) (*inventory.Inventory, bool, error) {
	inv, res, unsorted, err := m.reconcile(ctx, owner)
	if err != nil {
		return nil, false, err
	}
	if m.auditor != nil && (res.Resave || len(res.Unplaced) > 0) {
		m.auditor.RecordReconcile(owner, res)
	}

	fresh := len(unsorted.Bags) == 0 && len(unsorted.Hidden) == 0
	if fresh {
		for _, b := range m.opts.DefaultBags {
			if _, err := inv.GrantBag(b.Template, b.Category); err != nil {
				return nil, false, fmt.Errorf("world: grant default bag %d: %w", b.Template, err)
			}
		}
	}
	inv.Drain()

	snap := inv.Snapshot()
	switch {
	case fresh:
		if err := m.store.Save(ctx, owner, snap); err != nil {
			return nil, false, err
		}
	case res.Resave:
		if err := m.store.SaveSorted(ctx, owner, snap); err != nil {
			return nil, false, err
		}
	}
	return inv, fresh, nil
}

// Get returns the open room of owner, or nil.
func (m *Manager) Get(owner int64) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room := m.rooms[owner]
	if room == nil {
		return nil
	}
	select {
	case <-room.ready:
		if room.err != nil {
			return nil
		}
		return room
	default:
		return nil
	}
}

// Count returns the number of open rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// SaveAll persists every room changed since its last save.
func (m *Manager) SaveAll(ctx context.Context) error {
	var errs []error
	for _, room := range m.openRooms() {
		if err := room.save(ctx, false); err != nil && !errors.Is(err, ErrRoomClosed) {
			m.logger.Error("autosave failed", zap.Int64("owner", room.Owner), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close saves the owner's inventory, stops its room and releases the lock.
func (m *Manager) Close(ctx context.Context, owner int64) error {
	m.mu.Lock()
	room, ok := m.rooms[owner]
	if ok {
		delete(m.rooms, owner)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	<-room.ready
	if room.err != nil {
		return nil
	}
	return m.shutdown(ctx, room)
}

// CloseAll closes every room (server shutdown).
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	if m.opts.Scheduler != nil {
		for owner := range m.rooms {
			m.opts.Scheduler.Remove(idleTask(owner))
		}
	}
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[int64]*Room)
	m.mu.Unlock()

	var errs []error
	for _, room := range rooms {
		<-room.ready
		if room.err != nil {
			continue
		}
		if err := m.shutdown(ctx, room); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// shutdown stops the loop, then persists the final state. The loop has
// exited, so the inventory is safe to read here.
func (m *Manager) shutdown(ctx context.Context, room *Room) error {
	room.Stop()
	defer m.releaseLock(room.Owner)

	snap := room.inv.Snapshot()
	if err := m.store.Save(ctx, room.Owner, snap); err != nil {
		m.logger.Error("final save failed", zap.Int64("owner", room.Owner), zap.Error(err))
		return err
	}
	m.logger.Info("inventory closed", zap.Int64("owner", room.Owner))
	return nil
}

func (m *Manager) openRooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		select {
		case <-r.ready:
			if r.err == nil {
				out = append(out, r)
			}
		default:
		}
	}
	return out
}

func (m *Manager) refreshLock(ctx context.Context, owner int64) error {
	return m.cache.Expire(ctx, lockKey(owner), m.opts.LockTTL)
}

func (m *Manager) releaseLock(owner int64) {
	if m.opts.LockTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if _, err := m.cache.CompareAndDelete(ctx, lockKey(owner), m.token); err != nil {
		m.logger.Warn("release owner lock", zap.Int64("owner", owner), zap.Error(err))
	}
}
