package world

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/replication"
	"go.uber.org/zap"
)

// ErrRoomClosed is returned by Do once the room loop has stopped.
var ErrRoomClosed = errors.New("world: room closed")

const saveTimeout = 5 * time.Second

// Room runs the authoritative inventory of one owner on its own loop. The
// inventory is single-threaded: every access goes through Do.
type Room struct {
	Owner int64

	auth  *replication.Authority
	inv   *inventory.Inventory
	cmds  chan func()
	tick  time.Duration
	debug bool

	// loop-owned
	dirty       bool
	layoutDirty bool
	lastRefresh time.Time

	mu      sync.RWMutex
	session *player.PlayerSession

	ready  chan struct{} // closed once loading finished
	err    error         // load error, valid after ready
	stopCh chan struct{}
	doneCh chan struct{}

	mgr    *Manager
	logger *zap.Logger
}

func newRoom(owner int64, mgr *Manager) *Room {
	return &Room{
		Owner:  owner,
		cmds:   make(chan func(), 64),
		tick:   mgr.opts.Tick,
		debug:  mgr.opts.Debug,
		ready:  make(chan struct{}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		mgr:    mgr,
		logger: mgr.logger.With(zap.Int64("owner", owner)),
	}
}

// Run starts the tick loop. Call in a goroutine.
func (room *Room) Run() {
	defer close(room.doneCh)
	ticker := time.NewTicker(room.tick)
	defer ticker.Stop()
	room.lastRefresh = time.Now()
	for {
		select {
		case <-ticker.C:
			room.onTick()
		case fn := <-room.cmds:
			fn()
		case <-room.stopCh:
			room.drainCmds()
			room.onTick()
			return
		}
	}
}

// drainCmds runs commands queued before Stop so their callers are answered.
func (room *Room) drainCmds() {
	for {
		select {
		case fn := <-room.cmds:
			fn()
		default:
			return
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (room *Room) Stop() {
	select {
	case <-room.stopCh:
	default:
		close(room.stopCh)
	}
	<-room.doneCh
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (room *Room) Do(ctx context.Context, fn func(a *replication.Authority)) error {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				room.logger.Error("panic in room command", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		fn(room.auth)
	}
	select {
	case room.cmds <- cmd:
	case <-room.stopCh:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-room.doneCh:
		// the loop drains queued commands before exiting
		select {
		case <-done:
			return nil
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach binds the owner's connection and pushes the current state.
func (room *Room) Attach(ctx context.Context, s *player.PlayerSession) error {
	room.mu.Lock()
	room.session = s
	room.mu.Unlock()
	return room.Do(ctx, func(a *replication.Authority) {
		s.SendJSON(replication.TypeSnapshot, a.Sync())
	})
}

// Grant applies a producer delta and pushes the applied part to the peer.
func (room *Room) Grant(ctx context.Context, d replication.Delta) (replication.Delta, error) {
	var applied replication.Delta
	err := room.Do(ctx, func(a *replication.Authority) {
		applied = a.Grant(d)
		if s := room.Session(); s != nil && applied.Quantity != 0 {
			s.SendJSON(replication.TypeDelta, applied)
		}
	})
	return applied, err
}

// GrantBag adds an empty bag. The peer receives a snapshot on the next tick.
func (room *Room) GrantBag(ctx context.Context, template inventory.TemplateID, category int) (inventory.BagID, error) {
	var (
		id     inventory.BagID
		bagErr error
	)
	if err := room.Do(ctx, func(a *replication.Authority) {
		id, bagErr = a.Inventory().GrantBag(template, category)
	}); err != nil {
		return 0, err
	}
	return id, bagErr
}

// Detach unbinds s if it is still the attached session.
func (room *Room) Detach(s *player.PlayerSession) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.session == s {
		room.session = nil
	}
}

// Session returns the attached session or nil.
func (room *Room) Session() *player.PlayerSession {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.session
}

// onTick forwards queued inventory events to the peer, saves a dirty
// layout and keeps the owner lock alive.
func (room *Room) onTick() {
	events := room.inv.Drain()
	if len(events) > 0 {
		room.dirty = true
		room.forward(events)
		if room.debug {
			if err := room.inv.Check(); err != nil {
				room.logger.Error("inventory invariant broken", zap.Error(err))
			}
		}
	}
	if room.layoutDirty {
		room.layoutDirty = false
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := room.mgr.store.SaveSorted(ctx, room.Owner, room.inv.Snapshot()); err != nil {
			room.logger.Error("save layout", zap.Error(err))
			room.layoutDirty = true
		}
		cancel()
	}
	if room.mgr.opts.LockTTL > 0 && time.Since(room.lastRefresh) > room.mgr.opts.LockTTL/3 {
		room.lastRefresh = time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := room.mgr.refreshLock(ctx, room.Owner); err != nil {
			room.logger.Error("refresh owner lock", zap.Error(err))
		}
		cancel()
	}
}

// forward turns one tick's events into packets. Bag grants and bulk
// updates change the bag set, so the peer gets a full snapshot instead of
// individual slot updates.
func (room *Room) forward(events []inventory.Event) {
	s := room.Session()
	bulk := false
	for _, e := range events {
		switch e.Kind {
		case inventory.EventLayoutDirty:
			room.layoutDirty = true
		case inventory.EventBagAdded, inventory.EventBulkUpdate:
			bulk = true
		}
	}
	if s == nil {
		return
	}
	if bulk {
		s.SendJSON(replication.TypeSnapshot, room.auth.Sync())
		return
	}
	for _, e := range events {
		switch e.Kind {
		case inventory.EventSlotChanged:
			s.SendJSON(replication.TypeSlot, replication.SlotUpdate{
				Bag:      e.Location.Bag,
				Slot:     e.Location.Slot,
				Resource: e.Content.Resource,
				Quantity: e.Content.Quantity,
			})
		case inventory.EventTotalChanged:
			s.SendJSON(replication.TypeTotal, replication.TotalUpdate{Resource: e.Resource, Total: e.Total})
		case inventory.EventOverflow:
			s.SendJSON(replication.TypeOverflow, replication.Overflow{Resource: e.Resource, Remainder: e.Remainder})
		}
	}
}

// snapshotIfDirty returns the state to persist and clears the dirty flag.
// It must run on the loop goroutine.
func (room *Room) snapshotIfDirty(force bool) (inventory.Snapshot, bool) {
	// pick up mutations made since the last tick
	room.onTick()
	if !room.dirty && !force {
		return inventory.Snapshot{}, false
	}
	room.dirty = false
	return room.inv.Snapshot(), true
}

// Save persists the room now if it changed since the last save. Callers
// that report a change as durable without a peer attached use it instead of
// waiting for autosave or close.
func (room *Room) Save(ctx context.Context) error { return room.save(ctx, false) }

// save persists both snapshots when the room changed since the last save.
func (room *Room) save(ctx context.Context, force bool) error {
	var (
		snap inventory.Snapshot
		ok   bool
	)
	if err := room.Do(ctx, func(*replication.Authority) { snap, ok = room.snapshotIfDirty(force) }); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := room.mgr.store.Save(ctx, room.Owner, snap); err != nil {
		room.markDirty()
		return err
	}
	return nil
}

func (room *Room) markDirty() {
	_ = room.Do(context.Background(), func(*replication.Authority) { room.dirty = true })
}
