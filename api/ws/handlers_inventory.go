package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/replication"
	"github.com/kasuganosora/satchel/game/world"
	"go.uber.org/zap"
)

// InventoryHandlers serves the inventory packets of connected owners.
type InventoryHandlers struct {
	wm     *world.Manager
	logger *zap.Logger
}

// NewInventoryHandlers creates InventoryHandlers.
func NewInventoryHandlers(wm *world.Manager, logger *zap.Logger) *InventoryHandlers {
	return &InventoryHandlers{wm: wm, logger: logger}
}

// RegisterHandlers registers inventory packet handlers on the router.
func (h *InventoryHandlers) RegisterHandlers(r *Router) {
	r.On(replication.TypeMove, h.HandleMove)
	r.On(replication.TypeSync, h.HandleSync)
}

func (h *InventoryHandlers) room(s *player.PlayerSession) (*world.Room, error) {
	room := h.wm.Get(s.OwnerID)
	if room == nil {
		return nil, fmt.Errorf("ws: no open inventory for owner %d", s.OwnerID)
	}
	return room, nil
}

// HandleMove applies a move the peer already made speculatively. Moves over
// the rate limit are refused and the peer is resynced.
func (h *InventoryHandlers) HandleMove(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var m replication.Move
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("ws: decode move: %w", err)
	}
	room, err := h.room(s)
	if err != nil {
		return err
	}

	var (
		ack replication.MoveAck
		fix *replication.SnapshotMessage
	)
	if !s.AllowMove() {
		h.logger.Debug("move rate limited", zap.Int64("owner_id", s.OwnerID), zap.Uint64("seq", m.Seq))
		err = room.Do(ctx, func(a *replication.Authority) {
			ack = replication.MoveAck{Seq: m.Seq, Error: "rate limited"}
			fix = a.Sync()
		})
	} else {
		err = room.Do(ctx, func(a *replication.Authority) { ack, fix = a.HandleMove(m) })
	}
	if err != nil {
		return err
	}

	s.SendJSON(replication.TypeMoveAck, ack)
	if fix != nil {
		s.SendJSON(replication.TypeSnapshot, fix)
	}
	return nil
}

// HandleSync answers a peer that asked for the full state.
func (h *InventoryHandlers) HandleSync(ctx context.Context, s *player.PlayerSession, _ json.RawMessage) error {
	room, err := h.room(s)
	if err != nil {
		return err
	}
	var msg *replication.SnapshotMessage
	if err := room.Do(ctx, func(a *replication.Authority) { msg = a.Sync() }); err != nil {
		return err
	}
	s.SendJSON(replication.TypeSnapshot, msg)
	return nil
}
