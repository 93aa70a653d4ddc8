package replication

import (
	"github.com/kasuganosora/satchel/game/inventory"
	"go.uber.org/zap"
)

// Sender delivers a move to the authority over a reliable, ordered channel.
type Sender interface {
	SendMove(m Move) error
}

// Replica is the speculative side: it applies moves locally for
// responsiveness and accepts corrections from the authority.
type Replica struct {
	inv    *inventory.Inventory
	sender Sender
	seq    uint64
	logger *zap.Logger
}

// NewReplica wraps a speculative inventory.
func NewReplica(inv *inventory.Inventory, sender Sender, logger *zap.Logger) *Replica {
	return &Replica{inv: inv, sender: sender, logger: logger}
}

// Inventory returns the wrapped inventory.
func (r *Replica) Inventory() *inventory.Inventory { return r.inv }

// Move applies the move locally and forwards it when it changed something.
// Locally invalid moves never reach the authority.
func (r *Replica) Move(from, to inventory.SlotLocation, quantity int) (bool, error) {
	changed, err := r.inv.MoveResource(from, to, quantity)
	if err != nil || !changed {
		return false, err
	}
	r.seq++
	if err := r.sender.SendMove(Move{Seq: r.seq, From: from, To: to, Quantity: quantity}); err != nil {
		return true, err
	}
	return true, nil
}

// ApplyDelta mirrors a delta the authority already applied. A non-zero
// remainder means the replica has diverged and should request a snapshot.
func (r *Replica) ApplyDelta(d Delta) int {
	rem := r.inv.ApplyDelta(d.Resource, d.Quantity)
	if rem != 0 {
		r.logger.Warn("replica diverged on delta",
			zap.Int("resource", int(d.Resource)),
			zap.Int("quantity", d.Quantity),
			zap.Int("remainder", rem))
	}
	return rem
}

// ApplySnapshot replaces the speculative state with the authority's.
func (r *Replica) ApplySnapshot(msg *SnapshotMessage) error {
	return r.inv.Restore(msg.Snapshot)
}

// HandleAck processes a move acknowledgement. Rejections are followed by a
// snapshot, so nothing is rolled back here.
func (r *Replica) HandleAck(ack MoveAck) {
	if !ack.Applied && ack.Error != "" {
		r.logger.Debug("move rejected by authority", zap.Uint64("seq", ack.Seq), zap.String("error", ack.Error))
	}
}
