package replication

import (
	"errors"

	"github.com/kasuganosora/satchel/game/inventory"
	"go.uber.org/zap"
)

// ViolationReporter receives moves that addressed slots the authoritative
// inventory does not have. The peer is either lying about its state or
// badly out of sync; the reporter decides whether to disconnect it.
type ViolationReporter interface {
	ReportViolation(owner int64, move Move, err error)
}

// Authority owns the authoritative inventory of one owner.
type Authority struct {
	owner    int64
	inv      *inventory.Inventory
	reporter ViolationReporter
	logger   *zap.Logger
}

// NewAuthority wraps inv. reporter may be nil.
func NewAuthority(owner int64, inv *inventory.Inventory, reporter ViolationReporter, logger *zap.Logger) *Authority {
	return &Authority{owner: owner, inv: inv, reporter: reporter, logger: logger}
}

// Inventory returns the wrapped inventory.
func (a *Authority) Inventory() *inventory.Inventory { return a.inv }

// Grant applies a producer delta and returns the delta actually applied,
// which is what the peer must mirror. A fully rejected delta has Quantity 0.
func (a *Authority) Grant(d Delta) Delta {
	rem := a.inv.ApplyDelta(d.Resource, d.Quantity)
	applied := Delta{Resource: d.Resource, Quantity: d.Quantity - rem}
	if rem != 0 {
		a.logger.Debug("delta partially applied",
			zap.Int64("owner", a.owner),
			zap.Int("resource", int(d.Resource)),
			zap.Int("requested", d.Quantity),
			zap.Int("applied", applied.Quantity))
	}
	return applied
}

// HandleMove applies a peer move. The peer only forwards moves that changed
// its own state, so a move that is rejected or changes nothing here comes
// back with a correction snapshot. An unresolvable location is also reported.
func (a *Authority) HandleMove(m Move) (MoveAck, *SnapshotMessage) {
	changed, err := a.inv.MoveResource(m.From, m.To, m.Quantity)
	if err == nil {
		if changed {
			return MoveAck{Seq: m.Seq, Applied: true}, nil
		}
		return MoveAck{Seq: m.Seq}, NewSnapshotMessage(a.inv)
	}

	if errors.Is(err, inventory.ErrUnresolvableLocation) {
		a.logger.Warn("peer addressed unknown slot",
			zap.Int64("owner", a.owner),
			zap.Uint64("seq", m.Seq),
			zap.Error(err))
		if a.reporter != nil {
			a.reporter.ReportViolation(a.owner, m, err)
		}
	} else {
		a.logger.Debug("peer move rejected",
			zap.Int64("owner", a.owner),
			zap.Uint64("seq", m.Seq),
			zap.Error(err))
	}
	return MoveAck{Seq: m.Seq, Error: err.Error()}, NewSnapshotMessage(a.inv)
}

// Sync returns the full state for a peer that asked for it.
func (a *Authority) Sync() *SnapshotMessage { return NewSnapshotMessage(a.inv) }
