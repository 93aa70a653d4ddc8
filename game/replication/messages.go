package replication

import "github.com/kasuganosora/satchel/game/inventory"

// Packet types exchanged with the peer.
const (
	TypeMove     = "inv_move"     // peer → authority
	TypeSync     = "inv_sync"     // peer → authority, asks for a snapshot
	TypeDelta    = "inv_delta"    // authority → peer
	TypeMoveAck  = "inv_move_ack" // authority → peer
	TypeSnapshot = "inv_snapshot" // authority → peer
	TypeSlot     = "inv_slot"     // authority → peer
	TypeTotal    = "inv_total"    // authority → peer
	TypeOverflow = "inv_overflow" // authority → peer, "inventory full"
)

// Delta is a signed quantity change pushed from the authority to the peer.
type Delta struct {
	Resource inventory.ResourceID `json:"type_id"`
	Quantity int                  `json:"quantity"`
}

// Move is a transfer request sent by the peer after it applied the same
// move speculatively. Seq lets the peer match the acknowledgement.
type Move struct {
	Seq      uint64                 `json:"seq"`
	From     inventory.SlotLocation `json:"from"`
	To       inventory.SlotLocation `json:"to"`
	Quantity int                    `json:"quantity"`
}

// MoveAck answers a Move. Rejected moves are followed by a SnapshotMessage.
type MoveAck struct {
	Seq     uint64 `json:"seq"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// SnapshotMessage is a full-state correction.
type SnapshotMessage struct {
	Snapshot inventory.Snapshot           `json:"snapshot"`
	Totals   map[inventory.ResourceID]int `json:"totals"`
}

// SlotUpdate and TotalUpdate mirror inventory events for the peer's UI.
type SlotUpdate struct {
	Bag      inventory.BagID      `json:"bag"`
	Slot     int                  `json:"slot"`
	Resource inventory.ResourceID `json:"type_id"`
	Quantity int                  `json:"quantity"`
}

type TotalUpdate struct {
	Resource inventory.ResourceID `json:"type_id"`
	Total    int                  `json:"total"`
}

// Overflow tells the peer an add did not fit.
type Overflow struct {
	Resource  inventory.ResourceID `json:"type_id"`
	Remainder int                  `json:"remainder"`
}

// NewSnapshotMessage captures inv as a correction.
func NewSnapshotMessage(inv *inventory.Inventory) *SnapshotMessage {
	return &SnapshotMessage{Snapshot: inv.Snapshot(), Totals: inv.Totals()}
}
