package inventory

// EventKind enumerates inventory notifications.
type EventKind int

const (
	EventBagAdded EventKind = iota + 1
	EventSlotChanged
	EventTotalChanged
	EventBulkUpdate
	EventOverflow    // an add left a remainder ("inventory full")
	EventLayoutDirty // the player arrangement changed and should be saved
)

func (k EventKind) String() string {
	switch k {
	case EventBagAdded:
		return "bag_added"
	case EventSlotChanged:
		return "slot_changed"
	case EventTotalChanged:
		return "total_changed"
	case EventBulkUpdate:
		return "bulk_update"
	case EventOverflow:
		return "overflow"
	case EventLayoutDirty:
		return "layout_dirty"
	}
	return "unknown"
}

// Event is one queued notification. Which fields are meaningful depends on
// Kind: Location/Content for slot changes (Location.Bag for bag added),
// Resource/Total for total changes, Resource/Remainder for overflow.
type Event struct {
	Kind      EventKind
	Location  SlotLocation
	Content   ResourceQuantity
	Resource  ResourceID
	Total     int
	Remainder int
}

func (inv *Inventory) emit(e Event) {
	if inv.muted {
		return
	}
	inv.events = append(inv.events, e)
}

// Drain returns the queued events in emission order and clears the queue.
// Replication and UI collaborators call it once per tick.
func (inv *Inventory) Drain() []Event {
	out := inv.events
	inv.events = nil
	return out
}

// Pending reports how many events are queued.
func (inv *Inventory) Pending() int { return len(inv.events) }
