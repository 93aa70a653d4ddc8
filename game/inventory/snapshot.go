package inventory

import (
	"fmt"
	"sort"
)

// SlotSnapshot is one occupied slot in a persisted snapshot.
type SlotSnapshot struct {
	Index    int        `json:"slot_index"`
	Resource ResourceID `json:"type_id"`
	Quantity int        `json:"quantity"`
}

// BagSnapshot is one bag in a persisted snapshot.
type BagSnapshot struct {
	TemplateID  TemplateID     `json:"template_id"`
	InstanceID  BagID          `json:"instance_id"`
	CategoryID  int            `json:"category_id"`
	LayoutIndex int            `json:"layout_index"`
	Slots       []SlotSnapshot `json:"slots"`
}

// HiddenSnapshot is one hidden resource balance.
type HiddenSnapshot struct {
	Resource ResourceID `json:"type_id"`
	Quantity int        `json:"quantity"`
}

// Snapshot is the persistence shape of an inventory. The authoritative
// (unsorted) snapshot and the player's sorted layout share it.
type Snapshot struct {
	Bags   []BagSnapshot    `json:"bags"`
	Hidden []HiddenSnapshot `json:"hidden"`
}

// Totals sums every positive slot and hidden quantity per type.
func (s Snapshot) Totals() map[ResourceID]int {
	out := make(map[ResourceID]int)
	for _, b := range s.Bags {
		for _, sl := range b.Slots {
			if sl.Resource != NoResource && sl.Quantity > 0 {
				out[sl.Resource] += sl.Quantity
			}
		}
	}
	for _, h := range s.Hidden {
		if h.Resource != NoResource && h.Quantity > 0 {
			out[h.Resource] += h.Quantity
		}
	}
	return out
}

// Snapshot exports the current state. Bags keep insertion order, slots are
// listed by index, hidden balances by resource id.
func (inv *Inventory) Snapshot() Snapshot {
	snap := Snapshot{
		Bags:   make([]BagSnapshot, 0, len(inv.order)),
		Hidden: make([]HiddenSnapshot, 0, len(inv.hidden)),
	}
	for _, id := range inv.order {
		bag := inv.bags[id]
		bs := BagSnapshot{
			TemplateID:  bag.TemplateID,
			InstanceID:  bag.InstanceID,
			CategoryID:  bag.CategoryID,
			LayoutIndex: bag.LayoutIndex,
			Slots:       []SlotSnapshot{},
		}
		for i, s := range bag.Slots {
			if s.IsSet() {
				bs.Slots = append(bs.Slots, SlotSnapshot{Index: i, Resource: s.Resource, Quantity: s.Quantity})
			}
		}
		snap.Bags = append(snap.Bags, bs)
	}
	for r, q := range inv.hidden {
		snap.Hidden = append(snap.Hidden, HiddenSnapshot{Resource: r, Quantity: q})
	}
	sort.Slice(snap.Hidden, func(i, j int) bool { return snap.Hidden[i].Resource < snap.Hidden[j].Resource })
	return snap
}

// Restore replaces the whole inventory with a snapshot sent by the
// authority. The snapshot must be valid: known templates and resources,
// in-range slot indexes, quantities within limits. On error nothing changes.
func (inv *Inventory) Restore(snap Snapshot) error {
	if err := inv.validate(snap); err != nil {
		return err
	}

	inv.muted = true
	inv.reset()
	for _, b := range snap.Bags {
		bag, err := inv.addBag(b.InstanceID, b.TemplateID, b.CategoryID, b.LayoutIndex)
		if err != nil {
			inv.muted = false
			return err
		}
		for _, s := range b.Slots {
			bag.Slots[s.Index] = ResourceQuantity{Resource: s.Resource, Quantity: s.Quantity}
		}
	}
	for _, h := range snap.Hidden {
		inv.hidden[h.Resource] = h.Quantity
	}
	inv.RebuildIndex()
	inv.recount()
	inv.muted = false
	inv.emit(Event{Kind: EventBulkUpdate})
	return nil
}

func (inv *Inventory) validate(snap Snapshot) error {
	seen := make(map[BagID]bool, len(snap.Bags))
	for _, b := range snap.Bags {
		if seen[b.InstanceID] {
			return fmt.Errorf("%w: %d", ErrDuplicateBag, b.InstanceID)
		}
		seen[b.InstanceID] = true
		info, ok := inv.templates.Bag(b.TemplateID)
		if !ok || info.Capacity <= 0 {
			return fmt.Errorf("%w: %d", ErrUnknownBagTemplate, b.TemplateID)
		}
		used := make(map[int]bool, len(b.Slots))
		for _, s := range b.Slots {
			if s.Index < 0 || s.Index >= info.Capacity || used[s.Index] {
				return fmt.Errorf("%w: bag %d slot %d", ErrUnresolvableLocation, b.InstanceID, s.Index)
			}
			used[s.Index] = true
			r, ok := inv.resources.Resource(s.Resource)
			if !ok || !r.Baggable {
				return fmt.Errorf("%w: %d in bag %d", ErrUnknownResource, s.Resource, b.InstanceID)
			}
			if s.Quantity <= 0 || s.Quantity > r.StackLimit {
				return fmt.Errorf("%w: quantity %d of resource %d", ErrInvalidArgument, s.Quantity, s.Resource)
			}
		}
	}
	hidden := make(map[ResourceID]bool, len(snap.Hidden))
	for _, h := range snap.Hidden {
		if hidden[h.Resource] {
			return fmt.Errorf("%w: hidden %d listed twice", ErrInvalidArgument, h.Resource)
		}
		hidden[h.Resource] = true
		r, ok := inv.resources.Resource(h.Resource)
		if !ok || r.Baggable {
			return fmt.Errorf("%w: hidden %d", ErrUnknownResource, h.Resource)
		}
		if h.Quantity <= 0 || h.Quantity > r.HiddenLimit {
			return fmt.Errorf("%w: hidden quantity %d of resource %d", ErrInvalidArgument, h.Quantity, h.Resource)
		}
	}
	return nil
}
