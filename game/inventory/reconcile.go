package inventory

import (
	"sort"

	"go.uber.org/zap"
)

// ReconcileResult describes how the sorted layout was adjusted.
type ReconcileResult struct {
	DroppedBags []BagID            // sorted bags the authoritative snapshot no longer lists
	Clamped     int                // sorted slots reduced or cleared
	Leftover    map[ResourceID]int // quantities placed through AddQuantity
	Unplaced    map[ResourceID]int // quantities AddQuantity could not place
	Resave      bool               // the merged layout differs from the persisted one
}

// Reconcile builds the inventory from the authoritative unsorted snapshot
// and the player's sorted layout, which may be stale. Sorted bags the
// unsorted snapshot does not own are dropped, sorted slots are clamped to
// the quantities the unsorted snapshot really holds, bags only the unsorted
// snapshot knows are added empty, and whatever is left is placed first-fit.
// Per-type totals afterwards equal the unsorted totals, minus anything
// reported in Unplaced. It must run on an empty inventory.
func (inv *Inventory) Reconcile(unsorted, sorted Snapshot) (ReconcileResult, error) {
	res := ReconcileResult{
		Leftover: make(map[ResourceID]int),
		Unplaced: make(map[ResourceID]int),
	}
	if !inv.IsEmpty() {
		return res, ErrAlreadyLoaded
	}

	remaining := unsorted.Totals()

	pending := make(map[BagID]BagSnapshot, len(unsorted.Bags))
	var pendingOrder []BagID
	for _, b := range unsorted.Bags {
		if _, dup := pending[b.InstanceID]; dup {
			inv.logger.Warn("duplicate bag in unsorted snapshot", zap.Int64("bag", int64(b.InstanceID)))
			continue
		}
		pending[b.InstanceID] = b
		pendingOrder = append(pendingOrder, b.InstanceID)
	}

	var kept []BagSnapshot
	for _, b := range sorted.Bags {
		u, ok := pending[b.InstanceID]
		if !ok || u.TemplateID != b.TemplateID {
			res.DroppedBags = append(res.DroppedBags, b.InstanceID)
			continue
		}
		delete(pending, b.InstanceID)
		kept = append(kept, b)
	}

	inv.muted = true
	for i := range kept {
		bag, err := inv.addBag(kept[i].InstanceID, kept[i].TemplateID, kept[i].CategoryID, kept[i].LayoutIndex)
		if err != nil {
			inv.logger.Warn("sorted bag not instantiated", zap.Int64("bag", int64(kept[i].InstanceID)), zap.Error(err))
			res.DroppedBags = append(res.DroppedBags, kept[i].InstanceID)
			continue
		}
		res.Clamped += inv.placeSorted(bag, kept[i].Slots, remaining)
	}
	for _, id := range pendingOrder {
		b, ok := pending[id]
		if !ok {
			continue
		}
		if _, err := inv.addBag(b.InstanceID, b.TemplateID, b.CategoryID, len(inv.order)); err != nil {
			inv.logger.Warn("unsorted bag not instantiated", zap.Int64("bag", int64(b.InstanceID)), zap.Error(err))
		}
	}
	inv.RebuildIndex()
	inv.recount()

	types := make([]ResourceID, 0, len(remaining))
	for r, q := range remaining {
		if q > 0 {
			types = append(types, r)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, r := range types {
		q := remaining[r]
		left := inv.AddQuantity(r, q)
		if placed := q - left; placed > 0 {
			res.Leftover[r] = placed
			if info, ok := inv.resources.Resource(r); ok && info.Baggable {
				res.Resave = true
			}
		}
		if left > 0 {
			res.Unplaced[r] = left
		}
	}
	inv.muted = false

	if len(res.DroppedBags) > 0 || res.Clamped > 0 {
		res.Resave = true
	}
	for _, id := range inv.order {
		inv.emit(Event{Kind: EventBagAdded, Location: SlotLocation{Bag: id}})
	}
	inv.emit(Event{Kind: EventBulkUpdate})
	if len(res.Unplaced) > 0 {
		inv.logger.Warn("reconciliation left resources unplaced", zap.Any("unplaced", res.Unplaced))
	}
	return res, nil
}

// placeSorted writes the sorted slots of one bag, clamping each against the
// authoritative remaining quantities and the catalog. Invalid entries are
// skipped without consuming remaining. It returns how many slots were
// reduced or dropped.
func (inv *Inventory) placeSorted(bag *ActiveBag, slots []SlotSnapshot, remaining map[ResourceID]int) int {
	clamped := 0
	for _, s := range slots {
		if s.Index < 0 || s.Index >= len(bag.Slots) || bag.Slots[s.Index].IsSet() {
			clamped++
			continue
		}
		info, ok := inv.resources.Resource(s.Resource)
		if !ok || !info.Baggable || info.StackLimit < 1 || s.Quantity <= 0 {
			clamped++
			continue
		}
		actual := min(s.Quantity, remaining[s.Resource], info.StackLimit)
		if actual != s.Quantity {
			clamped++
		}
		if actual <= 0 {
			continue
		}
		bag.Slots[s.Index] = ResourceQuantity{Resource: s.Resource, Quantity: actual}
		remaining[s.Resource] -= actual
	}
	return clamped
}
