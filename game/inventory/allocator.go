package inventory

import "go.uber.org/zap"

// AddQuantity places amount units of id and returns the part that could not
// be placed (0 means fully satisfied). Hidden types are capped by their
// hidden limit. Baggable types first top up existing stacks in reverse-index
// order, then fill unset slots in bag-then-slot order. Non-positive amounts
// are a no-op.
func (inv *Inventory) AddQuantity(id ResourceID, amount int) int {
	if amount <= 0 {
		return 0
	}
	info, ok := inv.lookup(id)
	if !ok {
		return amount
	}
	if !info.Baggable {
		return inv.addHidden(id, info, amount)
	}

	locs := inv.index[id]
	if len(locs) == 0 && inv.free == 0 {
		inv.emit(Event{Kind: EventOverflow, Resource: id, Remainder: amount})
		return amount
	}

	remaining := amount
	for _, loc := range locs {
		if remaining == 0 {
			break
		}
		bag := inv.bags[loc.Bag]
		cur := bag.Slots[loc.Slot]
		room := info.StackLimit - cur.Quantity
		if room <= 0 {
			continue
		}
		n := min(room, remaining)
		inv.writeSlot(bag, loc.Slot, ResourceQuantity{Resource: id, Quantity: cur.Quantity + n})
		remaining -= n
	}

fill:
	for _, bagID := range inv.order {
		if remaining == 0 || inv.free == 0 {
			break
		}
		bag := inv.bags[bagID]
		for i := range bag.Slots {
			if bag.Slots[i].IsSet() {
				continue
			}
			n := min(info.StackLimit, remaining)
			inv.setSlot(bag, i, ResourceQuantity{Resource: id, Quantity: n})
			remaining -= n
			if remaining == 0 {
				break fill
			}
		}
	}

	inv.settle(id, amount-remaining, remaining)
	return remaining
}

func (inv *Inventory) addHidden(id ResourceID, info ResourceInfo, amount int) int {
	room := info.HiddenLimit - inv.hidden[id]
	if room < 0 {
		room = 0
	}
	n := min(room, amount)
	if n > 0 {
		inv.hidden[id] += n
	}
	inv.settle(id, n, amount-n)
	return amount - n
}

// settle applies an added quantity to the totals and emits the total change
// and, for a remainder, the overflow notification.
func (inv *Inventory) settle(id ResourceID, added, remainder int) {
	if added > 0 {
		inv.totals[id] += added
		inv.emit(Event{Kind: EventTotalChanged, Resource: id, Total: inv.totals[id]})
	}
	if remainder > 0 {
		inv.emit(Event{Kind: EventOverflow, Resource: id, Remainder: remainder})
	}
}

// RemoveQuantity takes amount units of id and returns the part that could
// not be removed (> 0 means the inventory held less than requested). Slots
// are drained in reverse-index order; emptied slots are unset and leave the
// index. Non-positive amounts are a no-op.
func (inv *Inventory) RemoveQuantity(id ResourceID, amount int) int {
	if amount <= 0 {
		return 0
	}
	if _, held := inv.totals[id]; !held {
		return amount
	}
	info, ok := inv.lookup(id)
	if !ok {
		return amount
	}

	remaining := amount
	if !info.Baggable {
		n := min(inv.hidden[id], remaining)
		inv.hidden[id] -= n
		if inv.hidden[id] == 0 {
			delete(inv.hidden, id)
		}
		remaining -= n
	} else {
		locs := inv.index[id]
		kept := locs[:0]
		for _, loc := range locs {
			if remaining == 0 {
				kept = append(kept, loc)
				continue
			}
			bag := inv.bags[loc.Bag]
			cur := bag.Slots[loc.Slot]
			take := min(remaining, cur.Quantity)
			remaining -= take
			if take == cur.Quantity {
				inv.writeSlot(bag, loc.Slot, Empty)
				continue
			}
			inv.writeSlot(bag, loc.Slot, ResourceQuantity{Resource: id, Quantity: cur.Quantity - take})
			kept = append(kept, loc)
		}
		if len(kept) == 0 {
			delete(inv.index, id)
		} else {
			inv.index[id] = kept
		}
	}

	if removed := amount - remaining; removed > 0 {
		inv.totals[id] -= removed
		if inv.totals[id] <= 0 {
			delete(inv.totals, id)
		}
		inv.emit(Event{Kind: EventTotalChanged, Resource: id, Total: inv.totals[id]})
	}
	return remaining
}

// ApplyDelta routes a signed producer delta to AddQuantity or
// RemoveQuantity. The result carries the delta's sign: the unadded (> 0) or
// unremoved (< 0) remainder.
func (inv *Inventory) ApplyDelta(id ResourceID, delta int) int {
	switch {
	case delta > 0:
		return inv.AddQuantity(id, delta)
	case delta < 0:
		return -inv.RemoveQuantity(id, -delta)
	}
	return 0
}

func (inv *Inventory) lookup(id ResourceID) (ResourceInfo, bool) {
	if id == NoResource {
		return ResourceInfo{}, false
	}
	info, ok := inv.resources.Resource(id)
	if !ok {
		inv.logger.Warn("resource not in catalog", zap.Int("resource", int(id)))
		return ResourceInfo{}, false
	}
	if info.Baggable && info.StackLimit < 1 {
		inv.logger.Warn("resource has no stack limit", zap.Int("resource", int(id)))
		return ResourceInfo{}, false
	}
	return info, true
}
