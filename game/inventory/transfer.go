package inventory

import "fmt"

// MoveResource moves quantity units (or EntireStack) from one slot to
// another and reports whether anything changed.
//
// Onto an empty slot the whole stack is moved, or only quantity units with
// the rest left behind. Onto a different type only whole stacks may be
// swapped. Onto the same type the destination is topped up to the stack
// limit; dragging a whole stack onto a full stack of the same type swaps the
// two instead.
//
// Unknown bags and slot indexes yield ErrUnresolvableLocation. A zero or
// negative quantity, a quantity above what the source holds, or a partial
// move onto a different type yield ErrInvalidArgument. Errors leave the
// inventory untouched.
func (inv *Inventory) MoveResource(from, to SlotLocation, quantity int) (bool, error) {
	fromBag, err := inv.resolve(from)
	if err != nil {
		return false, err
	}
	toBag, err := inv.resolve(to)
	if err != nil {
		return false, err
	}
	if from == to {
		return false, nil
	}
	if quantity == 0 || (quantity < 0 && quantity != EntireStack) {
		return false, fmt.Errorf("%w: move quantity %d", ErrInvalidArgument, quantity)
	}

	src := fromBag.Slots[from.Slot]
	dst := toBag.Slots[to.Slot]
	if !src.IsSet() {
		return false, nil
	}
	if quantity > src.Quantity {
		return false, fmt.Errorf("%w: move %d from a stack of %d", ErrInvalidArgument, quantity, src.Quantity)
	}
	whole := quantity == EntireStack || quantity == src.Quantity

	switch {
	case !dst.IsSet():
		if quantity == EntireStack {
			inv.swap(fromBag, from.Slot, toBag, to.Slot)
			break
		}
		info, ok := inv.lookup(src.Resource)
		if !ok {
			return false, fmt.Errorf("%w: %d", ErrUnknownResource, src.Resource)
		}
		inv.shift(fromBag, from.Slot, toBag, to.Slot, min(info.StackLimit, quantity))

	case dst.Resource != src.Resource:
		if !whole {
			return false, fmt.Errorf("%w: partial move of resource %d onto resource %d",
				ErrInvalidArgument, src.Resource, dst.Resource)
		}
		inv.swap(fromBag, from.Slot, toBag, to.Slot)

	default:
		info, ok := inv.lookup(src.Resource)
		if !ok {
			return false, fmt.Errorf("%w: %d", ErrUnknownResource, src.Resource)
		}
		if quantity == EntireStack && dst.Quantity >= info.StackLimit {
			inv.swap(fromBag, from.Slot, toBag, to.Slot)
			break
		}
		want := src.Quantity
		if quantity != EntireStack {
			want = quantity
		}
		n := min(info.StackLimit-dst.Quantity, want)
		if n <= 0 {
			return false, nil
		}
		inv.shift(fromBag, from.Slot, toBag, to.Slot, n)
	}

	inv.emit(Event{Kind: EventLayoutDirty})
	return true, nil
}

// swap exchanges two slots wholesale.
func (inv *Inventory) swap(a *ActiveBag, ai int, b *ActiveBag, bi int) {
	ca, cb := a.Slots[ai], b.Slots[bi]
	inv.setSlot(a, ai, cb)
	inv.setSlot(b, bi, ca)
}

// shift moves n units from the source slot onto an empty or same-typed
// destination, unsetting the source when it runs out.
func (inv *Inventory) shift(from *ActiveBag, fi int, to *ActiveBag, ti int, n int) {
	src, dst := from.Slots[fi], to.Slots[ti]
	inv.setSlot(to, ti, ResourceQuantity{Resource: src.Resource, Quantity: dst.Quantity + n})
	if src.Quantity == n {
		inv.setSlot(from, fi, Empty)
		return
	}
	inv.setSlot(from, fi, ResourceQuantity{Resource: src.Resource, Quantity: src.Quantity - n})
}
