package inventory

import "sort"

// reverseIndex maps a resource type to the slots holding it. Each list is
// kept in canonical order: bag insertion order, then slot index. Stack-fill
// and drain walk these lists, so two inventories with equal contents and
// equal bag order place every delta identically, whatever moves led there.
// A type with no occupied slot has no key.
type reverseIndex map[ResourceID][]SlotLocation

// add inserts loc at its canonical position. rank returns a bag's position
// in insertion order.
func (ix reverseIndex) add(id ResourceID, loc SlotLocation, rank func(BagID) int) {
	locs := ix[id]
	i := sort.Search(len(locs), func(i int) bool { return !locBefore(locs[i], loc, rank) })
	locs = append(locs, SlotLocation{})
	copy(locs[i+1:], locs[i:])
	locs[i] = loc
	ix[id] = locs
}

func (ix reverseIndex) remove(id ResourceID, loc SlotLocation) {
	locs := ix[id]
	for i, l := range locs {
		if l == loc {
			locs = append(locs[:i], locs[i+1:]...)
			break
		}
	}
	if len(locs) == 0 {
		delete(ix, id)
		return
	}
	ix[id] = locs
}

func locBefore(a, b SlotLocation, rank func(BagID) int) bool {
	if a.Bag != b.Bag {
		return rank(a.Bag) < rank(b.Bag)
	}
	return a.Slot < b.Slot
}

// rank returns the insertion position of a bag.
func (inv *Inventory) rank(id BagID) int { return inv.pos[id] }

// RebuildIndex discards the reverse index and repopulates it in one pass
// over every bag and slot, in bag-then-slot order. It also recounts free
// slots. Use it after bulk loads; incremental operations keep the index in
// sync on their own.
func (inv *Inventory) RebuildIndex() {
	inv.index = make(reverseIndex)
	inv.free = 0
	for _, id := range inv.order {
		for i, s := range inv.bags[id].Slots {
			if !s.IsSet() {
				inv.free++
				continue
			}
			inv.index.add(s.Resource, SlotLocation{Bag: id, Slot: i}, inv.rank)
		}
	}
}
