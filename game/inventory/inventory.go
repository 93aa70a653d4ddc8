package inventory

import (
	"fmt"

	"go.uber.org/zap"
)

// Inventory is the aggregate root for one owner: its bags, the reverse
// index, hidden resources and cached per-type totals. It is not safe for
// concurrent use; callers drive it from a single goroutine.
type Inventory struct {
	resources ResourceCatalog
	templates BagCatalog

	order  []BagID // bag insertion order
	pos    map[BagID]int
	bags   map[BagID]*ActiveBag
	index  reverseIndex
	hidden map[ResourceID]int
	totals map[ResourceID]int
	free   int // unset slots across all bags
	nextID BagID

	events []Event
	muted  bool
	logger *zap.Logger
}

// New creates an empty inventory resolving metadata through the given catalogs.
func New(resources ResourceCatalog, templates BagCatalog, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inventory{
		resources: resources,
		templates: templates,
		pos:       make(map[BagID]int),
		bags:      make(map[BagID]*ActiveBag),
		index:     make(reverseIndex),
		hidden:    make(map[ResourceID]int),
		totals:    make(map[ResourceID]int),
		nextID:    1,
		logger:    logger,
	}
}

// GrantBag adds a new empty bag of the given template and returns its
// instance id. Layout index defaults to the bag's position.
func (inv *Inventory) GrantBag(template TemplateID, category int) (BagID, error) {
	id := inv.nextID
	if _, err := inv.addBag(id, template, category, len(inv.order)); err != nil {
		return 0, err
	}
	return id, nil
}

func (inv *Inventory) addBag(id BagID, template TemplateID, category, layout int) (*ActiveBag, error) {
	if _, ok := inv.bags[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateBag, id)
	}
	info, ok := inv.templates.Bag(template)
	if !ok || info.Capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBagTemplate, template)
	}
	bag := &ActiveBag{
		InstanceID:  id,
		TemplateID:  template,
		CategoryID:  category,
		LayoutIndex: layout,
		Slots:       make([]ResourceQuantity, info.Capacity),
	}
	inv.bags[id] = bag
	inv.pos[id] = len(inv.order)
	inv.order = append(inv.order, id)
	inv.free += info.Capacity
	if id >= inv.nextID {
		inv.nextID = id + 1
	}
	inv.emit(Event{Kind: EventBagAdded, Location: SlotLocation{Bag: id}})
	return bag, nil
}

// resolve returns the bag addressed by loc after bounds-checking the slot.
func (inv *Inventory) resolve(loc SlotLocation) (*ActiveBag, error) {
	bag, ok := inv.bags[loc.Bag]
	if !ok || loc.Slot < 0 || loc.Slot >= len(bag.Slots) {
		return nil, fmt.Errorf("%w: bag %d slot %d", ErrUnresolvableLocation, loc.Bag, loc.Slot)
	}
	return bag, nil
}

// writeSlot stores content, keeps the free-slot count and emits a slot
// change. It does not touch the reverse index.
func (inv *Inventory) writeSlot(bag *ActiveBag, slot int, content ResourceQuantity) {
	old := bag.Slots[slot]
	switch {
	case old.IsSet() && !content.IsSet():
		inv.free++
	case !old.IsSet() && content.IsSet():
		inv.free--
	}
	bag.Slots[slot] = content
	inv.emit(Event{
		Kind:     EventSlotChanged,
		Location: SlotLocation{Bag: bag.InstanceID, Slot: slot},
		Content:  content,
	})
}

// setSlot is writeSlot plus reverse index maintenance.
func (inv *Inventory) setSlot(bag *ActiveBag, slot int, content ResourceQuantity) {
	old := bag.Slots[slot]
	loc := SlotLocation{Bag: bag.InstanceID, Slot: slot}
	if old.IsSet() && old.Resource != content.Resource {
		inv.index.remove(old.Resource, loc)
	}
	if content.IsSet() && old.Resource != content.Resource {
		inv.index.add(content.Resource, loc, inv.rank)
	}
	inv.writeSlot(bag, slot, content)
}

// Slot returns the content at loc.
func (inv *Inventory) Slot(loc SlotLocation) (ResourceQuantity, error) {
	bag, err := inv.resolve(loc)
	if err != nil {
		return Empty, err
	}
	return bag.Slots[loc.Slot], nil
}

// Bag returns a copy of the bag with the given instance id.
func (inv *Inventory) Bag(id BagID) (ActiveBag, bool) {
	bag, ok := inv.bags[id]
	if !ok {
		return ActiveBag{}, false
	}
	return bag.clone(), true
}

// Bags returns copies of all bags in insertion order.
func (inv *Inventory) Bags() []ActiveBag {
	out := make([]ActiveBag, 0, len(inv.order))
	for _, id := range inv.order {
		out = append(out, inv.bags[id].clone())
	}
	return out
}

// Total returns the held quantity of id, bagged plus hidden.
func (inv *Inventory) Total(id ResourceID) int { return inv.totals[id] }

// Totals returns a copy of the per-type totals.
func (inv *Inventory) Totals() map[ResourceID]int {
	out := make(map[ResourceID]int, len(inv.totals))
	for k, v := range inv.totals {
		out[k] = v
	}
	return out
}

// Hidden returns the hidden (slotless) quantity of id.
func (inv *Inventory) Hidden(id ResourceID) int { return inv.hidden[id] }

// Locations returns the slots currently holding id, in index order.
func (inv *Inventory) Locations(id ResourceID) []SlotLocation {
	return append([]SlotLocation(nil), inv.index[id]...)
}

// FreeSlots returns the number of unset slots across all bags.
func (inv *Inventory) FreeSlots() int { return inv.free }

// IsEmpty reports whether the inventory owns no bags and no hidden resources.
func (inv *Inventory) IsEmpty() bool { return len(inv.order) == 0 && len(inv.hidden) == 0 }

// recount rebuilds totals from slots and hidden quantities.
func (inv *Inventory) recount() {
	inv.totals = make(map[ResourceID]int)
	for _, id := range inv.order {
		for _, s := range inv.bags[id].Slots {
			if s.IsSet() {
				inv.totals[s.Resource] += s.Quantity
			}
		}
	}
	for r, q := range inv.hidden {
		inv.totals[r] += q
	}
}

// reset drops all state, keeping catalogs, logger and the id counter.
func (inv *Inventory) reset() {
	inv.order = nil
	inv.pos = make(map[BagID]int)
	inv.bags = make(map[BagID]*ActiveBag)
	inv.index = make(reverseIndex)
	inv.hidden = make(map[ResourceID]int)
	inv.totals = make(map[ResourceID]int)
	inv.free = 0
}

// Check verifies the aggregate invariants: per-slot stack limits, reverse
// index equality with slot contents in canonical order, hidden caps and
// cached totals.
func (inv *Inventory) Check() error {
	want := make(reverseIndex)
	totals := make(map[ResourceID]int)
	free := 0
	for _, id := range inv.order {
		bag := inv.bags[id]
		for i, s := range bag.Slots {
			if !s.IsSet() {
				if s.Quantity != 0 {
					return fmt.Errorf("bag %d slot %d: unset slot with quantity %d", id, i, s.Quantity)
				}
				free++
				continue
			}
			info, ok := inv.resources.Resource(s.Resource)
			if !ok {
				return fmt.Errorf("bag %d slot %d: %w %d", id, i, ErrUnknownResource, s.Resource)
			}
			if s.Quantity <= 0 || s.Quantity > info.StackLimit {
				return fmt.Errorf("bag %d slot %d: quantity %d outside 1..%d", id, i, s.Quantity, info.StackLimit)
			}
			want.add(s.Resource, SlotLocation{Bag: id, Slot: i}, inv.rank)
			totals[s.Resource] += s.Quantity
		}
	}
	if free != inv.free {
		return fmt.Errorf("free slot count %d, counted %d", inv.free, free)
	}
	if len(want) != len(inv.index) {
		return fmt.Errorf("reverse index has %d types, slots hold %d", len(inv.index), len(want))
	}
	for r, locs := range want {
		if !sameLocations(locs, inv.index[r]) {
			return fmt.Errorf("reverse index for resource %d is %v, slots say %v", r, inv.index[r], locs)
		}
	}
	for r, q := range inv.hidden {
		info, ok := inv.resources.Resource(r)
		if !ok || q <= 0 || q > info.HiddenLimit {
			return fmt.Errorf("hidden resource %d: quantity %d out of bounds", r, q)
		}
		totals[r] += q
	}
	if len(totals) != len(inv.totals) {
		return fmt.Errorf("totals has %d types, counted %d", len(inv.totals), len(totals))
	}
	for r, q := range totals {
		if inv.totals[r] != q {
			return fmt.Errorf("total for resource %d is %d, counted %d", r, inv.totals[r], q)
		}
	}
	return nil
}

func sameLocations(a, b []SlotLocation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
