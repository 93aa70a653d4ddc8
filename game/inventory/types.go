package inventory

// ResourceID identifies a resource type in the resource catalog.
// Catalog ids start at 1; NoResource marks an empty slot.
type ResourceID int

// NoResource is the resource id carried by an unset slot.
const NoResource ResourceID = 0

// TemplateID identifies a bag template in the bag catalog.
type TemplateID int

// BagID is the session-unique instance id of an ActiveBag.
type BagID int64

// EntireStack asks MoveResource to move whatever the source slot holds.
const EntireStack = -1

// ResourceQuantity is the content of one slot. The zero value is the unset
// (empty) slot; a set slot always holds Quantity > 0.
type ResourceQuantity struct {
	Resource ResourceID `json:"resource"`
	Quantity int        `json:"quantity"`
}

// Empty is the unset slot content.
var Empty = ResourceQuantity{}

// IsSet reports whether the slot holds a resource.
func (r ResourceQuantity) IsSet() bool { return r.Resource != NoResource }

// SlotLocation addresses one slot of one bag.
type SlotLocation struct {
	Bag  BagID `json:"bag"`
	Slot int   `json:"slot"`
}

// ResourceInfo is the fixed per-type metadata served by the resource catalog.
type ResourceInfo struct {
	StackLimit  int  // max quantity in one slot, >= 1 for baggable types
	Baggable    bool // false: tracked only as a hidden aggregate
	HiddenLimit int  // cap for hidden types
}

// BagInfo is the fixed per-template metadata served by the bag catalog.
type BagInfo struct {
	Capacity int
}

// ResourceCatalog resolves resource metadata.
type ResourceCatalog interface {
	Resource(id ResourceID) (ResourceInfo, bool)
}

// BagCatalog resolves bag template metadata.
type BagCatalog interface {
	Bag(id TemplateID) (BagInfo, bool)
}

// ActiveBag is a bag instance owned by one inventory. Its slot array is
// sized to the template capacity and never resized.
type ActiveBag struct {
	InstanceID  BagID
	TemplateID  TemplateID
	CategoryID  int
	LayoutIndex int // UI hint only
	Slots       []ResourceQuantity
}

func (b *ActiveBag) clone() ActiveBag {
	c := *b
	c.Slots = append([]ResourceQuantity(nil), b.Slots...)
	return c
}
