package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kasuganosora/satchel/game/inventory"
)

// Resource is one entry of Resources.json.
type Resource struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	IconIndex   int    `json:"iconIndex"`
	StackLimit  int    `json:"stackLimit"`
	Baggable    bool   `json:"baggable"`
	HiddenLimit int    `json:"hiddenLimit"` // only for non-baggable types
}

// BagTemplate is one entry of Bags.json.
type BagTemplate struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IconIndex int    `json:"iconIndex"`
	Capacity  int    `json:"capacity"`
}

// Catalog holds the immutable resource and bag metadata. It serves both
// inventory.ResourceCatalog and inventory.BagCatalog.
type Catalog struct {
	resources map[inventory.ResourceID]*Resource
	bags      map[inventory.TemplateID]*BagTemplate
}

// New builds a catalog from in-memory entries. nil entries are skipped,
// matching the data files where index 0 is null.
func New(resources []*Resource, bags []*BagTemplate) (*Catalog, error) {
	c := &Catalog{
		resources: make(map[inventory.ResourceID]*Resource, len(resources)),
		bags:      make(map[inventory.TemplateID]*BagTemplate, len(bags)),
	}
	for _, r := range resources {
		if r == nil {
			continue
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		id := inventory.ResourceID(r.ID)
		if _, dup := c.resources[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate resource id %d", r.ID)
		}
		c.resources[id] = r
	}
	for _, b := range bags {
		if b == nil {
			continue
		}
		if b.ID <= 0 || b.Capacity < 1 {
			return nil, fmt.Errorf("catalog: bag %d: id and capacity must be positive", b.ID)
		}
		id := inventory.TemplateID(b.ID)
		if _, dup := c.bags[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate bag id %d", b.ID)
		}
		c.bags[id] = b
	}
	return c, nil
}

func (r *Resource) validate() error {
	switch {
	case r.ID <= 0:
		return fmt.Errorf("catalog: resource %q: id must be positive", r.Name)
	case r.Baggable && r.StackLimit < 1:
		return fmt.Errorf("catalog: resource %d: stack limit must be at least 1", r.ID)
	case !r.Baggable && r.HiddenLimit < 1:
		return fmt.Errorf("catalog: resource %d: hidden limit must be at least 1", r.ID)
	}
	return nil
}

// Load reads Resources.json and Bags.json.
func Load(resourcesPath, bagsPath string) (*Catalog, error) {
	resources, err := loadJSONArray[Resource](resourcesPath)
	if err != nil {
		return nil, err
	}
	bags, err := loadJSONArray[BagTemplate](bagsPath)
	if err != nil {
		return nil, err
	}
	return New(resources, bags)
}

func loadJSONArray[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var arr []*T
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return arr, nil
}

// Resource implements inventory.ResourceCatalog.
func (c *Catalog) Resource(id inventory.ResourceID) (inventory.ResourceInfo, bool) {
	r, ok := c.resources[id]
	if !ok {
		return inventory.ResourceInfo{}, false
	}
	return inventory.ResourceInfo{StackLimit: r.StackLimit, Baggable: r.Baggable, HiddenLimit: r.HiddenLimit}, true
}

// Bag implements inventory.BagCatalog.
func (c *Catalog) Bag(id inventory.TemplateID) (inventory.BagInfo, bool) {
	b, ok := c.bags[id]
	if !ok {
		return inventory.BagInfo{}, false
	}
	return inventory.BagInfo{Capacity: b.Capacity}, true
}

// Counts returns the number of resource types and bag templates.
func (c *Catalog) Counts() (resources, bags int) { return len(c.resources), len(c.bags) }
