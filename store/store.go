package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store persists both inventory snapshots of an owner: the authoritative
// (unsorted) one in the database and the player's sorted layout in the cache.
type Store struct {
	db        *gorm.DB
	cache     cache.Cache
	layoutTTL time.Duration
	logger    *zap.Logger
}

// New creates a Store. A zero layoutTTL keeps layouts until overwritten.
func New(db *gorm.DB, c cache.Cache, layoutTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{db: db, cache: c, layoutTTL: layoutTTL, logger: logger}
}

func layoutKey(owner int64) string { return fmt.Sprintf("inv:layout:%d", owner) }

// LoadUnsorted reads the authoritative snapshot. An owner with no rows gets
// an empty snapshot.
func (s *Store) LoadUnsorted(ctx context.Context, owner int64) (inventory.Snapshot, error) {
	snap := inventory.Snapshot{Bags: []inventory.BagSnapshot{}, Hidden: []inventory.HiddenSnapshot{}}

	var bags []model.InventoryBag
	if err := s.db.WithContext(ctx).Where("owner_id = ?", owner).
		Order("instance_id").Find(&bags).Error; err != nil {
		return snap, fmt.Errorf("store: load bags of %d: %w", owner, err)
	}
	for _, b := range bags {
		bs := inventory.BagSnapshot{
			TemplateID:  inventory.TemplateID(b.TemplateID),
			InstanceID:  inventory.BagID(b.InstanceID),
			CategoryID:  b.CategoryID,
			LayoutIndex: b.LayoutIndex,
			Slots:       []inventory.SlotSnapshot{},
		}
		if len(b.Slots) > 0 {
			if err := json.Unmarshal(b.Slots, &bs.Slots); err != nil {
				return snap, fmt.Errorf("store: decode slots of bag %d: %w", b.InstanceID, err)
			}
		}
		snap.Bags = append(snap.Bags, bs)
	}

	var hidden []model.HiddenResource
	if err := s.db.WithContext(ctx).Where("owner_id = ?", owner).
		Order("resource_id").Find(&hidden).Error; err != nil {
		return snap, fmt.Errorf("store: load hidden of %d: %w", owner, err)
	}
	for _, h := range hidden {
		snap.Hidden = append(snap.Hidden, inventory.HiddenSnapshot{
			Resource: inventory.ResourceID(h.ResourceID),
			Quantity: h.Quantity,
		})
	}
	return snap, nil
}

// SaveUnsorted replaces the owner's authoritative rows in one transaction.
func (s *Store) SaveUnsorted(ctx context.Context, owner int64, snap inventory.Snapshot) error {
	bags := make([]model.InventoryBag, 0, len(snap.Bags))
	for _, b := range snap.Bags {
		slots, err := json.Marshal(b.Slots)
		if err != nil {
			return fmt.Errorf("store: encode slots of bag %d: %w", b.InstanceID, err)
		}
		bags = append(bags, model.InventoryBag{
			OwnerID:     owner,
			InstanceID:  int64(b.InstanceID),
			TemplateID:  int(b.TemplateID),
			CategoryID:  b.CategoryID,
			LayoutIndex: b.LayoutIndex,
			Slots:       datatypes.JSON(slots),
		})
	}
	hidden := make([]model.HiddenResource, 0, len(snap.Hidden))
	for _, h := range snap.Hidden {
		hidden = append(hidden, model.HiddenResource{
			OwnerID:    owner,
			ResourceID: int(h.Resource),
			Quantity:   h.Quantity,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", owner).Delete(&model.InventoryBag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", owner).Delete(&model.HiddenResource{}).Error; err != nil {
			return err
		}
		if len(bags) > 0 {
			if err := tx.Create(&bags).Error; err != nil {
				return err
			}
		}
		if len(hidden) > 0 {
			if err := tx.Create(&hidden).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save inventory of %d: %w", owner, err)
	}
	return nil
}

// LoadSorted reads the player's sorted layout. A missing or unreadable
// layout is returned as an empty snapshot; reconciliation rebuilds it.
func (s *Store) LoadSorted(ctx context.Context, owner int64) (inventory.Snapshot, error) {
	raw, err := s.cache.Get(ctx, layoutKey(owner))
	if cache.IsNotFound(err) {
		return inventory.Snapshot{}, nil
	}
	if err != nil {
		return inventory.Snapshot{}, fmt.Errorf("store: load layout of %d: %w", owner, err)
	}
	var snap inventory.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		s.logger.Warn("discarding unreadable layout", zap.Int64("owner", owner), zap.Error(err))
		return inventory.Snapshot{}, nil
	}
	return snap, nil
}

// SaveSorted stores the player's sorted layout.
func (s *Store) SaveSorted(ctx context.Context, owner int64, snap inventory.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode layout of %d: %w", owner, err)
	}
	if err := s.cache.Set(ctx, layoutKey(owner), string(raw), s.layoutTTL); err != nil {
		return fmt.Errorf("store: save layout of %d: %w", owner, err)
	}
	return nil
}

// Save writes both snapshots; the layout is only written once the
// authoritative rows are committed.
func (s *Store) Save(ctx context.Context, owner int64, snap inventory.Snapshot) error {
	if err := s.SaveUnsorted(ctx, owner, snap); err != nil {
		return err
	}
	return s.SaveSorted(ctx, owner, snap)
}
