package model

import (
	"time"

	"gorm.io/datatypes"
)

// InventoryBag is one bag of an owner's authoritative inventory. Slots holds
// the occupied slots as a JSON array of {slot_index, type_id, quantity}.
type InventoryBag struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID     int64          `gorm:"uniqueIndex:idx_owner_bag;not null" json:"owner_id"`
	InstanceID  int64          `gorm:"uniqueIndex:idx_owner_bag;not null" json:"instance_id"`
	TemplateID  int            `gorm:"not null" json:"template_id"`
	CategoryID  int            `gorm:"default:0" json:"category_id"`
	LayoutIndex int            `gorm:"default:0" json:"layout_index"`
	Slots       datatypes.JSON `json:"slots"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// HiddenResource is a slotless balance such as currency.
type HiddenResource struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID    int64     `gorm:"uniqueIndex:idx_owner_hidden;not null" json:"owner_id"`
	ResourceID int       `gorm:"uniqueIndex:idx_owner_hidden;not null" json:"resource_id"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
