package model_test

import (
	"testing"
	"time"

	"github.com/kasuganosora/satchel/model"
	"github.com/kasuganosora/satchel/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	bag := &model.InventoryBag{
		OwnerID: 7, InstanceID: 1, TemplateID: 2,
		Slots: datatypes.JSON(`[{"slot_index":0,"type_id":1,"quantity":5}]`),
	}
	require.NoError(t, db.Create(bag).Error)
	assert.Greater(t, bag.ID, int64(0))

	var found model.InventoryBag
	require.NoError(t, db.First(&found, bag.ID).Error)
	assert.Equal(t, int64(7), found.OwnerID)
	assert.JSONEq(t, `[{"slot_index":0,"type_id":1,"quantity":5}]`, string(found.Slots))

	// same instance id for the same owner violates the unique index
	dup := &model.InventoryBag{OwnerID: 7, InstanceID: 1, TemplateID: 2}
	assert.Error(t, db.Create(dup).Error)

	h := &model.HiddenResource{OwnerID: 7, ResourceID: 5, Quantity: 300}
	require.NoError(t, db.Create(h).Error)

	owner := int64(7)
	al := &model.AuditLog{
		TraceID: "trace-001", OwnerID: &owner, Action: "inventory_reconcile",
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(al).Error)
}
