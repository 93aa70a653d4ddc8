package audit

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/game/replication"
	"github.com/kasuganosora/satchel/model"
	"github.com/kasuganosora/satchel/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestLog_EnqueuedAndFlushed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	ownerID := int64(1)
	svc.Log(AuditEntry{
		TraceID:    "trace-123",
		OwnerID:    &ownerID,
		Action:     ActionGrant,
		Request:    map[string]int{"type_id": 3, "quantity": 5},
		Response:   map[string]int{"remainder": 0},
		IP:         "127.0.0.1",
		DurationMs: 42,
	})

	// Stop flushes remaining entries
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "trace-123", logs[0].TraceID)
	require.NotNil(t, logs[0].OwnerID)
	assert.Equal(t, int64(1), *logs[0].OwnerID)
	assert.Equal(t, ActionGrant, logs[0].Action)
	assert.JSONEq(t, `{"type_id":3,"quantity":5}`, string(logs[0].Request))
	assert.Equal(t, "127.0.0.1", logs[0].IP)
	assert.Equal(t, 42, logs[0].DurationMs)
}

func TestLog_MultipleLogs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	for i := 0; i < 10; i++ {
		svc.Log(AuditEntry{
			Action: "action",
			IP:     "10.0.0.1",
		})
	}

	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.Equal(t, int64(10), count)
}

func TestLog_BatchFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	// Send 100 entries to trigger immediate batch flush
	for i := 0; i < 100; i++ {
		svc.Log(AuditEntry{Action: "batch"})
	}

	// Stop waits (via WaitGroup) until the worker has finished flushing.
	// The 100-entry batch flush is triggered synchronously inside the worker, so
	// after Stop() the data is guaranteed to be committed.
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.GreaterOrEqual(t, count, int64(100))
}

func TestLog_TimerFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	svc.Log(AuditEntry{Action: "timer_test"})

	// Wait for the 2s ticker to fire and flush.
	assert.Eventually(t, func() bool {
		var count int64
		db.Model(&model.AuditLog{}).Where("action = ?", "timer_test").Count(&count)
		return count == 1
	}, 4*time.Second, 100*time.Millisecond)
	svc.Stop(context.Background()) // must not deadlock
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	svc.Stop(context.Background())
	svc.Stop(context.Background()) // must not panic
}

func TestLog_NilFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	svc.Log(AuditEntry{
		Action: "no_owner",
	})

	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].OwnerID)
	assert.NotEmpty(t, logs[0].TraceID)
}

func TestLog_DropsWhenFull(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	// Fill the channel beyond capacity by stalling worker
	// (worker reads from ch, but with 1024 buffer we can test the drop path
	// by flooding with 1025+ without waiting for flush)
	// The channel capacity is 1024; send 1030 to ensure some drops.
	// We stop before the worker can flush to force the channel-full path.

	// Note: this test just verifies the service doesn't panic on channel full.
	for i := 0; i < 1030; i++ {
		svc.Log(AuditEntry{Action: "flood"})
	}
	svc.Stop(context.Background())
	// Just verify no panic occurred
}

func TestRecordReconcile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	svc.RecordReconcile(7, inventory.ReconcileResult{
		DroppedBags: []inventory.BagID{9},
		Unplaced:    map[inventory.ResourceID]int{3: 4},
		Resave:      true,
	})
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionReconcile, logs[0].Action)
	assert.Equal(t, "resources left unplaced", logs[0].Error)
	assert.Contains(t, string(logs[0].Response), `"DroppedBags":[9]`)
}

func TestRecordViolation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	move := replication.Move{Seq: 4, From: inventory.SlotLocation{Bag: 99}, Quantity: -1}
	svc.RecordViolation(7, move, inventory.ErrUnresolvableLocation)
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionViolation, logs[0].Action)
	assert.Equal(t, inventory.ErrUnresolvableLocation.Error(), logs[0].Error)
	assert.JSONEq(t, `{"seq":4,"from":{"bag":99,"slot":0},"to":{"bag":0,"slot":0},"quantity":-1}`, string(logs[0].Request))
}
