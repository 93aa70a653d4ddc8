package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/game/replication"
	"github.com/kasuganosora/satchel/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit actions.
const (
	ActionViolation = "inventory_violation"
	ActionReconcile = "inventory_reconcile"
	ActionGrant     = "inventory_grant"
	ActionGrantBag  = "inventory_grant_bag"
)

const batchSize = 100

// AuditEntry holds one audit event to be logged.
type AuditEntry struct {
	TraceID    string
	OwnerID    *int64
	Action     string
	Request    interface{}
	Response   interface{}
	Error      string
	IP         string
	DurationMs int
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry AuditEntry) {
	reqJSON, _ := json.Marshal(entry.Request)
	respJSON, _ := json.Marshal(entry.Response)
	if entry.TraceID == "" {
		entry.TraceID = uuid.NewString()
	}
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		OwnerID:    entry.OwnerID,
		Action:     entry.Action,
		Request:    datatypes.JSON(reqJSON),
		Response:   datatypes.JSON(respJSON),
		Error:      entry.Error,
		IP:         entry.IP,
		DurationMs: entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// RecordReconcile logs a load-time reconciliation that changed the layout
// or could not place everything.
func (svc *Service) RecordReconcile(owner int64, res inventory.ReconcileResult) {
	entry := AuditEntry{OwnerID: &owner, Action: ActionReconcile, Response: res}
	if len(res.Unplaced) > 0 {
		entry.Error = "resources left unplaced"
	}
	svc.Log(entry)
}

// RecordViolation logs a move that addressed a slot the owner does not have.
func (svc *Service) RecordViolation(owner int64, move replication.Move, err error) {
	svc.Log(AuditEntry{OwnerID: &owner, Action: ActionViolation, Request: move, Error: err.Error()})
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
