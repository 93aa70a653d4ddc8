package rest

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/satchel/audit"
	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/replication"
	"github.com/kasuganosora/satchel/game/world"
	mw "github.com/kasuganosora/satchel/middleware"
	"github.com/kasuganosora/satchel/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	sm     *player.SessionManager
	wm     *world.Manager
	audit  *audit.Service
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. auditSvc may be nil.
func NewAdminHandler(
	sm *player.SessionManager,
	wm *world.Manager,
	auditSvc *audit.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{sm: sm, wm: wm, audit: auditSvc, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_owners":    h.sm.Count(),
		"open_inventories": h.wm.Count(),
		"scheduler_tasks":  h.sched.ListTickers(),
	})
}

// GetInventory returns any owner's inventory without opening it.
// GET /api/admin/inventory/:owner
func (h *AdminHandler) GetInventory(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	msg, err := h.wm.Peek(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("peek inventory", zap.Int64("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

type deltaRequest struct {
	Resource int `json:"type_id" binding:"required,gt=0"`
	Quantity int `json:"quantity" binding:"required"`
}

// ApplyDelta applies a producer delta (crafting, loot, consumption) to an
// owner's inventory. The response carries what was applied and the
// remainder that did not fit or was not held. For an offline owner the
// change is saved before responding.
// POST /api/admin/inventory/:owner/delta
func (h *AdminHandler) ApplyDelta(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	var req deltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	room, ok := h.open(c, owner)
	if !ok {
		return
	}
	defer h.wm.Release(owner)

	d := replication.Delta{Resource: inventory.ResourceID(req.Resource), Quantity: req.Quantity}
	applied, err := room.Grant(c.Request.Context(), d)
	if err != nil {
		h.fail(c, owner, err)
		return
	}
	if !h.persistOffline(c, owner, room) {
		return
	}
	resp := gin.H{"applied": applied.Quantity, "remainder": req.Quantity - applied.Quantity}
	h.record(c, owner, audit.ActionGrant, req, resp, start)
	c.JSON(http.StatusOK, resp)
}

type bagRequest struct {
	TemplateID int `json:"template_id" binding:"required,gt=0"`
	CategoryID int `json:"category_id"`
}

// GrantBag adds an empty bag to an owner's inventory.
// POST /api/admin/inventory/:owner/bags
func (h *AdminHandler) GrantBag(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	var req bagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	room, ok := h.open(c, owner)
	if !ok {
		return
	}
	defer h.wm.Release(owner)

	id, err := room.GrantBag(c.Request.Context(), inventory.TemplateID(req.TemplateID), req.CategoryID)
	if errors.Is(err, inventory.ErrUnknownBagTemplate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown bag template"})
		return
	}
	if err != nil {
		h.fail(c, owner, err)
		return
	}
	if !h.persistOffline(c, owner, room) {
		return
	}
	resp := gin.H{"instance_id": id}
	h.record(c, owner, audit.ActionGrantBag, req, resp, start)
	c.JSON(http.StatusCreated, resp)
}

// KickPlayer forcibly disconnects an owner.
// POST /api/admin/kick/:owner
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	if !h.sm.Kick(owner, "kicked by admin") {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

func (h *AdminHandler) open(c *gin.Context, owner int64) (*world.Room, bool) {
	room, err := h.wm.Open(c.Request.Context(), owner)
	if errors.Is(err, world.ErrLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": "inventory in use on another server"})
		return nil, false
	}
	if err != nil {
		h.fail(c, owner, err)
		return nil, false
	}
	return room, true
}

// persistOffline saves the room before the change is reported when no peer
// is attached; an idle room may otherwise only save once its grace expires.
func (h *AdminHandler) persistOffline(c *gin.Context, owner int64, room *world.Room) bool {
	if room.Session() != nil {
		return true
	}
	if err := room.Save(c.Request.Context()); err != nil {
		h.fail(c, owner, err)
		return false
	}
	return true
}

func (h *AdminHandler) fail(c *gin.Context, owner int64, err error) {
	h.logger.Error("admin inventory request failed",
		zap.Int64("owner_id", owner),
		zap.String("trace_id", mw.GetTraceID(c)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *AdminHandler) record(c *gin.Context, owner int64, action string, req, resp interface{}, start time.Time) {
	if h.audit == nil {
		return
	}
	h.audit.Log(audit.AuditEntry{
		TraceID:    mw.GetTraceID(c),
		OwnerID:    &owner,
		Action:     action,
		Request:    req,
		Response:   resp,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	})
}

func ownerParam(c *gin.Context) (int64, bool) {
	owner, err := strconv.ParseInt(c.Param("owner"), 10, 64)
	if err != nil || owner <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner"})
		return 0, false
	}
	return owner, true
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
