package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/satchel/game/world"
	mw "github.com/kasuganosora/satchel/middleware"
	"go.uber.org/zap"
)

// InventoryHandler handles inventory REST endpoints.
type InventoryHandler struct {
	wm     *world.Manager
	logger *zap.Logger
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(wm *world.Manager, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{wm: wm, logger: logger}
}

// Get handles GET /api/inventory: the caller's bags, hidden balances and totals.
func (h *InventoryHandler) Get(c *gin.Context) {
	ownerID := mw.GetOwnerID(c)
	msg, err := h.wm.Peek(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Error("peek inventory", zap.Int64("owner_id", ownerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, msg)
}
