package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/config"
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/world"
	mw "github.com/kasuganosora/satchel/middleware"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	inv      config.InventoryConfig
	sm       *player.SessionManager
	wm       *world.Manager
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	c cache.Cache,
	sec config.SecurityConfig,
	inv config.InventoryConfig,
	sm *player.SessionManager,
	wm *world.Manager,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		cache:  c,
		sec:    sec,
		inv:    inv,
		sm:     sm,
		wm:     wm,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>. The owner's inventory is opened
// before the upgrade so a lock held elsewhere is reported as plain HTTP.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.Authenticate(c.Request.Context(), tokenStr, h.sec, h.cache)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	owner := claims.OwnerID

	room, err := h.wm.Open(c.Request.Context(), owner)
	if errors.Is(err, world.ErrLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": "inventory in use on another server"})
		return
	}
	if err != nil {
		h.logger.Error("open inventory", zap.Int64("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "inventory unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		h.wm.Release(owner)
		return
	}

	sess := player.NewPlayerSession(owner, conn, h.logger)
	sess.SetMoveLimit(h.inv.MoveRPS, h.inv.MoveBurst)
	h.sm.Register(sess)

	// The connection outlives the upgrade request.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sess.Done
		cancel()
	}()

	if err := room.Attach(ctx, sess); err != nil {
		h.logger.Error("attach session", zap.Int64("owner_id", owner), zap.Error(err))
		h.handleDisconnect(sess, room)
		return
	}
	h.readPump(ctx, sess, room)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(ctx context.Context, s *player.PlayerSession, room *world.Room) {
	defer h.handleDisconnect(s, room)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("owner_id", s.OwnerID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}

// handleDisconnect detaches the session and lets the room close once idle.
// A session displaced by a newer login leaves the room to its successor.
func (h *Handler) handleDisconnect(s *player.PlayerSession, room *world.Room) {
	s.Close()
	room.Detach(s)
	if !h.sm.Unregister(s) {
		h.logger.Info("displaced session disconnected", zap.Int64("owner_id", s.OwnerID))
		return
	}
	h.wm.Release(s.OwnerID)
	h.logger.Info("player disconnected", zap.Int64("owner_id", s.OwnerID))
}
