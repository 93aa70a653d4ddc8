package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/config"
	mw "github.com/kasuganosora/satchel/middleware"
	"go.uber.org/zap"
)

// AuthHandler issues and revokes owner tokens. Accounts live elsewhere; an
// account service calls Issue through the admin surface.
type AuthHandler struct {
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{cache: c, sec: sec, logger: logger}
}

type issueRequest struct {
	OwnerID int64 `json:"owner_id" binding:"required,gt=0"`
}

// Issue handles POST /api/admin/tokens.
func (h *AuthHandler) Issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := mw.GenerateToken(req.OwnerID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	h.logger.Info("token issued", zap.Int64("owner_id", req.OwnerID), zap.String("trace_id", mw.GetTraceID(c)))
	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"owner_id": req.OwnerID,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := h.bearerClaims(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := mw.RevokeToken(ctx, h.cache, claims); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The old token is revoked.
func (h *AuthHandler) Refresh(c *gin.Context) {
	ownerID := mw.GetOwnerID(c)
	if ownerID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, ok := h.bearerClaims(c)
	if !ok {
		return
	}

	newToken, err := mw.GenerateToken(ownerID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := mw.RevokeToken(ctx, h.cache, claims); err != nil {
		h.logger.Warn("revoke refreshed token", zap.Int64("owner_id", ownerID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

// bearerClaims re-parses the request token; Auth already validated it.
func (h *AuthHandler) bearerClaims(c *gin.Context) (*mw.Claims, bool) {
	tokenStr := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return nil, false
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	return claims, true
}
