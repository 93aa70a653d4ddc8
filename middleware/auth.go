package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/config"
)

const OwnerIDKey = "owner_id"

// ErrTokenRevoked is returned by Authenticate for a revoked token.
var ErrTokenRevoked = errors.New("middleware: token revoked")

func revokedKey(jti string) string { return "token:revoked:" + jti }

// Authenticate parses tokenStr and rejects it when its id was revoked.
// Both the REST middleware and the websocket handshake use it.
func Authenticate(ctx context.Context, tokenStr string, sec config.SecurityConfig, c cache.Cache) (*Claims, error) {
	claims, err := ParseToken(tokenStr, sec.JWTSecret)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return claims, nil
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	revoked, err := c.Exists(cacheCtx, revokedKey(claims.ID))
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// RevokeToken blocks the token until it would have expired anyway.
func RevokeToken(ctx context.Context, c cache.Cache, claims *Claims) error {
	if claims.ID == "" {
		return errors.New("middleware: token has no id")
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if left := time.Until(claims.ExpiresAt.Time); left > 0 {
			ttl = left
		}
	}
	return c.Set(ctx, revokedKey(claims.ID), "1", ttl)
}

// Auth validates the Bearer JWT token and checks it has not been revoked.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := Authenticate(ctx.Request.Context(), tokenStr, sec, c)
		if errors.Is(err, ErrTokenRevoked) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
			return
		}
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx.Set(OwnerIDKey, claims.OwnerID)
		ctx.Next()
	}
}

// GetOwnerID retrieves the authenticated owner ID from the Gin context.
func GetOwnerID(c *gin.Context) int64 {
	if v, exists := c.Get(OwnerIDKey); exists {
		return v.(int64)
	}
	return 0
}
