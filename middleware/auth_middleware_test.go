package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err)
	return c
}

func newProtectedRouter(sec config.SecurityConfig, c cache.Cache) *gin.Engine {
	r := gin.New()
	r.Use(Auth(sec, c))
	r.GET("/protected", func(ctx *gin.Context) {
		ctx.Status(http.StatusOK)
	})
	return r
}

func bearer(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingAuthHeader(t *testing.T) {
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}
	r := newProtectedRouter(sec, setupTestCache(t))

	w := bearer(r, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_NoBearer(t *testing.T) {
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}
	r := newProtectedRouter(sec, setupTestCache(t))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}
	r := newProtectedRouter(sec, setupTestCache(t))

	w := bearer(r, "/protected", "notavalidtoken")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidToken(t *testing.T) {
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}
	r := newProtectedRouter(sec, setupTestCache(t))

	token, err := GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)

	w := bearer(r, "/protected", token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_RevokedToken(t *testing.T) {
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}
	c := setupTestCache(t)
	r := newProtectedRouter(sec, c)

	token, err := GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken(token, "secret")
	require.NoError(t, err)
	require.NoError(t, RevokeToken(context.Background(), c, claims))

	w := bearer(r, "/protected", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "revoked")

	// Other tokens of the same owner stay valid.
	other, err := GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, bearer(r, "/protected", other).Code)
}

func TestAuthenticate_Revoked(t *testing.T) {
	sec := config.SecurityConfig{JWTSecret: "secret"}
	c := setupTestCache(t)
	token, _ := GenerateToken(5, "secret", time.Hour)

	claims, err := Authenticate(context.Background(), token, sec, c)
	require.NoError(t, err)
	assert.Equal(t, int64(5), claims.OwnerID)

	require.NoError(t, RevokeToken(context.Background(), c, claims))
	_, err = Authenticate(context.Background(), token, sec, c)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAuth_SetsOwnerIDInContext(t *testing.T) {
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}
	c := setupTestCache(t)

	var gotOwnerID int64
	r := gin.New()
	r.Use(Auth(sec, c))
	r.GET("/me", func(ctx *gin.Context) {
		gotOwnerID = GetOwnerID(ctx)
		ctx.Status(http.StatusOK)
	})

	token, err := GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)

	w := bearer(r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), gotOwnerID)
}

func TestGetOwnerID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, int64(0), GetOwnerID(c))
}

func TestGetOwnerID_Present(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(OwnerIDKey, int64(99))
	assert.Equal(t, int64(99), GetOwnerID(c))
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(TraceID())
	r.Use(Recovery(logger))
	r.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), w.Header().Get(TraceIDHeader))
}

func TestRecovery_NoPanic_PassesThrough(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(Recovery(logger))
	r.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_RequestLogged(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(TraceID())
	r.Use(Logger(logger))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_ErrorResponse(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(Logger(logger))
	r.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
