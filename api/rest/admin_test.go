package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/satchel/api/rest"
	"github.com/kasuganosora/satchel/audit"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/config"
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/replication"
	"github.com/kasuganosora/satchel/game/world"
	mw "github.com/kasuganosora/satchel/middleware"
	"github.com/kasuganosora/satchel/model"
	"github.com/kasuganosora/satchel/scheduler"
	"github.com/kasuganosora/satchel/store"
	"github.com/kasuganosora/satchel/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const adminKey = "s3cret"

var testSec = config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}

func init() {
	gin.SetMode(gin.TestMode)
}

func nopLogger() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type env struct {
	db    *gorm.DB
	cache cache.Cache
	store *store.Store
	sm    *player.SessionManager
	wm    *world.Manager
	audit *audit.Service
	r     *gin.Engine
}

// newEnv wires the REST surface the way main does, minus rate limiting.
func newEnv(t *testing.T, key string) *env { return newEnvGrace(t, key, 0) }

// newEnvGrace keeps released rooms open for grace, as main does with
// inventory.close_grace.
func newEnvGrace(t *testing.T, key string, grace time.Duration) *env {
	t.Helper()
	e := &env{db: testutil.SetupTestDB(t), cache: testutil.SetupTestCache(t)}
	e.store = store.New(e.db, e.cache, 0, nopLogger())
	e.sm = player.NewSessionManager(nopLogger())
	e.audit = audit.New(e.db, nopLogger())
	cat := testutil.TestCatalog(t)
	sched := scheduler.New(nopLogger())
	opts := world.Options{
		Tick:        5 * time.Millisecond,
		LockTTL:     time.Minute,
		DefaultBags: []world.DefaultBag{{Template: testutil.Pouch}},
	}
	if grace > 0 {
		opts.Scheduler, opts.CloseGrace = sched, grace
	}
	e.wm = world.NewManager(e.store, e.cache, cat, cat, nil, e.audit, opts, nopLogger())
	t.Cleanup(func() {
		sched.Stop()
		_ = e.wm.CloseAll(context.Background())
		e.audit.Stop(context.Background())
	})

	authH := rest.NewAuthHandler(e.cache, testSec, nopLogger())
	invH := rest.NewInventoryHandler(e.wm, nopLogger())
	adminH := rest.NewAdminHandler(e.sm, e.wm, e.audit, sched, nopLogger())

	r := gin.New()
	r.Use(mw.TraceID())
	api := r.Group("/api")
	authed := api.Group("", mw.Auth(testSec, e.cache))
	authed.GET("/inventory", invH.Get)
	authed.POST("/auth/logout", authH.Logout)
	authed.POST("/auth/refresh", authH.Refresh)

	admin := api.Group("/admin", rest.AdminAuth(key))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.POST("/tokens", authH.Issue)
	admin.GET("/inventory/:owner", adminH.GetInventory)
	admin.POST("/inventory/:owner/delta", adminH.ApplyDelta)
	admin.POST("/inventory/:owner/bags", adminH.GrantBag)
	admin.POST("/kick/:owner", adminH.KickPlayer)
	e.r = r
	return e
}

func (e *env) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	return e.do(method, path, body, "X-Admin-Key", adminKey)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

// ---- AdminAuth ----

func TestAdminAuth_NoKey_Disabled(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(http.MethodGet, "/api/admin/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	e := newEnv(t, adminKey)
	w := e.do(http.MethodGet, "/api/admin/metrics", nil, "X-Admin-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminMetrics(t *testing.T) {
	e := newEnv(t, adminKey)
	w := e.admin(http.MethodGet, "/api/admin/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	decode(t, w, &resp)
	assert.Equal(t, float64(0), resp["online_owners"])
	assert.Equal(t, float64(0), resp["open_inventories"])
}

func TestAdminSchedulerTasks(t *testing.T) {
	e := newEnv(t, adminKey)
	w := e.admin(http.MethodGet, "/api/admin/scheduler", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tasks":[]}`, w.Body.String())
}

// ---- Deltas ----

func TestApplyDelta_GrantsAndReportsRemainder(t *testing.T) {
	e := newEnv(t, adminKey)

	// default pouch: 2 slots of ore (stack 10)
	w := e.admin(http.MethodPost, "/api/admin/inventory/7/delta", gin.H{"type_id": testutil.Ore, "quantity": 25})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Applied   int `json:"applied"`
		Remainder int `json:"remainder"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 20, resp.Applied)
	assert.Equal(t, 5, resp.Remainder)

	// the room closed once idle, so the grant is persisted
	assert.Nil(t, e.wm.Get(7))
	unsorted, err := e.store.LoadUnsorted(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 20, unsorted.Totals()[testutil.Ore])
}

func TestApplyDelta_OfflineOwnerSavedBeforeResponse(t *testing.T) {
	e := newEnvGrace(t, adminKey, time.Minute)

	w := e.admin(http.MethodPost, "/api/admin/inventory/7/delta", gin.H{"type_id": testutil.Ore, "quantity": 12})
	require.Equal(t, http.StatusOK, w.Code)

	// the room is still open inside its grace period
	require.NotNil(t, e.wm.Get(7))
	unsorted, err := e.store.LoadUnsorted(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 12, unsorted.Totals()[testutil.Ore])

	w = e.admin(http.MethodPost, "/api/admin/inventory/7/bags", gin.H{"template_id": testutil.Sack})
	require.Equal(t, http.StatusCreated, w.Code)
	unsorted, err = e.store.LoadUnsorted(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, unsorted.Bags, 2)
}

func TestApplyDelta_NegativeRemovesWhatIsHeld(t *testing.T) {
	e := newEnv(t, adminKey)
	require.Equal(t, http.StatusOK,
		e.admin(http.MethodPost, "/api/admin/inventory/7/delta", gin.H{"type_id": testutil.Credits, "quantity": 40}).Code)

	w := e.admin(http.MethodPost, "/api/admin/inventory/7/delta", gin.H{"type_id": testutil.Credits, "quantity": -50})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Applied   int `json:"applied"`
		Remainder int `json:"remainder"`
	}
	decode(t, w, &resp)
	assert.Equal(t, -40, resp.Applied)
	assert.Equal(t, -10, resp.Remainder)
}

func TestApplyDelta_BadInput(t *testing.T) {
	e := newEnv(t, adminKey)
	cases := []struct {
		name string
		path string
		body interface{}
	}{
		{"owner not a number", "/api/admin/inventory/abc/delta", gin.H{"type_id": 1, "quantity": 1}},
		{"owner zero", "/api/admin/inventory/0/delta", gin.H{"type_id": 1, "quantity": 1}},
		{"missing type", "/api/admin/inventory/7/delta", gin.H{"quantity": 1}},
		{"zero quantity", "/api/admin/inventory/7/delta", gin.H{"type_id": 1, "quantity": 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.admin(http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestApplyDelta_LockedElsewhere(t *testing.T) {
	e := newEnv(t, adminKey)
	ok, err := e.cache.SetNX(context.Background(), "lock:inv:7", "other-node", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	w := e.admin(http.MethodPost, "/api/admin/inventory/7/delta", gin.H{"type_id": testutil.Ore, "quantity": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApplyDelta_Audited(t *testing.T) {
	e := newEnv(t, adminKey)
	require.Equal(t, http.StatusOK,
		e.admin(http.MethodPost, "/api/admin/inventory/7/delta", gin.H{"type_id": testutil.Wood, "quantity": 3}).Code)

	e.audit.Stop(context.Background())
	var logs []model.AuditLog
	require.NoError(t, e.db.Where("action = ?", audit.ActionGrant).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].OwnerID)
	assert.Equal(t, int64(7), *logs[0].OwnerID)
	assert.NotEmpty(t, logs[0].TraceID)
	assert.Contains(t, string(logs[0].Response), `"applied":3`)
}

func TestApplyDelta_PushesToConnectedOwner(t *testing.T) {
	e := newEnv(t, adminKey)
	room, err := e.wm.Open(context.Background(), 7)
	require.NoError(t, err)
	s := &player.PlayerSession{OwnerID: 7, SendChan: make(chan []byte, 64), Done: make(chan struct{})}
	require.NoError(t, room.Attach(context.Background(), s))

	w := e.admin(http.MethodPost, "/api/admin/inventory/7/delta", gin.H{"type_id": testutil.Gem, "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, e.wm.Get(7), "attached room stays open")

	deadline := time.After(time.Second)
	for {
		select {
		case data := <-s.SendChan:
			var pkt player.Packet
			require.NoError(t, json.Unmarshal(data, &pkt))
			if pkt.Type != replication.TypeDelta {
				continue
			}
			var d replication.Delta
			require.NoError(t, json.Unmarshal(pkt.Payload, &d))
			assert.Equal(t, 1, d.Quantity)
			return
		case <-deadline:
			t.Fatal("no inv_delta pushed")
		}
	}
}

// ---- Bags ----

func TestGrantBag(t *testing.T) {
	e := newEnv(t, adminKey)
	w := e.admin(http.MethodPost, "/api/admin/inventory/7/bags", gin.H{"template_id": testutil.Sack, "category_id": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		InstanceID int64 `json:"instance_id"`
	}
	decode(t, w, &resp)
	assert.Equal(t, int64(2), resp.InstanceID, "default pouch took instance 1")

	w = e.admin(http.MethodGet, "/api/admin/inventory/7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msg replication.SnapshotMessage
	decode(t, w, &msg)
	require.Len(t, msg.Snapshot.Bags, 2)
	assert.Equal(t, 1, msg.Snapshot.Bags[1].CategoryID)
}

func TestGrantBag_UnknownTemplate(t *testing.T) {
	e := newEnv(t, adminKey)
	w := e.admin(http.MethodPost, "/api/admin/inventory/7/bags", gin.H{"template_id": 99})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "unknown bag template"))
}

// ---- Kick ----

func TestKickPlayer_NotOnline(t *testing.T) {
	e := newEnv(t, adminKey)
	w := e.admin(http.MethodPost, "/api/admin/kick/7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKickPlayer_Online(t *testing.T) {
	e := newEnv(t, adminKey)
	s := &player.PlayerSession{OwnerID: 7, SendChan: make(chan []byte, 8), Done: make(chan struct{})}
	e.sm.Register(s)

	w := e.admin(http.MethodPost, "/api/admin/kick/7", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.IsClosed())
}
