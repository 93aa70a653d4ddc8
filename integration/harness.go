package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/satchel/api/rest"
	apows "github.com/kasuganosora/satchel/api/ws"
	"github.com/kasuganosora/satchel/audit"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/catalog"
	"github.com/kasuganosora/satchel/config"
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/world"
	mw "github.com/kasuganosora/satchel/middleware"
	"github.com/kasuganosora/satchel/scheduler"
	"github.com/kasuganosora/satchel/store"
	"github.com/kasuganosora/satchel/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// AdminKey guards the admin routes of every TestServer.
const AdminKey = "integration-admin"

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB      *gorm.DB
	Cache   cache.Cache
	Catalog *catalog.Catalog
	Store   *store.Store
	Audit   *audit.Service
	SM      *player.SessionManager
	WM      *world.Manager
	Sched   *scheduler.Scheduler
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	WSURL   string // ws://127.0.0.1:<port>/ws
	Sec     config.SecurityConfig
}

// NewTestServer creates a fully wired server on a fresh database and cache.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	return NewNode(t, testutil.SetupTestDB(t), testutil.SetupTestCache(t))
}

// NewNode creates a server sharing db and c with other nodes, the way
// several processes share MySQL and Redis in production.
func NewNode(t *testing.T, db *gorm.DB, c cache.Cache) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}
	invCfg := config.InventoryConfig{
		TickMs:        10,
		LockTTL:       time.Minute,
		MaxViolations: 3,
		MoveRPS:       1000,
		MoveBurst:     1000,
	}

	// ---- Infrastructure ----
	cat := testutil.TestCatalog(t)
	st := store.New(db, c, 0, logger)
	auditSvc := audit.New(db, logger)

	// ---- Inventories ----
	sm := player.NewSessionManager(logger)
	policy := apows.NewViolationPolicy(sm, auditSvc, invCfg.MaxViolations, logger)
	sched := scheduler.New(logger)
	wm := world.NewManager(st, c, cat, cat, policy, auditSvc, world.Options{
		Tick:        time.Duration(invCfg.TickMs) * time.Millisecond,
		LockTTL:     invCfg.LockTTL,
		DefaultBags: []world.DefaultBag{{Template: testutil.Pouch}},
		Debug:       true,
		Scheduler:   sched,
	}, logger)
	sched.AddTicker("inv_autosave", time.Second, wm.SaveAll)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	apows.NewInventoryHandlers(wm, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(c, sec, logger)
	invH := apirest.NewInventoryHandler(wm, logger)
	adminH := apirest.NewAdminHandler(sm, wm, auditSvc, sched, logger)

	api := r.Group("/api")
	{
		authed := api.Group("", mw.Auth(sec, c))
		authed.GET("/inventory", invH.Get)
		authed.POST("/auth/logout", authH.Logout)
		authed.POST("/auth/refresh", authH.Refresh)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist([]string{"127.0.0.0/8", "::1"}), apirest.AdminAuth(AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/tokens", authH.Issue)
		adminG.GET("/inventory/:owner", adminH.GetInventory)
		adminG.POST("/inventory/:owner/delta", adminH.ApplyDelta)
		adminG.POST("/inventory/:owner/bags", adminH.GrantBag)
		adminG.POST("/kick/:owner", adminH.KickPlayer)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, sec, invCfg, sm, wm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	ts := &TestServer{
		DB:      db,
		Cache:   c,
		Catalog: cat,
		Store:   st,
		Audit:   auditSvc,
		SM:      sm,
		WM:      wm,
		Sched:   sched,
		Server:  server,
		URL:     url,
		WSURL:   wsURL,
		Sec:     sec,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts the node down in main.go's order.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.SM.CloseAllSessions()
	_ = ts.WM.CloseAll(context.Background())
	ts.Sched.Stop()
	ts.Audit.Stop(context.Background())
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	h := map[string]string{}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	return ts.do(t, http.MethodPost, path, body, h)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	h := map[string]string{}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	return ts.do(t, http.MethodGet, path, nil, h)
}

// Admin sends an admin request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, method, "/api/admin"+path, body, map[string]string{"X-Admin-Key": AdminKey})
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// IssueToken asks the admin API for an owner token.
func (ts *TestServer) IssueToken(t *testing.T, owner int64) string {
	t.Helper()
	resp := ts.Admin(t, http.MethodPost, "/tokens", map[string]int64{"owner_id": owner})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &result)
	require.NotEmpty(t, result.Token)
	return result.Token
}

// Grant applies a producer delta through the admin API and returns the
// applied quantity.
func (ts *TestServer) Grant(t *testing.T, owner int64, typeID, quantity int) int {
	t.Helper()
	resp := ts.Admin(t, http.MethodPost, fmt.Sprintf("/inventory/%d/delta", owner),
		map[string]int{"type_id": typeID, "quantity": quantity})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Applied int `json:"applied"`
	}
	ReadJSON(t, resp, &result)
	return result.Applied
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// Uses a background readLoop to avoid gorilla/websocket's SetReadDeadline bug.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult // buffered channel from readLoop
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, status, err := ts.DialWS(token)
	require.NoError(t, err, "WS dial failed with status %d", status)
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

// DialWS dials without failing the test and returns the handshake status.
func (ts *TestServer) DialWS(token string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(ts.WSURL+"?token="+token, nil)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			resp.Body.Close()
		}
	}
	return conn, status, err
}

// readLoop continuously reads from the websocket in a dedicated goroutine.
func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a packet of msgType carrying payload.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(player.Packet{Seq: seq, Type: msgType, Payload: payloadJSON})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one packet, returning an error instead of failing the test
// on timeout or read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (*player.Packet, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt player.Packet
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return &pkt, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

// timeoutError implements net.Error for timeout detection in callers.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// RecvType reads packets until one of msgType arrives and decodes its
// payload into v when v is not nil.
func (wc *WSClient) RecvType(msgType string, v interface{}, timeout time.Duration) {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt.Type != msgType {
			continue
		}
		if v != nil {
			require.NoError(wc.t, json.Unmarshal(pkt.Payload, v))
		}
		return
	}
}

// WaitClosed blocks until the server closes the connection.
func (wc *WSClient) WaitClosed(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := wc.RecvAny(time.Until(deadline)); err != nil {
			_, timedOut := err.(*timeoutError)
			return !timedOut
		}
	}
	return false
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}
