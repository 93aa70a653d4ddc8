package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/config"
	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/replication"
	"github.com/kasuganosora/satchel/game/world"
	mw "github.com/kasuganosora/satchel/middleware"
	"github.com/kasuganosora/satchel/store"
	"github.com/kasuganosora/satchel/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wsSec = config.SecurityConfig{JWTSecret: "ws-secret", JWTTTLH: time.Hour}

type wsEnv struct {
	cache cache.Cache
	sm    *player.SessionManager
	wm    *world.Manager
	url   string
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &wsEnv{sm: player.NewSessionManager(nop()), cache: testutil.SetupTestCache(t)}
	cat := testutil.TestCatalog(t)
	st := store.New(testutil.SetupTestDB(t), e.cache, 0, nop())
	e.wm = world.NewManager(st, e.cache, cat, cat, nil, nil, world.Options{
		Tick:        5 * time.Millisecond,
		LockTTL:     time.Minute,
		DefaultBags: []world.DefaultBag{{Template: testutil.Pouch}},
	}, nop())
	t.Cleanup(func() { _ = e.wm.CloseAll(context.Background()) })

	r := NewRouter(nop())
	NewInventoryHandlers(e.wm, nop()).RegisterHandlers(r)
	h := NewHandler(e.cache, wsSec, config.InventoryConfig{MoveRPS: 100, MoveBurst: 100}, e.sm, e.wm, r, nop())

	eng := gin.New()
	eng.GET("/ws", h.ServeWS)
	srv := httptest.NewServer(eng)
	t.Cleanup(srv.Close)
	e.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return e
}

func (e *wsEnv) dial(t *testing.T, owner int64) (*websocket.Conn, *http.Response, error) {
	tok, err := mw.GenerateToken(owner, wsSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	return websocket.DefaultDialer.Dial(e.url+"?token="+tok, nil)
}

func readType(t *testing.T, conn *websocket.Conn, msgType string, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var pkt player.Packet
		require.NoError(t, json.Unmarshal(data, &pkt))
		if pkt.Type != msgType {
			continue
		}
		if v != nil {
			require.NoError(t, json.Unmarshal(pkt.Payload, v))
		}
		return
	}
}

func TestServeWS_MissingToken(t *testing.T) {
	e := newWSEnv(t)
	_, resp, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_BadToken(t *testing.T) {
	e := newWSEnv(t)
	_, resp, err := websocket.DefaultDialer.Dial(e.url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_LockedElsewhere(t *testing.T) {
	e := newWSEnv(t)
	// another node holds the owner lock
	set, err := e.cache.SetNX(context.Background(), "lock:inv:3", "other-node", time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	_, resp, err := e.dial(t, 3)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, e.sm.IsOnline(3))
}

func TestServeWS_SnapshotThenMove(t *testing.T) {
	e := newWSEnv(t)
	conn, _, err := e.dial(t, 4)
	require.NoError(t, err)
	defer conn.Close()

	var snap replication.SnapshotMessage
	readType(t, conn, replication.TypeSnapshot, &snap)
	require.Len(t, snap.Snapshot.Bags, 1, "default bag granted on first open")
	assert.Eventually(t, func() bool { return e.sm.IsOnline(4) }, time.Second, 5*time.Millisecond)

	room := e.wm.Get(4)
	require.NotNil(t, room)
	_, err = room.Grant(context.Background(), replication.Delta{Resource: testutil.Wood, Quantity: 8})
	require.NoError(t, err)
	var d replication.Delta
	readType(t, conn, replication.TypeDelta, &d)
	assert.Equal(t, 8, d.Quantity)

	payload, _ := json.Marshal(replication.Move{
		Seq:      1,
		From:     inventory.SlotLocation{Bag: 1, Slot: 0},
		To:       inventory.SlotLocation{Bag: 1, Slot: 1},
		Quantity: 3,
	})
	raw, _ := json.Marshal(player.Packet{Seq: 1, Type: replication.TypeMove, Payload: payload})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	var ack replication.MoveAck
	readType(t, conn, replication.TypeMoveAck, &ack)
	assert.True(t, ack.Applied)
}

func TestServeWS_DisconnectClosesRoom(t *testing.T) {
	e := newWSEnv(t)
	conn, _, err := e.dial(t, 4)
	require.NoError(t, err)
	readType(t, conn, replication.TypeSnapshot, nil)
	require.NotNil(t, e.wm.Get(4))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return e.wm.Get(4) == nil && !e.sm.IsOnline(4) },
		2*time.Second, 10*time.Millisecond)
}

func TestServeWS_ReconnectDisplacesOldSession(t *testing.T) {
	e := newWSEnv(t)
	first, _, err := e.dial(t, 4)
	require.NoError(t, err)
	defer first.Close()
	readType(t, first, replication.TypeSnapshot, nil)

	second, _, err := e.dial(t, 4)
	require.NoError(t, err)
	defer second.Close()
	readType(t, second, replication.TypeSnapshot, nil)

	// the displaced connection is closed by the server
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	// the room survives for the new session
	time.Sleep(50 * time.Millisecond)
	room := e.wm.Get(4)
	require.NotNil(t, room)
	assert.NotNil(t, room.Session())
}
