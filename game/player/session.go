package player

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlayerSession is the WebSocket connection of one inventory owner.
type PlayerSession struct {
	OwnerID int64

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	moveLimiter *rate.Limiter
	violations  atomic.Int32

	closeOnce sync.Once
	logger    *zap.Logger
}

// NewPlayerSession creates a new PlayerSession with write goroutine started.
func NewPlayerSession(ownerID int64, conn *websocket.Conn, logger *zap.Logger) *PlayerSession {
	s := &PlayerSession{
		OwnerID:  ownerID,
		Conn:     conn,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		logger:   logger,
	}
	go s.writePump()
	return s
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *PlayerSession) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.Int64("owner_id", s.OwnerID),
					zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.Done:
			s.flush()
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, so a kick notice reaches the peer.
func (s *PlayerSession) flush() {
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *PlayerSession) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	s.enqueue(data, pkt.Type)
}

// SendRaw sends raw bytes non-blocking. Drops if channel full or closed.
func (s *PlayerSession) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	s.enqueue(data, "")
}

// SendJSON wraps v as the payload of a packet of the given type.
func (s *PlayerSession) SendJSON(msgType string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("encode payload", zap.String("type", msgType), zap.Error(err))
		}
		return
	}
	s.Send(&Packet{Type: msgType, Payload: payload})
}

func (s *PlayerSession) enqueue(data []byte, msgType string) {
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() && s.logger != nil {
			s.logger.Warn("send channel full, dropping packet",
				zap.Int64("owner_id", s.OwnerID),
				zap.String("type", msgType))
		}
	}
}

// Close signals the writePump to shut down.
func (s *PlayerSession) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// IsClosed returns true if the session has been closed.
func (s *PlayerSession) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *PlayerSession) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
}

// SetMoveLimit caps how many inventory moves per second the peer may send.
// rps <= 0 removes the cap.
func (s *PlayerSession) SetMoveLimit(rps float64, burst int) {
	if rps <= 0 {
		s.moveLimiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.moveLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// AllowMove reports whether another move fits the rate limit.
func (s *PlayerSession) AllowMove() bool {
	return s.moveLimiter == nil || s.moveLimiter.Allow()
}

// AddViolation counts one protocol violation and returns the running total.
func (s *PlayerSession) AddViolation() int {
	return int(s.violations.Add(1))
}
