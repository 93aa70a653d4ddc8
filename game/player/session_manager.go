package player

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager maintains the registry of all connected PlayerSessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int64]*PlayerSession // ownerID → session
	logger   *zap.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*PlayerSession),
		logger:   logger,
	}
}

// Register adds a session. If a previous session exists for the same owner,
// it is closed first (handles duplicate login / reconnect).
func (sm *SessionManager) Register(s *PlayerSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if old, ok := sm.sessions[s.OwnerID]; ok && old != s {
		old.Close()
		sm.logger.Info("duplicate session displaced", zap.Int64("owner_id", s.OwnerID))
	}
	sm.sessions[s.OwnerID] = s
	sm.logger.Info("player session registered", zap.Int64("owner_id", s.OwnerID))
}

// Unregister removes s if it is still the registered session of its owner.
// It reports whether the session was removed; a displaced session returns false.
func (sm *SessionManager) Unregister(s *PlayerSession) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.sessions[s.OwnerID]; !ok || cur != s {
		return false
	}
	delete(sm.sessions, s.OwnerID)
	sm.logger.Info("player session unregistered", zap.Int64("owner_id", s.OwnerID))
	return true
}

// Get returns the session for an owner, or nil if not found.
func (sm *SessionManager) Get(ownerID int64) *PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[ownerID]
}

// IsOnline reports whether an owner is currently connected.
func (sm *SessionManager) IsOnline(ownerID int64) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.sessions[ownerID]
	return ok
}

// Count returns the number of currently connected sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Kick tells the owner why and closes the connection. The session stays
// registered until its read loop exits and unregisters it.
func (sm *SessionManager) Kick(ownerID int64, reason string) bool {
	s := sm.Get(ownerID)
	if s == nil {
		return false
	}
	s.SendJSON("kicked", map[string]string{"reason": reason})
	s.Close()
	sm.logger.Warn("player kicked", zap.Int64("owner_id", ownerID), zap.String("reason", reason))
	return true
}

// CloseAllSessions gracefully closes all connected sessions.
func (sm *SessionManager) CloseAllSessions() {
	sm.mu.Lock()
	sessions := make([]*PlayerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	// Wait for read loops to unregister (with timeout)
	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		sm.mu.RLock()
		count := len(sm.sessions)
		sm.mu.RUnlock()
		if count == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
