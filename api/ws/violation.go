package ws

import (
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/replication"
	"go.uber.org/zap"
)

// ViolationRecorder persists protocol violations.
type ViolationRecorder interface {
	RecordViolation(owner int64, move replication.Move, err error)
}

// ViolationPolicy records every violation and kicks the owner once the
// session reaches max. It runs on room loops, so it never blocks.
type ViolationPolicy struct {
	sm       *player.SessionManager
	recorder ViolationRecorder
	max      int
	logger   *zap.Logger
}

// NewViolationPolicy creates a ViolationPolicy. recorder may be nil; max <= 0
// never kicks.
func NewViolationPolicy(sm *player.SessionManager, recorder ViolationRecorder, max int, logger *zap.Logger) *ViolationPolicy {
	return &ViolationPolicy{sm: sm, recorder: recorder, max: max, logger: logger}
}

// ReportViolation implements replication.ViolationReporter.
func (p *ViolationPolicy) ReportViolation(owner int64, move replication.Move, err error) {
	if p.recorder != nil {
		p.recorder.RecordViolation(owner, move, err)
	}
	s := p.sm.Get(owner)
	if s == nil {
		return
	}
	n := s.AddViolation()
	p.logger.Warn("inventory violation",
		zap.Int64("owner_id", owner),
		zap.Int("count", n),
		zap.Error(err))
	if p.max > 0 && n >= p.max {
		p.sm.Kick(owner, "too many invalid inventory moves")
	}
}
