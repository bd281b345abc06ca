package usecase

import (
	"sync"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"go.uber.org/zap"
)

type resetEntry struct {
	ruleID string
	tod    domain.TimeOfDay
	loc    *time.Location
	cb     func()
	timer  *time.Timer
	next   time.Time
}

// ResetScheduler invokes callbacks at a configured wall-clock time in a
// configured timezone, once per day. The next occurrence is recomputed
// fresh against the timezone's wall clock after every fire, so a DST
// transition shifts the armed instant with the clock instead of
// drifting by a fixed 24h offset.
type ResetScheduler struct {
	mu      sync.Mutex
	entries map[string]*resetEntry
	stopped bool

	log *zap.Logger
	now func() time.Time
}

func NewResetScheduler(log *zap.Logger) *ResetScheduler {
	return &ResetScheduler{
		entries: make(map[string]*resetEntry),
		log:     log,
		now:     time.Now,
	}
}

// NextOccurrence computes the next wall-clock occurrence of tod in loc:
// today if it hasn't passed yet, otherwise tomorrow. time.Date
// normalizes day+1 through DST transitions.
func NextOccurrence(now time.Time, tod domain.TimeOfDay, loc *time.Location) time.Time {
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, loc)
	if !target.After(now) {
		target = time.Date(local.Year(), local.Month(), local.Day()+1, tod.Hour, tod.Minute, 0, 0, loc)
	}
	return target
}

// Register arms a daily callback for ruleID at timeOfDay ("HH:MM") in
// tz. Registering the same rule again replaces the old entry.
func (s *ResetScheduler) Register(ruleID, timeOfDay, tz string, cb func()) error {
	tod, err := domain.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return &domain.ConfigurationError{RuleID: ruleID, Field: "reset_time", Msg: err.Error()}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &domain.ConfigurationError{RuleID: ruleID, Field: "timezone", Msg: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[ruleID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &resetEntry{ruleID: ruleID, tod: tod, loc: loc, cb: cb}
	s.entries[ruleID] = e
	s.armLocked(e)
	return nil
}

func (s *ResetScheduler) armLocked(e *resetEntry) {
	now := s.now()
	e.next = NextOccurrence(now, e.tod, e.loc)
	d := e.next.Sub(now)
	if d < 0 {
		// Clock skew: the computed target is already behind us.
		s.log.Warn("scheduled reset target in the past, firing immediately",
			zap.String("rule", e.ruleID), zap.Time("target", e.next))
		d = 0
	}
	e.timer = time.AfterFunc(d, func() { s.fire(e.ruleID) })
}

func (s *ResetScheduler) fire(ruleID string) {
	s.mu.Lock()
	e, ok := s.entries[ruleID]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	cb := e.cb
	s.mu.Unlock()

	s.log.Info("scheduled reset firing", zap.String("rule", ruleID))
	cb()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if e, ok := s.entries[ruleID]; ok {
		s.armLocked(e)
	}
}

// NextReset returns the instant the rule's next reset fires, zero when
// the rule has no schedule. Hard-lockout rules stamp expires_at with
// this.
func (s *ResetScheduler) NextReset(ruleID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ruleID]; ok {
		return e.next
	}
	return time.Time{}
}

// Stop cancels all scheduled resets.
func (s *ResetScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
