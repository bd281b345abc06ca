package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/id"
	"go.uber.org/zap"
)

// TimerCallback runs when a timer for its rule fires. Callbacks are
// registered per rule at startup because a function reference cannot be
// persisted with the timer row.
type TimerCallback func(accountID, ruleID string)

type timerKey struct {
	accountID string
	ruleID    string
}

type activeTimer struct {
	id      string
	firesAt time.Time
	stop    *time.Timer
	done    bool // fired or cancelled; exactly one of the two happens
}

// TimerManager is the named one-shot countdown primitive. At most one
// active timer exists per (account, rule); a new Create for the same
// key atomically replaces the old one. Active timers are persisted, and
// on restart ones whose fire time already passed fire immediately
// instead of being dropped.
type TimerManager struct {
	mu        sync.Mutex
	timers    map[timerKey]*activeTimer
	callbacks map[string]TimerCallback // rule id prefix -> callback

	repo domain.TimerRepository
	log  *zap.Logger
	now  func() time.Time
}

func NewTimerManager(repo domain.TimerRepository, log *zap.Logger) *TimerManager {
	return &TimerManager{
		timers:    make(map[timerKey]*activeTimer),
		callbacks: make(map[string]TimerCallback),
		repo:      repo,
		log:       log,
		now:       time.Now,
	}
}

// RegisterCallback binds the callback fired for timers whose rule id
// equals name or starts with name + ":". The suffix form lets a rule
// keep one timer per symbol (e.g. "no_stop_grace:ESZ5") while the key
// invariant stays (account, rule id).
func (m *TimerManager) RegisterCallback(name string, cb TimerCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[name] = cb
}

func (m *TimerManager) callbackFor(ruleID string) TimerCallback {
	if cb, ok := m.callbacks[ruleID]; ok {
		return cb
	}
	if i := strings.IndexByte(ruleID, ':'); i > 0 {
		if cb, ok := m.callbacks[ruleID[:i]]; ok {
			return cb
		}
	}
	return nil
}

// Create arms a one-shot timer for (account, rule). An existing timer
// for the same key is cancelled first, so it can never double-fire.
// The row is persisted before the countdown is armed.
func (m *TimerManager) Create(ctx context.Context, accountID, ruleID string, d time.Duration) (string, error) {
	key := timerKey{accountID: accountID, ruleID: ruleID}
	firesAt := m.now().Add(d)
	row := &domain.Timer{
		ID:        id.New(),
		AccountID: accountID,
		RuleID:    ruleID,
		Duration:  d,
		FiresAt:   firesAt,
	}
	if err := m.repo.SaveTimer(ctx, row); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.timers[key]; ok && !old.done {
		old.done = true
		old.stop.Stop()
	}
	at := &activeTimer{id: row.ID, firesAt: firesAt}
	at.stop = time.AfterFunc(d, func() { m.fire(key, at) })
	m.timers[key] = at
	return row.ID, nil
}

func (m *TimerManager) fire(key timerKey, at *activeTimer) {
	m.mu.Lock()
	if at.done {
		// Lost the race to Cancel (or to a superseding Create).
		m.mu.Unlock()
		return
	}
	at.done = true
	if m.timers[key] == at {
		delete(m.timers, key)
	}
	cb := m.callbackFor(key.ruleID)
	m.mu.Unlock()

	if err := m.repo.DeleteTimer(context.Background(), key.accountID, key.ruleID); err != nil {
		m.log.Error("failed to delete fired timer", zap.String("account", key.accountID), zap.String("rule", key.ruleID), zap.Error(err))
	}
	if cb == nil {
		m.log.Warn("timer fired with no registered callback", zap.String("rule", key.ruleID))
		return
	}
	cb(key.accountID, key.ruleID)
}

// Cancel removes the timer without firing it. Cancelling a timer that
// is racing its own fire resolves to exactly one outcome.
func (m *TimerManager) Cancel(ctx context.Context, accountID, ruleID string) {
	key := timerKey{accountID: accountID, ruleID: ruleID}
	m.mu.Lock()
	at, ok := m.timers[key]
	if ok && !at.done {
		at.done = true
		at.stop.Stop()
		delete(m.timers, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.repo.DeleteTimer(ctx, accountID, ruleID); err != nil {
		m.log.Error("failed to delete cancelled timer", zap.String("account", accountID), zap.String("rule", ruleID), zap.Error(err))
	}
}

// Remaining reports time left on the timer, zero when none is active.
func (m *TimerManager) Remaining(accountID, ruleID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.timers[timerKey{accountID: accountID, ruleID: ruleID}]
	if !ok || at.done {
		return 0
	}
	left := at.firesAt.Sub(m.now())
	if left < 0 {
		return 0
	}
	return left
}

// Restore rebuilds timers from storage. Rows whose fire time elapsed
// during the outage fire immediately; the rest are re-armed with their
// remaining duration. Callbacks must be registered before Restore.
func (m *TimerManager) Restore(ctx context.Context) error {
	rows, err := m.repo.ListTimers(ctx)
	if err != nil {
		return err
	}
	now := m.now()
	var overdue []timerKey
	m.mu.Lock()
	for _, row := range rows {
		key := timerKey{accountID: row.AccountID, ruleID: row.RuleID}
		left := row.FiresAt.Sub(now)
		if left <= 0 {
			overdue = append(overdue, key)
			continue
		}
		at := &activeTimer{id: row.ID, firesAt: row.FiresAt}
		k, a := key, at
		at.stop = time.AfterFunc(left, func() { m.fire(k, a) })
		m.timers[key] = at
	}
	m.mu.Unlock()

	for _, key := range overdue {
		m.log.Info("firing timer that elapsed while down", zap.String("account", key.accountID), zap.String("rule", key.ruleID))
		if err := m.repo.DeleteTimer(ctx, key.accountID, key.ruleID); err != nil {
			m.log.Error("failed to delete overdue timer", zap.Error(err))
		}
		m.mu.Lock()
		cb := m.callbackFor(key.ruleID)
		m.mu.Unlock()
		if cb != nil {
			cb(key.accountID, key.ruleID)
		}
	}
	return nil
}

// Stop cancels all countdowns without firing or deleting rows, for
// shutdown. Persisted rows are restored on the next start.
func (m *TimerManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, at := range m.timers {
		at.done = true
		at.stop.Stop()
		delete(m.timers, key)
	}
}
