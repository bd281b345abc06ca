package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"go.uber.org/zap"
)

// LockoutManager is the sole authority on trading permission. Rows are
// keyed (account, rule, symbol) and upserted per exact key only, so an
// account can be locked by several independent rules at once and
// clearing one rule's lock does not unlock the account while another
// is still active. Expired rows are cleared lazily on read.
type LockoutManager struct {
	mu   sync.Mutex
	rows map[domain.LockoutKey]*domain.Lockout

	repo domain.LockoutRepository
	log  *zap.Logger
	now  func() time.Time
}

func NewLockoutManager(repo domain.LockoutRepository, log *zap.Logger) *LockoutManager {
	return &LockoutManager{
		rows: make(map[domain.LockoutKey]*domain.Lockout),
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

// Restore rebuilds lockout state from storage before any event is
// routed. A row with an unknown kind is kept as HARD: when persisted
// state is ambiguous the account stays locked, never unlocked.
func (m *LockoutManager) Restore(ctx context.Context) error {
	rows, err := m.repo.ListLockouts(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		switch row.Kind {
		case domain.LockHard, domain.LockSymbol, domain.LockTimer:
		default:
			m.log.Error("lockout row with unknown kind kept as HARD",
				zap.String("account", row.AccountID), zap.String("rule", row.RuleID),
				zap.Error(&domain.StateCorruptionError{Table: "lockouts", Msg: "unknown kind " + string(row.Kind)}))
			row.Kind = domain.LockHard
			row.ExpiresAt = nil
		}
		m.rows[row.Key()] = row
	}
	return nil
}

// Set upserts the lockout row for (account, rule, symbol). Rows held
// by other rules are untouched. The row is persisted before it becomes
// authoritative in memory.
func (m *LockoutManager) Set(ctx context.Context, accountID, ruleID string, kind domain.LockoutKind, reason string, expiresAt *time.Time, symbol string) error {
	row := &domain.Lockout{
		AccountID: accountID,
		RuleID:    ruleID,
		Symbol:    symbol,
		Kind:      kind,
		Reason:    reason,
		LockedAt:  m.now(),
		ExpiresAt: expiresAt,
	}
	if err := m.repo.SaveLockout(ctx, row); err != nil {
		// Keep the lock in memory anyway: losing a protective lock to a
		// storage hiccup would fail open.
		m.log.Error("failed to persist lockout", zap.String("account", accountID), zap.String("rule", ruleID), zap.Error(err))
	}
	m.mu.Lock()
	m.rows[row.Key()] = row
	m.mu.Unlock()

	m.log.Info("lockout set",
		zap.String("account", accountID),
		zap.String("rule", ruleID),
		zap.String("kind", string(kind)),
		zap.String("symbol", symbol),
		zap.String("reason", reason))
	return nil
}

// Clear removes the row for (account, rule, symbol). It is invoked by
// timer expiry, by scheduled resets, and by symbol-block configuration
// changes; there is no generic unlock reachable from outside the core.
func (m *LockoutManager) Clear(ctx context.Context, accountID, ruleID, symbol string) {
	key := domain.LockoutKey{AccountID: accountID, RuleID: ruleID, Symbol: symbol}
	m.mu.Lock()
	_, ok := m.rows[key]
	delete(m.rows, key)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.repo.DeleteLockout(ctx, key); err != nil {
		m.log.Error("failed to delete lockout", zap.String("account", accountID), zap.String("rule", ruleID), zap.Error(err))
	}
	m.log.Info("lockout cleared", zap.String("account", accountID), zap.String("rule", ruleID), zap.String("symbol", symbol))
}

// ClearRule removes every row held by one rule for an account,
// whatever the symbol. Used by scheduled resets.
func (m *LockoutManager) ClearRule(ctx context.Context, accountID, ruleID string) {
	m.mu.Lock()
	var keys []domain.LockoutKey
	for key := range m.rows {
		if key.AccountID == accountID && key.RuleID == ruleID {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()
	for _, key := range keys {
		m.Clear(ctx, key.AccountID, key.RuleID, key.Symbol)
	}
}

// ClearRuleAll removes every row held by one rule across accounts.
func (m *LockoutManager) ClearRuleAll(ctx context.Context, ruleID string) {
	m.mu.Lock()
	var keys []domain.LockoutKey
	for key := range m.rows {
		if key.RuleID == ruleID {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()
	for _, key := range keys {
		m.Clear(ctx, key.AccountID, key.RuleID, key.Symbol)
	}
}

// IsLocked reports whether any unexpired account-wide row exists for
// the account, from any rule, of any kind.
func (m *LockoutManager) IsLocked(accountID string) bool {
	return m.locked(accountID, "")
}

// IsLockedSymbol reports whether the account may not trade the symbol:
// true when an unexpired account-wide row OR an unexpired row for that
// specific symbol exists.
func (m *LockoutManager) IsLockedSymbol(accountID, symbol string) bool {
	return m.locked(accountID, symbol)
}

// AllAccounts is the account key for configuration-driven rows that
// apply to every account, e.g. permanent symbol blocks.
const AllAccounts = "*"

func (m *LockoutManager) locked(accountID, symbol string) bool {
	now := m.now()
	m.mu.Lock()
	var expired []domain.LockoutKey
	hit := false
	for key, row := range m.rows {
		if key.AccountID != accountID && key.AccountID != AllAccounts {
			continue
		}
		if row.Expired(now) {
			expired = append(expired, key)
			continue
		}
		if key.Symbol == "" || key.Symbol == symbol {
			hit = true
		}
	}
	for _, key := range expired {
		delete(m.rows, key)
	}
	m.mu.Unlock()

	for _, key := range expired {
		if err := m.repo.DeleteLockout(context.Background(), key); err != nil {
			m.log.Error("failed to delete expired lockout", zap.String("account", key.AccountID), zap.String("rule", key.RuleID), zap.Error(err))
		}
	}
	return hit
}

// Active returns copies of the account's unexpired rows, for display.
func (m *LockoutManager) Active(accountID string) []*domain.Lockout {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Lockout
	for key, row := range m.rows {
		if key.AccountID != accountID || row.Expired(now) {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out
}
