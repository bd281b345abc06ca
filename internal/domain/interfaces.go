package domain

import "context"

// TradingGateway is the enforcement side of the broker connection. All
// operations must be idempotent: asking for an end-state the account is
// already in succeeds trivially, so at-least-once delivery is safe.
type TradingGateway interface {
	ClosePosition(ctx context.Context, accountID, symbol string) error
	CloseAllPositions(ctx context.Context, accountID string) error
	CancelAllOrders(ctx context.Context, accountID string) error
	ReducePositionToSize(ctx context.Context, accountID, symbol string, size float64) error
}

// LockoutRepository persists lockout rows. Writes happen before the
// in-memory row is treated as authoritative.
type LockoutRepository interface {
	SaveLockout(ctx context.Context, l *Lockout) error
	DeleteLockout(ctx context.Context, key LockoutKey) error
	ListLockouts(ctx context.Context) ([]*Lockout, error)
}

// TimerRepository persists active timers so they survive a restart.
type TimerRepository interface {
	SaveTimer(ctx context.Context, t *Timer) error
	DeleteTimer(ctx context.Context, accountID, ruleID string) error
	ListTimers(ctx context.Context) ([]*Timer, error)
}

// PnLRepository persists daily P&L records. Save upserts the record
// for its (account, trading date) key; prior dates are never touched.
type PnLRepository interface {
	SaveDailyPnL(ctx context.Context, rec *DailyPnLRecord) error
	GetDailyPnL(ctx context.Context, accountID, tradingDate string) (*DailyPnLRecord, error)
	ListDailyPnLForDate(ctx context.Context, tradingDate string) ([]*DailyPnLRecord, error)
	ListDailyPnL(ctx context.Context, accountID string, limit int) ([]*DailyPnLRecord, error)
}

// ViolationRepository is the append-only audit log.
type ViolationRepository interface {
	SaveViolation(ctx context.Context, v *Violation) error
	ListViolations(ctx context.Context, limit int) ([]*Violation, error)
	ResolveViolation(ctx context.Context, id string) error
}
