package domain

import "time"

type LockoutKind string

const (
	// LockHard is an account-wide block cleared only by the scheduled reset.
	LockHard LockoutKind = "HARD"
	// LockSymbol blocks one symbol indefinitely until explicitly cleared.
	LockSymbol LockoutKind = "SYMBOL"
	// LockTimer is a cooldown block cleared when its timer fires.
	LockTimer LockoutKind = "TIMER"
)

// Lockout is one row of lockout state, keyed (account, rule, symbol).
// Symbol is empty for account-wide rows. At most one row per key;
// rows held by different rules coexist and never overwrite each other.
type Lockout struct {
	AccountID string
	RuleID    string
	Symbol    string
	Kind      LockoutKind
	Reason    string
	LockedAt  time.Time
	ExpiresAt *time.Time // nil = indefinite, cleared only by explicit action
}

// Expired reports whether the row's expiry has passed. Indefinite rows
// never expire.
func (l *Lockout) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Key returns the composite identity of the row.
func (l *Lockout) Key() LockoutKey {
	return LockoutKey{AccountID: l.AccountID, RuleID: l.RuleID, Symbol: l.Symbol}
}

type LockoutKey struct {
	AccountID string
	RuleID    string
	Symbol    string
}

// Timer is a persisted one-shot countdown, keyed (account, rule).
// Creating a new timer for an existing key cancels the old one.
type Timer struct {
	ID        string
	AccountID string
	RuleID    string
	Duration  time.Duration
	FiresAt   time.Time
}
