package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/trade_risk_guard/internal/domain"
)

// SQLiteStore persists the engine's crash-surviving state: lockouts,
// timers, daily P&L and the append-only violations log. It implements
// every repository interface in domain.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS lockouts (
			account_id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			reason TEXT NOT NULL,
			locked_at DATETIME NOT NULL,
			expires_at DATETIME,
			PRIMARY KEY (account_id, rule_id, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS timers (
			id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			fires_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, rule_id)
		);`,
		`CREATE TABLE IF NOT EXISTS daily_pnl (
			account_id TEXT NOT NULL,
			trading_date TEXT NOT NULL,
			realized_pnl REAL NOT NULL DEFAULT 0,
			unrealized_pnl REAL NOT NULL DEFAULT 0,
			peak_unrealized_profit REAL NOT NULL DEFAULT 0,
			trade_count INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, trading_date)
		);`,
		`CREATE TABLE IF NOT EXISTS violations (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			action TEXT NOT NULL,
			outcome TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_violations_account ON violations(account_id, occurred_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// LockoutRepository implementation

func (s *SQLiteStore) SaveLockout(ctx context.Context, l *domain.Lockout) error {
	query := `INSERT INTO lockouts (account_id, rule_id, symbol, kind, reason, locked_at, expires_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(account_id, rule_id, symbol) DO UPDATE SET
			  kind=excluded.kind,
			  reason=excluded.reason,
			  locked_at=excluded.locked_at,
			  expires_at=excluded.expires_at`
	var expires interface{}
	if l.ExpiresAt != nil {
		expires = l.ExpiresAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		l.AccountID, l.RuleID, l.Symbol, string(l.Kind), l.Reason, l.LockedAt.UTC(), expires)
	return err
}

func (s *SQLiteStore) DeleteLockout(ctx context.Context, key domain.LockoutKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM lockouts WHERE account_id = ? AND rule_id = ? AND symbol = ?`,
		key.AccountID, key.RuleID, key.Symbol)
	return err
}

func (s *SQLiteStore) ListLockouts(ctx context.Context) ([]*domain.Lockout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, rule_id, symbol, kind, reason, locked_at, expires_at FROM lockouts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Lockout
	for rows.Next() {
		var l domain.Lockout
		var kind string
		var expires sql.NullTime
		if err := rows.Scan(&l.AccountID, &l.RuleID, &l.Symbol, &kind, &l.Reason, &l.LockedAt, &expires); err != nil {
			return nil, err
		}
		l.Kind = domain.LockoutKind(kind)
		if expires.Valid {
			t := expires.Time
			l.ExpiresAt = &t
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// TimerRepository implementation

func (s *SQLiteStore) SaveTimer(ctx context.Context, t *domain.Timer) error {
	query := `INSERT INTO timers (id, account_id, rule_id, duration_ms, fires_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(account_id, rule_id) DO UPDATE SET
			  id=excluded.id,
			  duration_ms=excluded.duration_ms,
			  fires_at=excluded.fires_at`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.AccountID, t.RuleID, t.Duration.Milliseconds(), t.FiresAt.UTC())
	return err
}

func (s *SQLiteStore) DeleteTimer(ctx context.Context, accountID, ruleID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM timers WHERE account_id = ? AND rule_id = ?`, accountID, ruleID)
	return err
}

func (s *SQLiteStore) ListTimers(ctx context.Context) ([]*domain.Timer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, rule_id, duration_ms, fires_at FROM timers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Timer
	for rows.Next() {
		var t domain.Timer
		var durMs int64
		if err := rows.Scan(&t.ID, &t.AccountID, &t.RuleID, &durMs, &t.FiresAt); err != nil {
			return nil, err
		}
		t.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, &t)
	}
	return out, rows.Err()
}

// PnLRepository implementation

func (s *SQLiteStore) SaveDailyPnL(ctx context.Context, rec *domain.DailyPnLRecord) error {
	query := `INSERT INTO daily_pnl (account_id, trading_date, realized_pnl, unrealized_pnl, peak_unrealized_profit, trade_count, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(account_id, trading_date) DO UPDATE SET
			  realized_pnl=excluded.realized_pnl,
			  unrealized_pnl=excluded.unrealized_pnl,
			  peak_unrealized_profit=excluded.peak_unrealized_profit,
			  trade_count=excluded.trade_count,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		rec.AccountID, rec.TradingDate, rec.RealizedPnL, rec.UnrealizedPnL,
		rec.PeakUnrealizedProfit, rec.TradeCount, rec.UpdatedAt.UTC())
	return err
}

func (s *SQLiteStore) GetDailyPnL(ctx context.Context, accountID, tradingDate string) (*domain.DailyPnLRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, trading_date, realized_pnl, unrealized_pnl, peak_unrealized_profit, trade_count, updated_at
		 FROM daily_pnl WHERE account_id = ? AND trading_date = ?`, accountID, tradingDate)

	var rec domain.DailyPnLRecord
	err := row.Scan(&rec.AccountID, &rec.TradingDate, &rec.RealizedPnL, &rec.UnrealizedPnL,
		&rec.PeakUnrealizedProfit, &rec.TradeCount, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) ListDailyPnLForDate(ctx context.Context, tradingDate string) ([]*domain.DailyPnLRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, trading_date, realized_pnl, unrealized_pnl, peak_unrealized_profit, trade_count, updated_at
		 FROM daily_pnl WHERE trading_date = ?`, tradingDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDailyPnL(rows)
}

func (s *SQLiteStore) ListDailyPnL(ctx context.Context, accountID string, limit int) ([]*domain.DailyPnLRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, trading_date, realized_pnl, unrealized_pnl, peak_unrealized_profit, trade_count, updated_at
		 FROM daily_pnl WHERE account_id = ? ORDER BY trading_date DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDailyPnL(rows)
}

func scanDailyPnL(rows *sql.Rows) ([]*domain.DailyPnLRecord, error) {
	var out []*domain.DailyPnLRecord
	for rows.Next() {
		var rec domain.DailyPnLRecord
		if err := rows.Scan(&rec.AccountID, &rec.TradingDate, &rec.RealizedPnL, &rec.UnrealizedPnL,
			&rec.PeakUnrealizedProfit, &rec.TradeCount, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ViolationRepository implementation

func (s *SQLiteStore) SaveViolation(ctx context.Context, v *domain.Violation) error {
	query := `INSERT INTO violations (id, rule_id, account_id, symbol, severity, message, action, outcome, occurred_at, resolved)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.RuleID, v.AccountID, v.Symbol, string(v.Severity), v.Message,
		string(v.Action), v.Outcome, v.OccurredAt.UTC(), v.Resolved)
	return err
}

func (s *SQLiteStore) ListViolations(ctx context.Context, limit int) ([]*domain.Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_id, account_id, symbol, severity, message, action, outcome, occurred_at, resolved
		 FROM violations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Violation
	for rows.Next() {
		var v domain.Violation
		var severity, action string
		if err := rows.Scan(&v.ID, &v.RuleID, &v.AccountID, &v.Symbol, &severity, &v.Message,
			&action, &v.Outcome, &v.OccurredAt, &v.Resolved); err != nil {
			return nil, err
		}
		v.Severity = domain.Severity(severity)
		v.Action = domain.Action(action)
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResolveViolation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE violations SET resolved = 1 WHERE id = ?`, id)
	return err
}
