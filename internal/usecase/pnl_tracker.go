package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"go.uber.org/zap"
)

// PnLTracker caches the last traded price per symbol, tracks open
// positions, and aggregates realized/unrealized P&L per account per
// trading day. It is the one component genuinely shared across account
// workers: the quote cache is keyed by symbol, and updates to a symbol
// take the tracker lock so a reader never observes a stale price
// overwriting a newer one.
type PnLTracker struct {
	mu         sync.RWMutex
	lastPrices map[string]float64
	positions  map[string]map[string]*domain.Position // account -> symbol -> position
	days       map[string]*domain.DailyPnLRecord      // account -> active day record
	specs      map[string]domain.ContractSpec

	repo   domain.PnLRepository
	loc    *time.Location
	anchor time.Duration // reset time-of-day; the trading day runs reset to reset
	log    *zap.Logger
	now    func() time.Time
}

// NewPnLTracker builds the tracker. resetAt is the scheduled daily
// reset; a day record covers one reset-to-reset period, not one
// calendar date, so a 17:00 reset keeps the overnight session on one
// record. A zero resetAt anchors the day at midnight.
func NewPnLTracker(repo domain.PnLRepository, specs []domain.ContractSpec, loc *time.Location, resetAt domain.TimeOfDay, log *zap.Logger) *PnLTracker {
	m := make(map[string]domain.ContractSpec, len(specs))
	for _, s := range specs {
		m[s.Symbol] = s
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PnLTracker{
		lastPrices: make(map[string]float64),
		positions:  make(map[string]map[string]*domain.Position),
		days:       make(map[string]*domain.DailyPnLRecord),
		specs:      m,
		repo:       repo,
		loc:        loc,
		anchor:     time.Duration(resetAt.Minutes()) * time.Minute,
		log:        log,
		now:        time.Now,
	}
}

// tradingDate keys the record by the date the current reset-to-reset
// period started on. Shifting back by the reset time-of-day means the
// key only changes when the period does, so totals accumulated before
// midnight are not cut off at midnight.
func (t *PnLTracker) tradingDate(at time.Time) string {
	return at.In(t.loc).Add(-t.anchor).Format("2006-01-02")
}

// Restore loads the current trading day's records from storage so
// totals survive a restart. It runs before any event is routed.
func (t *PnLTracker) Restore(ctx context.Context) error {
	today := t.tradingDate(t.now())
	recs, err := t.repo.ListDailyPnLForDate(ctx, today)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range recs {
		t.days[rec.AccountID] = rec
	}
	return nil
}

func (t *PnLTracker) dayLocked(accountID string) *domain.DailyPnLRecord {
	rec, ok := t.days[accountID]
	today := t.tradingDate(t.now())
	if !ok || rec.TradingDate != today {
		rec = &domain.DailyPnLRecord{AccountID: accountID, TradingDate: today}
		t.days[accountID] = rec
	}
	return rec
}

// Day returns a copy of the account's active daily record.
func (t *PnLTracker) Day(accountID string) domain.DailyPnLRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.dayLocked(accountID)
}

// RollDay supersedes the account's active record with a fresh one for
// the current trading date. The old record stays in storage for audit.
// Invoked by the reset scheduler's daily callback.
func (t *PnLTracker) RollDay(ctx context.Context, accountID string) {
	t.mu.Lock()
	rec := &domain.DailyPnLRecord{
		AccountID:   accountID,
		TradingDate: t.tradingDate(t.now()),
		UpdatedAt:   t.now(),
	}
	t.days[accountID] = rec
	t.mu.Unlock()

	if err := t.repo.SaveDailyPnL(ctx, rec); err != nil {
		t.log.Error("failed to persist rolled day", zap.String("account", accountID), zap.Error(err))
	}
}

// RecordTrade applies a fill to the account's daily totals. A nil
// realizedPnL marks an opening (half-turn) fill and changes nothing.
// The realized total is written through before the in-memory record is
// treated as authoritative; on a write failure the memory update still
// happens so a loss is never uncounted.
func (t *PnLTracker) RecordTrade(ctx context.Context, accountID string, realizedPnL *float64) error {
	if realizedPnL == nil {
		return nil
	}

	t.mu.Lock()
	rec := t.dayLocked(accountID)
	rec.RealizedPnL += *realizedPnL
	rec.TradeCount++
	rec.UpdatedAt = t.now()
	snapshot := *rec
	t.mu.Unlock()

	if err := t.repo.SaveDailyPnL(ctx, &snapshot); err != nil {
		t.log.Error("failed to persist daily pnl", zap.String("account", accountID), zap.Error(err))
		return err
	}
	return nil
}

// UpsertPosition records a position snapshot. A zero-size snapshot
// removes the position.
func (t *PnLTracker) UpsertPosition(p *domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Size == 0 {
		delete(t.positions[p.AccountID], p.Symbol)
		t.recomputeUnrealizedLocked(p.AccountID)
		return
	}
	m, ok := t.positions[p.AccountID]
	if !ok {
		m = make(map[string]*domain.Position)
		t.positions[p.AccountID] = m
	}
	cp := *p
	if last, ok := t.lastPrices[p.Symbol]; ok {
		cp.UnrealizedPnL = t.unrealizedLocked(&cp, last)
	}
	m[p.Symbol] = &cp
	t.recomputeUnrealizedLocked(p.AccountID)
}

// RemovePosition drops the position for (account, symbol).
func (t *PnLTracker) RemovePosition(accountID, symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions[accountID], symbol)
	t.recomputeUnrealizedLocked(accountID)
}

// Position returns a copy of the open position, or nil when flat.
func (t *PnLTracker) Position(accountID, symbol string) *domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.positions[accountID][symbol]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Positions returns copies of all open positions for the account.
func (t *PnLTracker) Positions(accountID string) []*domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*domain.Position, 0, len(t.positions[accountID]))
	for _, p := range t.positions[accountID] {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Accounts lists every account with tracked state (a day record or an
// open position).
func (t *PnLTracker) Accounts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	for acct := range t.days {
		seen[acct] = true
	}
	for acct := range t.positions {
		seen[acct] = true
	}
	out := make([]string, 0, len(seen))
	for acct := range seen {
		out = append(out, acct)
	}
	return out
}

// AccountsInSymbol lists accounts holding an open position in symbol.
func (t *PnLTracker) AccountsInSymbol(symbol string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for acct, m := range t.positions {
		if _, ok := m[symbol]; ok {
			out = append(out, acct)
		}
	}
	return out
}

// LastPrice returns the cached last traded price, zero if never seen.
func (t *PnLTracker) LastPrice(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastPrices[symbol]
}

func (t *PnLTracker) unrealizedLocked(p *domain.Position, last float64) float64 {
	point := 1.0
	if spec, ok := t.specs[p.Symbol]; ok {
		point = spec.PointValue()
	}
	// Size is signed, so the sign of the move already carries direction.
	return (last - p.AvgPrice) * p.Size * point
}

func (t *PnLTracker) recomputeUnrealizedLocked(accountID string) {
	var total float64
	for sym, p := range t.positions[accountID] {
		if last, ok := t.lastPrices[sym]; ok {
			p.UnrealizedPnL = t.unrealizedLocked(p, last)
		}
		total += p.UnrealizedPnL
	}
	rec := t.dayLocked(accountID)
	rec.UnrealizedPnL = total
	if total > rec.PeakUnrealizedProfit {
		rec.PeakUnrealizedProfit = total
	}
	rec.UpdatedAt = t.now()
}

// OnQuote updates the symbol's cached price and recomputes unrealized
// P&L for every open position in that symbol. It returns the accounts
// whose totals changed so the engine can fan out rule evaluation. The
// daily record write is best-effort: unrealized totals rebuild from
// positions and cached prices, so a missed write loses nothing
// authoritative.
func (t *PnLTracker) OnQuote(ctx context.Context, symbol string, lastPrice float64) []string {
	t.mu.Lock()
	t.lastPrices[symbol] = lastPrice

	var touched []string
	var snapshots []domain.DailyPnLRecord
	for acct, m := range t.positions {
		if _, ok := m[symbol]; !ok {
			continue
		}
		t.recomputeUnrealizedLocked(acct)
		touched = append(touched, acct)
		snapshots = append(snapshots, *t.days[acct])
	}
	t.mu.Unlock()

	for i := range snapshots {
		if err := t.repo.SaveDailyPnL(ctx, &snapshots[i]); err != nil {
			t.log.Warn("failed to persist unrealized pnl", zap.String("account", snapshots[i].AccountID), zap.Error(err))
		}
	}
	return touched
}
