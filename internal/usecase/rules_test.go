package usecase_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/usecase"
)

func mustRule(t *testing.T, cfg domain.RuleConfig) usecase.Rule {
	t.Helper()
	r, err := usecase.NewRule(cfg)
	if err != nil {
		t.Fatalf("NewRule(%s): %v", cfg.ID, err)
	}
	return r
}

func viewAt(accountID string, now time.Time) *usecase.AccountView {
	return &usecase.AccountView{AccountID: accountID, Now: now}
}

func TestBuildRules_RefusesInvalidWithoutBlockingOthers(t *testing.T) {
	rules, errs := usecase.BuildRules([]domain.RuleConfig{
		{ID: "daily_loss", Kind: domain.RuleDailyLoss, Enabled: true, Threshold: 500, ResetTime: "17:00", Timezone: "UTC"}, // positive threshold: invalid
		{ID: "max_size", Kind: domain.RuleMaxPositionSize, Enabled: true, Threshold: 5, Remedy: domain.RemedyReduceToLimit},
		{ID: "disabled", Kind: domain.RuleDailyLoss, Enabled: false},
	})
	if len(rules) != 1 || rules[0].ID() != "max_size" {
		t.Fatalf("rules = %v, want only max_size", rules)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one refusal", errs)
	}
	var cerr *domain.ConfigurationError
	if !errors.As(errs[0], &cerr) || cerr.RuleID != "daily_loss" {
		t.Fatalf("err = %v, want ConfigurationError for daily_loss", errs[0])
	}
}

func TestDailyLossRule_CombinedMode(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "daily_loss", Kind: domain.RuleDailyLoss, Enabled: true,
		Threshold: -500, IncludeUnrealized: true, ResetTime: "17:00", Timezone: "UTC",
	})

	v := viewAt("acct-1", time.Now())
	v.Day = domain.DailyPnLRecord{RealizedPnL: -200, UnrealizedPnL: -250}
	if d := r.Evaluate(&domain.Event{Type: domain.EventQuoteUpdate}, v); d != nil {
		t.Fatalf("combined -450 should not breach -500, got %+v", d)
	}

	v.Day.UnrealizedPnL = -300
	d := r.Evaluate(&domain.Event{Type: domain.EventQuoteUpdate}, v)
	if d == nil {
		t.Fatal("combined -500 must breach")
	}
	if d.Action != domain.ActionCloseAll || d.Priority != domain.PriorityHardLockout {
		t.Fatalf("directive = %+v, want hard close-all", d)
	}
	if d.LockKind != domain.LockHard || !d.CancelOrders {
		t.Fatalf("directive = %+v, want HARD lock with order cancel", d)
	}
}

func TestDailyLossRule_RealizedOnlyIgnoresUnrealized(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "daily_loss", Kind: domain.RuleDailyLoss, Enabled: true,
		Threshold: -500, ResetTime: "17:00", Timezone: "UTC",
	})
	v := viewAt("acct-1", time.Now())
	v.Day = domain.DailyPnLRecord{RealizedPnL: -100, UnrealizedPnL: -900}
	if d := r.Evaluate(&domain.Event{Type: domain.EventTradeExecuted}, v); d != nil {
		t.Fatalf("realized-only mode must ignore unrealized, got %+v", d)
	}
}

func TestDailyLossRule_StampsExpiryFromNextReset(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "daily_loss", Kind: domain.RuleDailyLoss, Enabled: true,
		Threshold: -500, ResetTime: "17:00", Timezone: "UTC",
	})
	next := time.Now().Add(6 * time.Hour)
	v := viewAt("acct-1", time.Now())
	v.Day = domain.DailyPnLRecord{RealizedPnL: -550}
	v.NextReset = func(ruleID string) time.Time { return next }

	d := r.Evaluate(&domain.Event{Type: domain.EventTradeExecuted}, v)
	if d == nil || d.ExpiresAt == nil || !d.ExpiresAt.Equal(next) {
		t.Fatalf("directive = %+v, want expiry at next reset", d)
	}
}

func TestDailyProfitRule_PeakCountsTowardTarget(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "daily_profit", Kind: domain.RuleDailyProfit, Enabled: true,
		Threshold: 1000, IncludeUnrealized: true, ResetTime: "17:00", Timezone: "UTC",
	})
	v := viewAt("acct-1", time.Now())
	v.Day = domain.DailyPnLRecord{RealizedPnL: 200, UnrealizedPnL: 300, PeakUnrealizedProfit: 800}

	// Current combined is 500, but the day touched 200+800 = 1000.
	if d := r.Evaluate(&domain.Event{Type: domain.EventQuoteUpdate}, v); d == nil {
		t.Fatal("peak touching the target must trip the rule")
	}
}

func TestPositionLossRule_ClosesWorstOffenderOnly(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "position_loss", Kind: domain.RulePositionLoss, Enabled: true, Threshold: -100,
	})
	v := viewAt("acct-1", time.Now())
	v.Positions = []*domain.Position{
		{Symbol: "ESZ5", Size: 1, UnrealizedPnL: -150},
		{Symbol: "NQZ5", Size: 1, UnrealizedPnL: -400},
		{Symbol: "RTY5", Size: 1, UnrealizedPnL: -50},
	}

	d := r.Evaluate(&domain.Event{Type: domain.EventPositionUpdated}, v)
	if d == nil || d.Symbol != "NQZ5" || d.Action != domain.ActionClosePosition {
		t.Fatalf("directive = %+v, want close of NQZ5", d)
	}
	if d.Priority != domain.PriorityReduce || d.LockKind != "" {
		t.Fatalf("directive = %+v, trade-by-trade rules must not lock", d)
	}
}

func TestPositionLossRule_QuoteEventScopedToSymbol(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "position_loss", Kind: domain.RulePositionLoss, Enabled: true, Threshold: -100,
	})
	v := viewAt("acct-1", time.Now())
	v.Positions = []*domain.Position{
		{Symbol: "ESZ5", Size: 1, UnrealizedPnL: -150},
	}

	// A quote for another symbol cannot implicate this position.
	if d := r.Evaluate(&domain.Event{Type: domain.EventQuoteUpdate, Symbol: "NQZ5"}, v); d != nil {
		t.Fatalf("directive = %+v, want nil for unrelated quote", d)
	}
}

func TestPositionProfitRule_TakesBestOffTheTable(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "position_profit", Kind: domain.RulePositionProfit, Enabled: true, Threshold: 250,
	})
	v := viewAt("acct-1", time.Now())
	v.Positions = []*domain.Position{
		{Symbol: "ESZ5", Size: 1, UnrealizedPnL: 300},
		{Symbol: "NQZ5", Size: 1, UnrealizedPnL: 600},
	}
	d := r.Evaluate(&domain.Event{Type: domain.EventPositionUpdated}, v)
	if d == nil || d.Symbol != "NQZ5" {
		t.Fatalf("directive = %+v, want close of NQZ5", d)
	}
}

func TestMaxPositionSizeRule_RemedyChoice(t *testing.T) {
	v := viewAt("acct-1", time.Now())
	v.Positions = []*domain.Position{{Symbol: "ESZ5", Size: -8}}
	ev := &domain.Event{Type: domain.EventPositionUpdated, Symbol: "ESZ5"}

	reduce := mustRule(t, domain.RuleConfig{
		ID: "max_size", Kind: domain.RuleMaxPositionSize, Enabled: true,
		Threshold: 5, Remedy: domain.RemedyReduceToLimit,
	})
	d := reduce.Evaluate(ev, v)
	if d == nil || d.Action != domain.ActionReduceToLimit {
		t.Fatalf("directive = %+v, want reduce", d)
	}
	// Short position reduces toward -5, keeping direction.
	if d.TargetSize != -5 {
		t.Fatalf("target size = %v, want -5", d.TargetSize)
	}

	closeOut := mustRule(t, domain.RuleConfig{
		ID: "max_size", Kind: domain.RuleMaxPositionSize, Enabled: true,
		Threshold: 5, Remedy: domain.RemedyClosePosition,
	})
	if d := closeOut.Evaluate(ev, v); d == nil || d.Action != domain.ActionClosePosition {
		t.Fatalf("directive = %+v, want close", d)
	}

	// At the limit exactly is fine.
	v.Positions[0].Size = 5
	if d := reduce.Evaluate(ev, v); d != nil {
		t.Fatalf("directive = %+v, want nil at the limit", d)
	}
}

func TestNoStopLossGraceRule_ArmsPerSymbolTimer(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "no_stop_grace", Kind: domain.RuleNoStopLossGrace, Enabled: true, GracePeriodMs: 120_000,
	})
	v := viewAt("acct-1", time.Now())
	ev := &domain.Event{
		Type: domain.EventPositionOpened, Symbol: "ESZ5",
		Position: &domain.Position{Symbol: "ESZ5", Size: 1},
	}

	d := r.Evaluate(ev, v)
	if d == nil || d.Action != domain.ActionStartTimer {
		t.Fatalf("directive = %+v, want start-timer", d)
	}
	if d.TimerKey != "no_stop_grace:ESZ5" {
		t.Fatalf("timer key = %q", d.TimerKey)
	}
	if d.Duration != 2*time.Minute {
		t.Fatalf("duration = %v, want 2m", d.Duration)
	}
	if d.LockKind != "" {
		t.Fatal("grace timer must not lock the account")
	}

	// An existing protective stop means no timer.
	v.Orders = []*domain.Order{{Symbol: "ESZ5", Type: domain.OrderTypeStop, Status: domain.OrderPending}}
	if d := r.Evaluate(ev, v); d != nil {
		t.Fatalf("directive = %+v, want nil with stop in place", d)
	}
}

func TestTradeFrequencyRule_WindowedCount(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "trade_freq", Kind: domain.RuleTradeFrequency, Enabled: true,
		MaxTrades: 3, WindowMs: 60_000, CooldownMs: 300_000,
	})
	now := time.Now()
	v := viewAt("acct-1", now)
	ev := &domain.Event{Type: domain.EventTradeExecuted}

	// Three inside the window plus one stale: under the cap.
	v.RecentTrades = []time.Time{
		now.Add(-90 * time.Second), // outside window
		now.Add(-30 * time.Second),
		now.Add(-20 * time.Second),
		now.Add(-10 * time.Second),
	}
	if d := r.Evaluate(ev, v); d != nil {
		t.Fatalf("directive = %+v, want nil at the cap", d)
	}

	v.RecentTrades = append(v.RecentTrades, now.Add(-5*time.Second))
	d := r.Evaluate(ev, v)
	if d == nil || d.Action != domain.ActionStartTimer || d.LockKind != domain.LockTimer {
		t.Fatalf("directive = %+v, want timer-lock cooldown", d)
	}
	if d.Duration != 5*time.Minute {
		t.Fatalf("duration = %v, want 5m", d.Duration)
	}
}

func TestPostLossCooldownRule_OnlyLosingClosesTrigger(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "post_loss", Kind: domain.RulePostLossCooldown, Enabled: true, CooldownMs: 600_000,
	})
	v := viewAt("acct-1", time.Now())

	cases := []struct {
		name string
		pnl  *float64
		want bool
	}{
		{"opening fill", nil, false},
		{"winning close", floatPtr(40), false},
		{"breakeven close", floatPtr(0), false},
		{"losing close", floatPtr(-25), true},
	}
	for _, tc := range cases {
		ev := &domain.Event{Type: domain.EventTradeExecuted, Trade: &domain.Trade{RealizedPnL: tc.pnl}}
		d := r.Evaluate(ev, v)
		if got := d != nil; got != tc.want {
			t.Fatalf("%s: triggered = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSessionHoursRule_OvernightWrap(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "session", Kind: domain.RuleSessionHours, Enabled: true,
		SessionStart: "18:00", SessionEnd: "16:00", Timezone: "UTC",
	})
	ev := &domain.Event{
		Type:     domain.EventPositionOpened,
		Symbol:   "ESZ5",
		Position: &domain.Position{Symbol: "ESZ5", Size: 1},
	}

	// 20:00 and 03:00 are inside the overnight session; 17:00 is the gap.
	inside := viewAt("acct-1", time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC))
	if d := r.Evaluate(ev, inside); d != nil {
		t.Fatalf("directive = %+v, want nil inside session", d)
	}
	early := viewAt("acct-1", time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC))
	if d := r.Evaluate(ev, early); d != nil {
		t.Fatalf("directive = %+v, want nil inside overnight wrap", d)
	}
	gap := viewAt("acct-1", time.Date(2025, 6, 10, 17, 0, 0, 0, time.UTC))
	d := r.Evaluate(ev, gap)
	if d == nil || d.Action != domain.ActionCloseAll || d.LockKind != domain.LockHard {
		t.Fatalf("directive = %+v, want hard lockout outside session", d)
	}
}

func TestSessionHoursRule_IgnoresReducingUpdates(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "session", Kind: domain.RuleSessionHours, Enabled: true,
		SessionStart: "09:00", SessionEnd: "16:00", Timezone: "UTC",
	})
	gap := viewAt("acct-1", time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC))
	ev := &domain.Event{
		Type:     domain.EventPositionUpdated,
		Symbol:   "ESZ5",
		Position: &domain.Position{Symbol: "ESZ5", Size: 1, PrevSize: 3},
	}
	if d := r.Evaluate(ev, gap); d != nil {
		t.Fatalf("directive = %+v, scaling down after hours must pass", d)
	}
}

func TestAccountAuthRule_Lockout(t *testing.T) {
	r := mustRule(t, domain.RuleConfig{
		ID: "auth", Kind: domain.RuleAccountAuth, Enabled: true,
	})
	v := viewAt("acct-1", time.Now())

	ok := &domain.Event{Type: domain.EventAccountUpdated, Account: &domain.Account{Authorized: true}}
	if d := r.Evaluate(ok, v); d != nil {
		t.Fatalf("directive = %+v, want nil while authorized", d)
	}

	revoked := &domain.Event{Type: domain.EventAccountUpdated, Account: &domain.Account{Authorized: false}}
	d := r.Evaluate(revoked, v)
	if d == nil || d.Action != domain.ActionCloseAll || d.LockKind != domain.LockHard {
		t.Fatalf("directive = %+v, want hard lockout", d)
	}
	if d.ExpiresAt != nil {
		t.Fatal("auth lock without a schedule must be indefinite")
	}
}
