package usecase

import (
	"github.com/vitos/trade_risk_guard/internal/domain"
)

// dailyLossRule locks the account hard when the day's P&L falls
// through a negative threshold. In combined mode it thresholds on
// realized plus unrealized, so the sum is taken at the moment of
// breach: if a trade-by-trade rule just closed a losing position, the
// realized P&L that close produced is already in the sum when this
// rule sees the next event.
type dailyLossRule struct {
	cfg domain.RuleConfig
}

func (r *dailyLossRule) ID() string { return r.cfg.ID }

func (r *dailyLossRule) Subscriptions() []domain.EventType {
	subs := []domain.EventType{domain.EventTradeExecuted}
	if r.cfg.IncludeUnrealized {
		subs = append(subs, domain.EventQuoteUpdate, domain.EventPositionUpdated)
	}
	return subs
}

func (r *dailyLossRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	pnl := v.Day.RealizedPnL
	if r.cfg.IncludeUnrealized {
		pnl += v.Day.UnrealizedPnL
	}
	if pnl > r.cfg.Threshold {
		return nil
	}
	return hardLockoutDirective(r.cfg.ID, v.AccountID,
		"daily loss limit breached: pnl "+money(pnl)+" <= limit "+money(r.cfg.Threshold), v)
}

// dailyProfitRule locks the account hard once the day's profit reaches
// its target, so a winning day cannot be given back. The peak
// unrealized high-water mark counts toward the target: touching the
// target intraday trips the rule even if the current tick is lower.
type dailyProfitRule struct {
	cfg domain.RuleConfig
}

func (r *dailyProfitRule) ID() string { return r.cfg.ID }

func (r *dailyProfitRule) Subscriptions() []domain.EventType {
	subs := []domain.EventType{domain.EventTradeExecuted}
	if r.cfg.IncludeUnrealized {
		subs = append(subs, domain.EventQuoteUpdate, domain.EventPositionUpdated)
	}
	return subs
}

func (r *dailyProfitRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	pnl := v.Day.RealizedPnL
	if r.cfg.IncludeUnrealized {
		pnl += v.Day.UnrealizedPnL
		if v.Day.RealizedPnL+v.Day.PeakUnrealizedProfit > pnl {
			pnl = v.Day.RealizedPnL + v.Day.PeakUnrealizedProfit
		}
	}
	if pnl < r.cfg.Threshold {
		return nil
	}
	return hardLockoutDirective(r.cfg.ID, v.AccountID,
		"daily profit target reached: pnl "+money(pnl)+" >= target "+money(r.cfg.Threshold), v)
}
