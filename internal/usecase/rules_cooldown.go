package usecase

import (
	"strconv"

	"github.com/vitos/trade_risk_guard/internal/domain"
)

// tradeFrequencyRule starts a cooldown once the account's trade count
// inside a rolling window exceeds the cap. TIMER lock only, never HARD.
type tradeFrequencyRule struct {
	cfg domain.RuleConfig
}

func (r *tradeFrequencyRule) ID() string { return r.cfg.ID }

func (r *tradeFrequencyRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventTradeExecuted}
}

func (r *tradeFrequencyRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	cutoff := v.Now.Add(-r.cfg.Window())
	count := 0
	for _, ts := range v.RecentTrades {
		if ts.After(cutoff) {
			count++
		}
	}
	if count <= r.cfg.MaxTrades {
		return nil
	}
	return cooldownDirective(r.cfg.ID, v.AccountID,
		strconv.Itoa(count)+" trades inside window, limit "+strconv.Itoa(r.cfg.MaxTrades)+", cooling down",
		r.cfg.Cooldown())
}

// postLossCooldownRule blocks trading for a while after a losing
// closing fill. Opening fills carry no realized P&L and never trigger.
type postLossCooldownRule struct {
	cfg domain.RuleConfig
}

func (r *postLossCooldownRule) ID() string { return r.cfg.ID }

func (r *postLossCooldownRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventTradeExecuted}
}

func (r *postLossCooldownRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	if ev.Trade == nil || ev.Trade.RealizedPnL == nil || *ev.Trade.RealizedPnL >= 0 {
		return nil
	}
	return cooldownDirective(r.cfg.ID, v.AccountID,
		"losing trade ("+money(*ev.Trade.RealizedPnL)+"), cooling down",
		r.cfg.Cooldown())
}
