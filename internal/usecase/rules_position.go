package usecase

import (
	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/id"
)

// positionLossRule closes a single position whose unrealized loss
// breaches the threshold. Trade-by-trade: no lock, trading continues.
type positionLossRule struct {
	cfg domain.RuleConfig
}

func (r *positionLossRule) ID() string { return r.cfg.ID }

func (r *positionLossRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventQuoteUpdate, domain.EventPositionUpdated}
}

func (r *positionLossRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	// Worst offender first; one directive per evaluation is enough
	// because the close changes state before the next event evaluates.
	var worst *domain.Position
	for _, p := range v.Positions {
		if ev.Type == domain.EventQuoteUpdate && p.Symbol != ev.Symbol {
			continue
		}
		if p.UnrealizedPnL <= r.cfg.Threshold && (worst == nil || p.UnrealizedPnL < worst.UnrealizedPnL) {
			worst = p
		}
	}
	if worst == nil {
		return nil
	}
	return closePositionDirective(r.cfg.ID, v.AccountID, worst.Symbol,
		"position loss limit breached: unrealized "+money(worst.UnrealizedPnL)+" <= limit "+money(r.cfg.Threshold))
}

// positionProfitRule takes a single position off once its unrealized
// profit reaches the threshold.
type positionProfitRule struct {
	cfg domain.RuleConfig
}

func (r *positionProfitRule) ID() string { return r.cfg.ID }

func (r *positionProfitRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventQuoteUpdate, domain.EventPositionUpdated}
}

func (r *positionProfitRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	var best *domain.Position
	for _, p := range v.Positions {
		if ev.Type == domain.EventQuoteUpdate && p.Symbol != ev.Symbol {
			continue
		}
		if p.UnrealizedPnL >= r.cfg.Threshold && (best == nil || p.UnrealizedPnL > best.UnrealizedPnL) {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	return closePositionDirective(r.cfg.ID, v.AccountID, best.Symbol,
		"position profit target reached: unrealized "+money(best.UnrealizedPnL)+" >= target "+money(r.cfg.Threshold))
}

// maxPositionSizeRule caps the contract count of one position. The
// remedy is configured per rule: reduce back to the limit, or close
// the whole position for that instrument.
type maxPositionSizeRule struct {
	cfg domain.RuleConfig
}

func (r *maxPositionSizeRule) ID() string { return r.cfg.ID }

func (r *maxPositionSizeRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventPositionOpened, domain.EventPositionUpdated}
}

func (r *maxPositionSizeRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	p := v.Position(ev.Symbol)
	if p == nil {
		return nil
	}
	size := p.Size
	if size < 0 {
		size = -size
	}
	if size <= r.cfg.Threshold {
		return nil
	}
	reason := "position size " + money(size) + " exceeds limit " + money(r.cfg.Threshold)
	if r.cfg.Remedy == domain.RemedyClosePosition {
		return closePositionDirective(r.cfg.ID, v.AccountID, p.Symbol, reason)
	}
	return &domain.Directive{
		ID:         id.New(),
		RuleID:     r.cfg.ID,
		Action:     domain.ActionReduceToLimit,
		Priority:   domain.PriorityReduce,
		AccountID:  v.AccountID,
		Symbol:     p.Symbol,
		Reason:     reason,
		TargetSize: r.cfg.Threshold * p.Direction(),
	}
}

// noStopLossGraceRule gives a freshly opened position a grace period to
// acquire a protective stop. Opening arms a one-shot timer keyed per
// symbol; the engine cancels it when a matching stop order shows up or
// the position goes away. On expiry the timer callback re-checks state
// and closes the position only if it is still open and still naked.
type noStopLossGraceRule struct {
	cfg domain.RuleConfig
}

func (r *noStopLossGraceRule) ID() string { return r.cfg.ID }

func (r *noStopLossGraceRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventPositionOpened}
}

// TimerKeyFor builds the per-symbol timer key for a grace rule.
func (r *noStopLossGraceRule) TimerKeyFor(symbol string) string {
	return r.cfg.ID + ":" + symbol
}

func (r *noStopLossGraceRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	if ev.Position == nil || v.HasProtectiveStop(ev.Symbol) {
		return nil
	}
	return &domain.Directive{
		ID:        id.New(),
		RuleID:    r.cfg.ID,
		Action:    domain.ActionStartTimer,
		Priority:  domain.PriorityAutomation,
		AccountID: v.AccountID,
		Symbol:    ev.Symbol,
		Reason:    "position opened without stop loss, grace period armed",
		Duration:  r.cfg.GracePeriod(),
		TimerKey:  r.TimerKeyFor(ev.Symbol),
	}
}
