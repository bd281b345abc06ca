package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/id"
)

// AccountView is the tracked-state snapshot a rule evaluates against.
// Rules read it and return a directive (or nil); they perform no I/O.
type AccountView struct {
	AccountID    string
	Now          time.Time
	Positions    []*domain.Position
	Orders       []*domain.Order
	Day          domain.DailyPnLRecord
	RecentTrades []time.Time

	LastPrice func(symbol string) float64
	NextReset func(ruleID string) time.Time
}

// Position returns the open position for symbol, nil when flat.
func (v *AccountView) Position(symbol string) *domain.Position {
	for _, p := range v.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// HasProtectiveStop reports whether a working stop order exists for the
// symbol.
func (v *AccountView) HasProtectiveStop(symbol string) bool {
	for _, o := range v.Orders {
		if o.Symbol == symbol && o.IsProtectiveStop() {
			return true
		}
	}
	return false
}

// Rule is one independently configured risk rule. Evaluate is a pure
// function of the event and the tracked state; a nil result means no
// breach.
type Rule interface {
	ID() string
	Subscriptions() []domain.EventType
	Evaluate(ev *domain.Event, v *AccountView) *domain.Directive
}

// NewRule builds the rule for a validated config. The rule set is a
// closed union: the factory matches on the kind tag, nothing is looked
// up by name at runtime.
func NewRule(cfg domain.RuleConfig) (Rule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case domain.RuleDailyLoss:
		return &dailyLossRule{cfg: cfg}, nil
	case domain.RuleDailyProfit:
		return &dailyProfitRule{cfg: cfg}, nil
	case domain.RulePositionLoss:
		return &positionLossRule{cfg: cfg}, nil
	case domain.RulePositionProfit:
		return &positionProfitRule{cfg: cfg}, nil
	case domain.RuleMaxPositionSize:
		return &maxPositionSizeRule{cfg: cfg}, nil
	case domain.RuleNoStopLossGrace:
		return &noStopLossGraceRule{cfg: cfg}, nil
	case domain.RuleTradeFrequency:
		return &tradeFrequencyRule{cfg: cfg}, nil
	case domain.RulePostLossCooldown:
		return &postLossCooldownRule{cfg: cfg}, nil
	case domain.RuleSessionHours:
		return &sessionHoursRule{cfg: cfg}, nil
	case domain.RuleAccountAuth:
		return &accountAuthRule{cfg: cfg}, nil
	case domain.RuleSymbolBlock:
		return &symbolBlockRule{cfg: cfg}, nil
	}
	return nil, &domain.ConfigurationError{RuleID: cfg.ID, Field: "kind", Msg: "unknown rule kind " + string(cfg.Kind)}
}

// BuildRules validates and instantiates the enabled rules. An invalid
// rule is refused (returned in errs) without blocking the others.
func BuildRules(cfgs []domain.RuleConfig) (rules []Rule, errs []error) {
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		r, err := NewRule(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, errs
}

// hardLockoutDirective is the hard-breach archetype: close everything,
// cancel working orders, and set a HARD lock until the rule's next
// scheduled reset.
func hardLockoutDirective(ruleID, accountID, reason string, v *AccountView) *domain.Directive {
	var expires *time.Time
	if v.NextReset != nil {
		if next := v.NextReset(ruleID); !next.IsZero() {
			expires = &next
		}
	}
	return &domain.Directive{
		ID:           id.New(),
		RuleID:       ruleID,
		Action:       domain.ActionCloseAll,
		Priority:     domain.PriorityHardLockout,
		AccountID:    accountID,
		Reason:       reason,
		LockKind:     domain.LockHard,
		ExpiresAt:    expires,
		CancelOrders: true,
	}
}

// closePositionDirective is the trade-by-trade archetype: one position
// closed, no account lock, trading continues.
func closePositionDirective(ruleID, accountID, symbol, reason string) *domain.Directive {
	return &domain.Directive{
		ID:        id.New(),
		RuleID:    ruleID,
		Action:    domain.ActionClosePosition,
		Priority:  domain.PriorityReduce,
		AccountID: accountID,
		Symbol:    symbol,
		Reason:    reason,
	}
}

// cooldownDirective arms a TIMER-kind lock for the rule's cooldown.
func cooldownDirective(ruleID, accountID, reason string, d time.Duration) *domain.Directive {
	return &domain.Directive{
		ID:        id.New(),
		RuleID:    ruleID,
		Action:    domain.ActionStartTimer,
		Priority:  domain.PriorityCooldown,
		AccountID: accountID,
		Reason:    reason,
		Duration:  d,
		LockKind:  domain.LockTimer,
	}
}

func money(v float64) string { return fmt.Sprintf("%.2f", v) }
