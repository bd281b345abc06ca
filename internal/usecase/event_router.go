package usecase

import (
	"fmt"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/id"
	"go.uber.org/zap"
)

// EventRouter is the single inbound entry point for rule evaluation.
// It builds a static event-type -> rules table once at construction so
// fan-out is O(1) per event, and it applies the lockout pre-check
// before any rule runs: a locked account adding risk gets an immediate
// close, whether or not any rule subscribes to that event type.
type EventRouter struct {
	table    map[domain.EventType][]Rule
	lockouts *LockoutManager
	log      *zap.Logger
}

func NewEventRouter(rules []Rule, lockouts *LockoutManager, log *zap.Logger) *EventRouter {
	table := make(map[domain.EventType][]Rule)
	for _, r := range rules {
		for _, et := range r.Subscriptions() {
			table[et] = append(table[et], r)
		}
	}
	return &EventRouter{table: table, lockouts: lockouts, log: log}
}

// Route evaluates the event and returns the directive batch for the
// action queue. Events matching no rule are a logged no-op.
func (r *EventRouter) Route(ev *domain.Event, v *AccountView) []*domain.Directive {
	// Lockout pre-check. Rules are never consulted on this path.
	if ev.OpensOrIncreases() && r.lockouts.IsLockedSymbol(ev.AccountID, ev.Symbol) {
		r.log.Info("rejecting new risk on locked account",
			zap.String("account", ev.AccountID),
			zap.String("symbol", ev.Symbol),
			zap.String("event", string(ev.Type)))
		return []*domain.Directive{{
			ID:        id.New(),
			RuleID:    "lockout_precheck",
			Action:    domain.ActionClosePosition,
			Priority:  domain.PriorityHardLockout,
			AccountID: ev.AccountID,
			Symbol:    ev.Symbol,
			Reason:    "account locked, closing newly added risk",
		}}
	}

	rules, ok := r.table[ev.Type]
	if !ok || len(rules) == 0 {
		r.log.Debug("event matched no rule", zap.String("event", string(ev.Type)), zap.String("account", ev.AccountID))
		return nil
	}

	var batch []*domain.Directive
	for _, rule := range rules {
		if d := r.evaluate(rule, ev, v); d != nil {
			batch = append(batch, d)
		}
	}
	return batch
}

// evaluate contains one rule's failure so a broken rule cannot block
// the others evaluating the same event.
func (r *EventRouter) evaluate(rule Rule, ev *domain.Event, v *AccountView) (d *domain.Directive) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("rule evaluation panicked",
				zap.String("rule", rule.ID()),
				zap.String("event", string(ev.Type)),
				zap.String("panic", fmt.Sprint(rec)))
			d = nil
		}
	}()
	return rule.Evaluate(ev, v)
}
