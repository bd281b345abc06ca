package usecase

import (
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
)

// sessionHoursRule blocks new risk outside the configured trading
// session. A breach is the hard archetype: flatten and HARD-lock, with
// the lock expiring at the next session start (the scheduler also
// clears it then).
type sessionHoursRule struct {
	cfg domain.RuleConfig
}

func (r *sessionHoursRule) ID() string { return r.cfg.ID }

func (r *sessionHoursRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventPositionOpened, domain.EventPositionUpdated, domain.EventOrderPlaced}
}

// inSession reports whether t falls inside [start, end) wall clock in
// the rule's timezone. Overnight sessions (end before start) wrap
// midnight.
func (r *sessionHoursRule) inSession(t time.Time) bool {
	start, _ := domain.ParseTimeOfDay(r.cfg.SessionStart)
	end, _ := domain.ParseTimeOfDay(r.cfg.SessionEnd)
	loc, err := time.LoadLocation(r.cfg.Timezone)
	if err != nil {
		// Validated at startup; an unloadable zone here fails closed.
		return false
	}
	local := t.In(loc)
	mins := local.Hour()*60 + local.Minute()
	if start.Minutes() <= end.Minutes() {
		return mins >= start.Minutes() && mins < end.Minutes()
	}
	return mins >= start.Minutes() || mins < end.Minutes()
}

func (r *sessionHoursRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	if r.inSession(v.Now) {
		return nil
	}
	if ev.Type == domain.EventPositionUpdated && !ev.OpensOrIncreases() {
		return nil
	}
	return hardLockoutDirective(r.cfg.ID, v.AccountID,
		"trading outside session "+r.cfg.SessionStart+"-"+r.cfg.SessionEnd+" "+r.cfg.Timezone, v)
}

// accountAuthRule reacts to the account losing authorization: flatten
// everything and lock hard.
type accountAuthRule struct {
	cfg domain.RuleConfig
}

func (r *accountAuthRule) ID() string { return r.cfg.ID }

func (r *accountAuthRule) Subscriptions() []domain.EventType {
	return []domain.EventType{domain.EventAccountUpdated}
}

func (r *accountAuthRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	if ev.Account == nil || ev.Account.Authorized {
		return nil
	}
	d := hardLockoutDirective(r.cfg.ID, v.AccountID, "account no longer authorized to trade", v)
	if r.cfg.ResetTime == "" {
		// No schedule configured: the lock is indefinite.
		d.ExpiresAt = nil
	}
	return d
}

// symbolBlockRule holds permanent SYMBOL locks from configuration. The
// locks are installed at startup and the router's pre-check enforces
// them, so the rule itself subscribes to nothing; it only exists so
// the blocked-symbol config travels through the same closed rule set.
type symbolBlockRule struct {
	cfg domain.RuleConfig
}

func (r *symbolBlockRule) ID() string { return r.cfg.ID }

func (r *symbolBlockRule) Subscriptions() []domain.EventType { return nil }

func (r *symbolBlockRule) Evaluate(ev *domain.Event, v *AccountView) *domain.Directive {
	return nil
}

// BlockedSymbols exposes the configured symbols for startup install.
func (r *symbolBlockRule) BlockedSymbols() []string { return r.cfg.BlockedSymbols }
