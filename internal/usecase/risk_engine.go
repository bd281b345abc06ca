package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"go.uber.org/zap"
)

// RiskEngine is the composition root. It owns the state components,
// the rule set, the router and the action queue, and exposes the one
// entry point (Process) the trading gateway feeds.
type RiskEngine struct {
	cfgs     []domain.RuleConfig
	rules    []Rule
	router   *EventRouter
	queue    *ActionQueue
	lockouts *LockoutManager
	timers   *TimerManager
	sched    *ResetScheduler
	tracker  *PnLTracker
	log      *zap.Logger

	mu      sync.Mutex
	workers map[string]*accountWorker
	stopped bool

	maxWindow time.Duration // longest frequency window, bounds trade history
	now       func() time.Time
}

func NewRiskEngine(
	gateway domain.TradingGateway,
	lockoutRepo domain.LockoutRepository,
	timerRepo domain.TimerRepository,
	pnlRepo domain.PnLRepository,
	violationRepo domain.ViolationRepository,
	cfgs []domain.RuleConfig,
	specs []domain.ContractSpec,
	timezone string,
	log *zap.Logger,
) (*RiskEngine, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "timezone", Msg: "invalid timezone: " + timezone}
	}

	rules, errs := BuildRules(cfgs)
	for _, err := range errs {
		// The broken rule is refused; the rest of the set still arms.
		log.Error("rule configuration refused", zap.Error(err))
	}

	// The trading day is anchored to the daily rules' scheduled reset so
	// records roll at the session boundary, not at midnight.
	var resetAt domain.TimeOfDay
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		if cfg.Kind == domain.RuleDailyLoss || cfg.Kind == domain.RuleDailyProfit {
			if tod, err := domain.ParseTimeOfDay(cfg.ResetTime); err == nil {
				resetAt = tod
				break
			}
		}
	}

	tracker := NewPnLTracker(pnlRepo, specs, loc, resetAt, log)
	lockouts := NewLockoutManager(lockoutRepo, log)
	timers := NewTimerManager(timerRepo, log)
	sched := NewResetScheduler(log)
	router := NewEventRouter(rules, lockouts, log)
	queue := NewActionQueue(gateway, tracker, lockouts, timers, violationRepo, log)

	maxWindow := time.Hour
	for _, cfg := range cfgs {
		if w := cfg.Window(); w > maxWindow {
			maxWindow = w
		}
	}

	return &RiskEngine{
		cfgs:      cfgs,
		rules:     rules,
		router:    router,
		queue:     queue,
		lockouts:  lockouts,
		timers:    timers,
		sched:     sched,
		tracker:   tracker,
		log:       log,
		workers:   make(map[string]*accountWorker),
		maxWindow: maxWindow,
		now:       time.Now,
	}, nil
}

// Lockouts exposes the lockout authority for display surfaces.
func (e *RiskEngine) Lockouts() *LockoutManager { return e.lockouts }

// Timers exposes remaining-time queries for display surfaces.
func (e *RiskEngine) Timers() *TimerManager { return e.timers }

// Tracker exposes P&L queries for display surfaces.
func (e *RiskEngine) Tracker() *PnLTracker { return e.tracker }

// Start restores persisted state, wires timer callbacks and scheduled
// resets, and installs configured symbol blocks. It must complete
// before the first Process call; restored state is authoritative from
// storage, and any timer that elapsed during the outage fires here.
func (e *RiskEngine) Start(ctx context.Context) error {
	for _, r := range e.rules {
		cfg := e.configFor(r.ID())
		switch cfg.Kind {
		case domain.RuleTradeFrequency, domain.RulePostLossCooldown:
			ruleID := cfg.ID
			e.timers.RegisterCallback(ruleID, func(accountID, key string) {
				// TIMER-kind expiry is one of the two paths allowed to
				// clear a lockout.
				e.lockouts.Clear(context.Background(), accountID, ruleID, "")
			})
		case domain.RuleNoStopLossGrace:
			ruleID := cfg.ID
			e.timers.RegisterCallback(ruleID, func(accountID, key string) {
				symbol := key
				if i := strings.IndexByte(key, ':'); i >= 0 {
					symbol = key[i+1:]
				}
				if w := e.worker(accountID); w != nil {
					w.enqueue(workItem{graceRuleID: ruleID, graceSymbol: symbol})
				}
			})
		case domain.RuleDailyLoss, domain.RuleDailyProfit:
			ruleID := cfg.ID
			if err := e.sched.Register(ruleID, cfg.ResetTime, cfg.Timezone, func() {
				e.onDailyReset(ruleID)
			}); err != nil {
				return err
			}
		case domain.RuleSessionHours:
			ruleID := cfg.ID
			// Session-outside locks clear at session start.
			if err := e.sched.Register(ruleID, cfg.SessionStart, cfg.Timezone, func() {
				e.lockouts.ClearRuleAll(context.Background(), ruleID)
			}); err != nil {
				return err
			}
		case domain.RuleAccountAuth:
			if cfg.ResetTime != "" {
				ruleID := cfg.ID
				if err := e.sched.Register(ruleID, cfg.ResetTime, cfg.Timezone, func() {
					e.lockouts.ClearRuleAll(context.Background(), ruleID)
				}); err != nil {
					return err
				}
			}
		}

		if sb, ok := r.(*symbolBlockRule); ok {
			for _, symbol := range sb.BlockedSymbols() {
				if err := e.lockouts.Set(ctx, AllAccounts, sb.ID(), domain.LockSymbol,
					"symbol blocked by configuration", nil, symbol); err != nil {
					return err
				}
			}
		}
	}

	if err := e.lockouts.Restore(ctx); err != nil {
		return err
	}
	if err := e.tracker.Restore(ctx); err != nil {
		return err
	}
	// Callbacks are in place, so overdue timers fire right here.
	if err := e.timers.Restore(ctx); err != nil {
		return err
	}

	e.log.Info("risk engine started", zap.Int("rules", len(e.rules)))
	return nil
}

func (e *RiskEngine) configFor(ruleID string) domain.RuleConfig {
	for _, cfg := range e.cfgs {
		if cfg.ID == ruleID {
			return cfg
		}
	}
	return domain.RuleConfig{}
}

// Process is the single entry point for inbound gateway events. Quote
// updates refresh the shared price cache immediately (the gateway
// delivers quotes for one symbol in order, and the cache write is
// atomic under the tracker lock), then fan out to each account holding
// the symbol. Everything else goes to the account's single-writer
// worker in arrival order.
func (e *RiskEngine) Process(ev *domain.Event) {
	if ev.Type == domain.EventQuoteUpdate {
		if ev.Quote == nil {
			e.log.Warn("quote event without quote payload", zap.String("symbol", ev.Symbol))
			return
		}
		touched := e.tracker.OnQuote(context.Background(), ev.Symbol, ev.Quote.LastPrice)
		for _, accountID := range touched {
			if w := e.worker(accountID); w != nil {
				cp := *ev
				cp.AccountID = accountID
				w.enqueue(workItem{ev: &cp})
			}
		}
		return
	}
	if ev.AccountID == "" {
		e.log.Warn("event without account id dropped", zap.String("event", string(ev.Type)))
		return
	}
	if w := e.worker(ev.AccountID); w != nil {
		w.enqueue(workItem{ev: ev})
	}
}

// worker returns the account's single-writer loop, creating it on the
// account's first event. Returns nil once the engine has stopped so a
// late timer or reset callback cannot spin up a goroutine that nothing
// will ever drain.
func (e *RiskEngine) worker(accountID string) *accountWorker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	w, ok := e.workers[accountID]
	if !ok {
		w = newAccountWorker(accountID, e)
		e.workers[accountID] = w
	}
	return w
}

// handleEvent runs inside the account worker: apply the event to
// tracked state, route it through the rules, drain the batch.
func (e *RiskEngine) handleEvent(w *accountWorker, ev *domain.Event) {
	ctx := context.Background()
	switch ev.Type {
	case domain.EventPositionOpened, domain.EventPositionUpdated:
		if ev.Position != nil {
			e.tracker.UpsertPosition(ev.Position)
		}
	case domain.EventPositionClosed:
		e.tracker.RemovePosition(ev.AccountID, ev.Symbol)
		e.cancelGraceTimers(ctx, ev.AccountID, ev.Symbol)
	case domain.EventOrderPlaced, domain.EventOrderModified, domain.EventOrderFilled,
		domain.EventOrderPartial, domain.EventOrderCancelled, domain.EventOrderRejected:
		if ev.Order != nil {
			w.setOrder(ev.Order)
			if ev.Order.IsProtectiveStop() {
				// A stop showed up inside the grace period.
				e.cancelGraceTimers(ctx, ev.AccountID, ev.Order.Symbol)
			}
		}
	case domain.EventTradeExecuted:
		if ev.Trade != nil {
			if err := e.tracker.RecordTrade(ctx, ev.AccountID, ev.Trade.RealizedPnL); err != nil {
				e.log.Error("failed to record trade", zap.String("account", ev.AccountID), zap.Error(err))
			}
			w.noteTrade(e.eventTime(ev), e.maxWindow)
		}
	}

	batch := e.router.Route(ev, e.view(w, ev))
	e.queue.Execute(ctx, batch)
}

// handleGraceExpiry runs inside the account worker when a no-stop
// grace timer fires. The close only goes out if the position is still
// open and still has no protective stop.
func (e *RiskEngine) handleGraceExpiry(w *accountWorker, ruleID, symbol string) {
	if e.tracker.Position(w.accountID, symbol) == nil {
		return
	}
	if w.hasProtectiveStop(symbol) {
		return
	}
	d := closePositionDirective(ruleID, w.accountID, symbol,
		"no stop loss placed within grace period")
	e.queue.Execute(context.Background(), []*domain.Directive{d})
}

func (e *RiskEngine) cancelGraceTimers(ctx context.Context, accountID, symbol string) {
	for _, cfg := range e.cfgs {
		if cfg.Kind == domain.RuleNoStopLossGrace && cfg.Enabled {
			e.timers.Cancel(ctx, accountID, cfg.ID+":"+symbol)
		}
	}
}

func (e *RiskEngine) eventTime(ev *domain.Event) time.Time {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp
	}
	return e.now()
}

func (e *RiskEngine) view(w *accountWorker, ev *domain.Event) *AccountView {
	return &AccountView{
		AccountID:    w.accountID,
		Now:          e.eventTime(ev),
		Positions:    e.tracker.Positions(w.accountID),
		Orders:       w.ordersSnapshot(),
		Day:          e.tracker.Day(w.accountID),
		RecentTrades: w.trades(),
		LastPrice:    e.tracker.LastPrice,
		NextReset:    e.sched.NextReset,
	}
}

// onDailyReset fires at a daily rule's scheduled reset: clear the
// rule's HARD locks everywhere and supersede each account's day record.
func (e *RiskEngine) onDailyReset(ruleID string) {
	ctx := context.Background()
	e.lockouts.ClearRuleAll(ctx, ruleID)
	for _, accountID := range e.tracker.Accounts() {
		e.tracker.RollDay(ctx, accountID)
	}
}

// Flush blocks until the account's queued work has drained. Test and
// shutdown hook.
func (e *RiskEngine) Flush(accountID string) {
	e.mu.Lock()
	w, ok := e.workers[accountID]
	e.mu.Unlock()
	if ok {
		w.drain()
	}
}

// Stop cancels countdowns and scheduled resets before shutting the
// workers down, so no callback can race worker teardown and recreate
// one. Persisted state stays in storage for the next start.
func (e *RiskEngine) Stop() {
	e.sched.Stop()
	e.timers.Stop()

	e.mu.Lock()
	e.stopped = true
	workers := make([]*accountWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.workers = make(map[string]*accountWorker)
	e.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	e.log.Info("risk engine stopped")
}
