package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitos/trade_risk_guard/internal/domain"
	"github.com/vitos/trade_risk_guard/internal/id"
	"go.uber.org/zap"
)

var (
	metricDirectivesEnqueued = prometheus.NewCounter(prometheus.CounterOpts{Name: "guard_directives_enqueued_total", Help: "Directives handed to the action queue"})
	metricDirectivesExecuted = prometheus.NewCounter(prometheus.CounterOpts{Name: "guard_directives_executed_total", Help: "Directives that reached the gateway successfully"})
	metricDirectivesAbsorbed = prometheus.NewCounter(prometheus.CounterOpts{Name: "guard_directives_absorbed_total", Help: "Directives resolved as no-ops (target state already held)"})
	metricDirectivesFailed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "guard_directives_failed_total", Help: "Directives that failed after retries"})
)

func init() {
	prometheus.MustRegister(
		metricDirectivesEnqueued, metricDirectivesExecuted,
		metricDirectivesAbsorbed, metricDirectivesFailed,
	)
}

// PositionReader is the queue's view of current position state, used
// for idempotency checks before touching the gateway.
type PositionReader interface {
	Position(accountID, symbol string) *domain.Position
	Positions(accountID string) []*domain.Position
}

// ActionQueue serializes and priority-orders the directives produced
// from one routed event before they reach the gateway. It drains
// strictly by priority, FIFO within a tier, and guarantees at most one
// coherent outcome per conflict: once a CLOSE_ALL has run for the
// account, narrower directives in the same batch resolve as no-ops,
// not errors. Execution failures are caught per directive and recorded
// as violation-execution failures without aborting the rest.
type ActionQueue struct {
	gateway    domain.TradingGateway
	positions  PositionReader
	lockouts   *LockoutManager
	timers     *TimerManager
	violations domain.ViolationRepository
	log        *zap.Logger

	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

func NewActionQueue(
	gateway domain.TradingGateway,
	positions PositionReader,
	lockouts *LockoutManager,
	timers *TimerManager,
	violations domain.ViolationRepository,
	log *zap.Logger,
) *ActionQueue {
	return &ActionQueue{
		gateway:    gateway,
		positions:  positions,
		lockouts:   lockouts,
		timers:     timers,
		violations: violations,
		log:        log,
		maxRetries: 3,
		backoff:    250 * time.Millisecond,
		now:        time.Now,
	}
}

// Execute drains one event's batch to completion. The caller (the
// account worker) does not route the account's next event until this
// returns, so no interleaving can leave state half-applied.
func (q *ActionQueue) Execute(ctx context.Context, batch []*domain.Directive) {
	if len(batch) == 0 {
		return
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Priority < batch[j].Priority })

	closedAll := make(map[string]bool)
	for _, d := range batch {
		metricDirectivesEnqueued.Inc()
		outcome, err := q.execute(ctx, d, closedAll)
		q.record(ctx, d, outcome, err)
	}
}

func (q *ActionQueue) execute(ctx context.Context, d *domain.Directive, closedAll map[string]bool) (string, error) {
	switch d.Action {
	case domain.ActionClosePosition:
		if closedAll[d.AccountID] || q.positions.Position(d.AccountID, d.Symbol) == nil {
			return "NOOP", nil
		}
		if err := q.withRetry(d, "close_position", func() error {
			return q.gateway.ClosePosition(ctx, d.AccountID, d.Symbol)
		}); err != nil {
			return "FAILED", err
		}
		return "EXECUTED", nil

	case domain.ActionCloseAll:
		outcome := "EXECUTED"
		if closedAll[d.AccountID] || len(q.positions.Positions(d.AccountID)) == 0 {
			outcome = "NOOP"
		} else if err := q.withRetry(d, "close_all", func() error {
			return q.gateway.CloseAllPositions(ctx, d.AccountID)
		}); err != nil {
			return "FAILED", err
		}
		closedAll[d.AccountID] = true
		if d.CancelOrders {
			if err := q.withRetry(d, "cancel_orders", func() error {
				return q.gateway.CancelAllOrders(ctx, d.AccountID)
			}); err != nil {
				return "FAILED", err
			}
		}
		// The lock is set even when the account was already flat: the
		// breach happened, the block must hold.
		if d.LockKind != "" {
			q.setLockout(ctx, d)
		}
		return outcome, nil

	case domain.ActionReduceToLimit:
		p := q.positions.Position(d.AccountID, d.Symbol)
		if closedAll[d.AccountID] || p == nil || absF(p.Size) <= absF(d.TargetSize) {
			return "NOOP", nil
		}
		if err := q.withRetry(d, "reduce_position", func() error {
			return q.gateway.ReducePositionToSize(ctx, d.AccountID, d.Symbol, d.TargetSize)
		}); err != nil {
			return "FAILED", err
		}
		return "EXECUTED", nil

	case domain.ActionCancelOrders:
		if err := q.withRetry(d, "cancel_orders", func() error {
			return q.gateway.CancelAllOrders(ctx, d.AccountID)
		}); err != nil {
			return "FAILED", err
		}
		return "EXECUTED", nil

	case domain.ActionStartTimer:
		key := d.TimerKey
		if key == "" {
			key = d.RuleID
		}
		if _, err := q.timers.Create(ctx, d.AccountID, key, d.Duration); err != nil {
			return "FAILED", err
		}
		if d.LockKind == domain.LockTimer {
			expires := q.now().Add(d.Duration)
			cp := *d
			cp.ExpiresAt = &expires
			q.setLockout(ctx, &cp)
		}
		return "EXECUTED", nil

	case domain.ActionSetLockout:
		q.setLockout(ctx, d)
		return "EXECUTED", nil
	}
	return "FAILED", errors.New("unknown directive action " + string(d.Action))
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (q *ActionQueue) setLockout(ctx context.Context, d *domain.Directive) {
	_ = q.lockouts.Set(ctx, d.AccountID, d.RuleID, d.LockKind, d.Reason, d.ExpiresAt, d.Symbol)
}

// withRetry retries transient gateway failures with backoff a bounded
// number of times. Non-transient errors fail on the first attempt.
func (q *ActionQueue) withRetry(d *domain.Directive, op string, call func() error) error {
	var err error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(q.backoff * time.Duration(attempt))
		}
		err = call()
		if err == nil {
			return nil
		}
		var transient *domain.TransientGatewayError
		if !errors.As(err, &transient) {
			break
		}
		q.log.Warn("transient gateway error, retrying",
			zap.String("op", op),
			zap.String("rule", d.RuleID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

func (q *ActionQueue) record(ctx context.Context, d *domain.Directive, outcome string, err error) {
	severity := domain.SeverityWarning
	if d.Priority == domain.PriorityHardLockout {
		severity = domain.SeverityCritical
	}
	msg := d.Reason
	if err != nil {
		msg = d.Reason + " (execution error: " + err.Error() + ")"
	}
	v := &domain.Violation{
		ID:         id.New(),
		RuleID:     d.RuleID,
		AccountID:  d.AccountID,
		Symbol:     d.Symbol,
		Severity:   severity,
		Message:    msg,
		Action:     d.Action,
		Outcome:    outcome,
		OccurredAt: q.now(),
	}
	if saveErr := q.violations.SaveViolation(ctx, v); saveErr != nil {
		q.log.Error("failed to append violation record", zap.Error(saveErr))
	}

	fields := []zap.Field{
		zap.String("rule", d.RuleID),
		zap.String("account", d.AccountID),
		zap.String("action", string(d.Action)),
		zap.String("outcome", outcome),
		zap.String("reason", d.Reason),
	}
	switch {
	case err != nil:
		metricDirectivesFailed.Inc()
		q.log.Error("directive execution failed", append(fields, zap.Error(err))...)
	case outcome == "NOOP":
		metricDirectivesAbsorbed.Inc()
		q.log.Info("directive absorbed", fields...)
	default:
		metricDirectivesExecuted.Inc()
		q.log.Info("directive executed", fields...)
	}
}
