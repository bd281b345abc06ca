package usecase_test

import (
	"context"
	"sync"

	"github.com/vitos/trade_risk_guard/internal/domain"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

// MockGateway records enforcement calls and can inject failures.
type MockGateway struct {
	mu sync.Mutex

	Calls []GatewayCall

	// FailTransient makes the next N calls of an op fail with a
	// TransientGatewayError before succeeding.
	FailTransient map[string]int
	// FailHard makes the named op fail permanently.
	FailHard map[string]bool
}

type GatewayCall struct {
	Op        string
	AccountID string
	Symbol    string
	Size      float64
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailTransient: make(map[string]int),
		FailHard:      make(map[string]bool),
	}
}

func (g *MockGateway) call(op, accountID, symbol string, size float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailHard[op] {
		g.Calls = append(g.Calls, GatewayCall{Op: op + "!", AccountID: accountID, Symbol: symbol})
		return &permanentErr{op: op}
	}
	if g.FailTransient[op] > 0 {
		g.FailTransient[op]--
		return &domain.TransientGatewayError{Op: op, Err: &permanentErr{op: op}}
	}
	g.Calls = append(g.Calls, GatewayCall{Op: op, AccountID: accountID, Symbol: symbol, Size: size})
	return nil
}

type permanentErr struct{ op string }

func (e *permanentErr) Error() string { return e.op + " failed" }

func (g *MockGateway) ClosePosition(ctx context.Context, accountID, symbol string) error {
	return g.call("close_position", accountID, symbol, 0)
}

func (g *MockGateway) CloseAllPositions(ctx context.Context, accountID string) error {
	return g.call("close_all", accountID, "", 0)
}

func (g *MockGateway) CancelAllOrders(ctx context.Context, accountID string) error {
	return g.call("cancel_orders", accountID, "", 0)
}

func (g *MockGateway) ReducePositionToSize(ctx context.Context, accountID, symbol string, size float64) error {
	return g.call("reduce_position", accountID, symbol, size)
}

func (g *MockGateway) CallsOf(op string) []GatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []GatewayCall
	for _, c := range g.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// MockStore is an in-memory implementation of every repository.
type MockStore struct {
	mu         sync.Mutex
	Lockouts   map[domain.LockoutKey]*domain.Lockout
	Timers     map[string]*domain.Timer // account+"/"+rule
	Daily      map[string]*domain.DailyPnLRecord
	Violations []*domain.Violation

	FailSaves bool
}

func NewMockStore() *MockStore {
	return &MockStore{
		Lockouts: make(map[domain.LockoutKey]*domain.Lockout),
		Timers:   make(map[string]*domain.Timer),
		Daily:    make(map[string]*domain.DailyPnLRecord),
	}
}

type storeErr struct{}

func (storeErr) Error() string { return "storage unavailable" }

func (s *MockStore) SaveLockout(ctx context.Context, l *domain.Lockout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return storeErr{}
	}
	cp := *l
	s.Lockouts[l.Key()] = &cp
	return nil
}

func (s *MockStore) DeleteLockout(ctx context.Context, key domain.LockoutKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Lockouts, key)
	return nil
}

func (s *MockStore) ListLockouts(ctx context.Context) ([]*domain.Lockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Lockout
	for _, l := range s.Lockouts {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MockStore) SaveTimer(ctx context.Context, t *domain.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return storeErr{}
	}
	cp := *t
	s.Timers[t.AccountID+"/"+t.RuleID] = &cp
	return nil
}

func (s *MockStore) DeleteTimer(ctx context.Context, accountID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Timers, accountID+"/"+ruleID)
	return nil
}

func (s *MockStore) ListTimers(ctx context.Context) ([]*domain.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Timer
	for _, t := range s.Timers {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MockStore) SaveDailyPnL(ctx context.Context, rec *domain.DailyPnLRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return storeErr{}
	}
	cp := *rec
	s.Daily[rec.AccountID+"/"+rec.TradingDate] = &cp
	return nil
}

func (s *MockStore) GetDailyPnL(ctx context.Context, accountID, tradingDate string) (*domain.DailyPnLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.Daily[accountID+"/"+tradingDate]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (s *MockStore) ListDailyPnLForDate(ctx context.Context, tradingDate string) ([]*domain.DailyPnLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DailyPnLRecord
	for _, rec := range s.Daily {
		if rec.TradingDate == tradingDate {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MockStore) ListDailyPnL(ctx context.Context, accountID string, limit int) ([]*domain.DailyPnLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DailyPnLRecord
	for _, rec := range s.Daily {
		if rec.AccountID == accountID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MockStore) SaveViolation(ctx context.Context, v *domain.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.Violations = append(s.Violations, &cp)
	return nil
}

func (s *MockStore) ListViolations(ctx context.Context, limit int) ([]*domain.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Violation, len(s.Violations))
	copy(out, s.Violations)
	return out, nil
}

func (s *MockStore) ResolveViolation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.Violations {
		if v.ID == id {
			v.Resolved = true
		}
	}
	return nil
}

func (s *MockStore) ViolationOutcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, v := range s.Violations {
		out = append(out, v.Outcome)
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }
