package usecase

import (
	"sync"
	"time"

	"github.com/vitos/trade_risk_guard/internal/domain"
)

// workItem is one unit of work for an account's single-writer loop:
// either an inbound event to route, or a grace-timer expiry check that
// must observe state the loop is not mutating mid-flight.
type workItem struct {
	ev *domain.Event

	graceRuleID string
	graceSymbol string

	flush chan struct{} // synchronization probe, closed when reached
}

// accountWorker serializes all processing for one account. Events are
// handled in arrival order and one event's directive batch fully
// drains before the next event starts, so enforcement never interleaves
// for the same account. Workers for different accounts run
// independently.
type accountWorker struct {
	accountID string
	ch        chan workItem
	done      chan struct{}
	engine    *RiskEngine

	// Order book state, guarded because timer callbacks read it from
	// outside the loop.
	mu           sync.Mutex
	orders       map[string]*domain.Order
	recentTrades []time.Time
}

func newAccountWorker(accountID string, engine *RiskEngine) *accountWorker {
	w := &accountWorker{
		accountID: accountID,
		ch:        make(chan workItem, 256),
		done:      make(chan struct{}),
		engine:    engine,
		orders:    make(map[string]*domain.Order),
	}
	go w.run()
	return w
}

func (w *accountWorker) run() {
	defer close(w.done)
	for item := range w.ch {
		switch {
		case item.flush != nil:
			close(item.flush)
		case item.ev != nil:
			w.engine.handleEvent(w, item.ev)
		case item.graceRuleID != "":
			w.engine.handleGraceExpiry(w, item.graceRuleID, item.graceSymbol)
		}
	}
}

func (w *accountWorker) enqueue(item workItem) {
	w.ch <- item
}

func (w *accountWorker) stop() {
	close(w.ch)
	<-w.done
}

// setOrder records an order lifecycle snapshot. Cancelled and rejected
// orders are dropped so the map stays bounded.
func (w *accountWorker) setOrder(o *domain.Order) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if o.Status == domain.OrderCancelled || o.Status == domain.OrderRejected {
		delete(w.orders, o.ID)
		return
	}
	cp := *o
	w.orders[o.ID] = &cp
}

func (w *accountWorker) ordersSnapshot() []*domain.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*domain.Order, 0, len(w.orders))
	for _, o := range w.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

func (w *accountWorker) hasProtectiveStop(symbol string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, o := range w.orders {
		if o.Symbol == symbol && o.IsProtectiveStop() {
			return true
		}
	}
	return false
}

// noteTrade appends a fill instant to the rolling window used by the
// trade-frequency rule and prunes entries older than the longest
// configured window.
func (w *accountWorker) noteTrade(at time.Time, keep time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recentTrades = append(w.recentTrades, at)
	cutoff := at.Add(-keep)
	for len(w.recentTrades) > 0 && w.recentTrades[0].Before(cutoff) {
		w.recentTrades = w.recentTrades[1:]
	}
}

func (w *accountWorker) trades() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Time, len(w.recentTrades))
	copy(out, w.recentTrades)
	return out
}

// drain blocks until every item queued before it has been processed.
func (w *accountWorker) drain() {
	f := make(chan struct{})
	w.ch <- workItem{flush: f}
	<-f
}
