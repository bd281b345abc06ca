package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is an open position on the account. Size is signed:
// positive = long, negative = short. PrevSize is the size before the
// update that produced this snapshot (zero on open).
type Position struct {
	AccountID     string    `json:"account_id"`
	Symbol        string    `json:"symbol"`
	Size          float64   `json:"size"`
	PrevSize      float64   `json:"prev_size"`
	AvgPrice      float64   `json:"avg_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	HasStopLoss   bool      `json:"has_stop_loss"`
	StopPrice     float64   `json:"stop_price"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Direction returns +1 for long, -1 for short, 0 for flat.
func (p *Position) Direction() float64 {
	switch {
	case p.Size > 0:
		return 1
	case p.Size < 0:
		return -1
	}
	return 0
}

type OrderStatus string

const (
	OrderPending     OrderStatus = "PENDING"
	OrderPartialFill OrderStatus = "PARTIAL_FILL"
	OrderFilled      OrderStatus = "FILLED"
	OrderCancelled   OrderStatus = "CANCELLED"
	OrderRejected    OrderStatus = "REJECTED"
)

type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

type Order struct {
	ID         string      `json:"id"`
	AccountID  string      `json:"account_id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Quantity   float64     `json:"quantity"`
	Type       OrderType   `json:"type"`
	Status     OrderStatus `json:"status"`
	LimitPrice float64     `json:"limit_price"`
	StopPrice  float64     `json:"stop_price"`
	FilledQty  float64     `json:"filled_qty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// IsProtectiveStop reports whether the order is a working stop that
// would protect a position in its symbol.
func (o *Order) IsProtectiveStop() bool {
	if o.Type != OrderTypeStop && o.Type != OrderTypeStopLimit {
		return false
	}
	return o.Status == OrderPending || o.Status == OrderPartialFill
}

// Trade is an immutable fill. RealizedPnL is nil for an opening
// (half-turn) fill; a closing fill carries its P&L delta.
type Trade struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	RealizedPnL *float64  `json:"realized_pnl"`
	ExecutedAt  time.Time `json:"executed_at"`
}
