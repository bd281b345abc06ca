package domain

import "time"

type EventType string

const (
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionUpdated EventType = "POSITION_UPDATED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderPartial    EventType = "ORDER_PARTIAL_FILL"
	EventOrderCancelled  EventType = "ORDER_CANCELLED"
	EventOrderModified   EventType = "ORDER_MODIFIED"
	EventOrderRejected   EventType = "ORDER_REJECTED"
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventQuoteUpdate     EventType = "QUOTE_UPDATE"
	EventAccountUpdated  EventType = "ACCOUNT_UPDATED"
)

// Event is the single inbound message shape from the trading gateway.
// Exactly one of the payload pointers is set, matching Type.
type Event struct {
	Type      EventType `json:"type"`
	AccountID string    `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	Position *Position `json:"position,omitempty"`
	Order    *Order    `json:"order,omitempty"`
	Trade    *Trade    `json:"trade,omitempty"`
	Quote    *Quote    `json:"quote,omitempty"`
	Account  *Account  `json:"account,omitempty"`
}

type Quote struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
}

// Account carries authorization state from ACCOUNT_UPDATED events.
type Account struct {
	AccountID  string `json:"account_id"`
	Authorized bool   `json:"authorized"`
	Status     string `json:"status"`
}

// OpensOrIncreases reports whether the event represents new risk being
// added (a position opening or growing). The router's lockout pre-check
// keys off this, so locked accounts cannot open exposure through any
// event type a rule happens not to subscribe to.
func (e *Event) OpensOrIncreases() bool {
	switch e.Type {
	case EventPositionOpened:
		return true
	case EventPositionUpdated:
		// An update that grew the absolute size is an increase.
		if e.Position != nil {
			return absF(e.Position.Size) > absF(e.Position.PrevSize)
		}
	}
	return false
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
