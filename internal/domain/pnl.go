package domain

import "time"

// DailyPnLRecord aggregates one trading day for one account. A record
// is superseded by a fresh one when the reset scheduler rolls the date;
// it is never mutated back to zero, so prior days survive for audit.
type DailyPnLRecord struct {
	AccountID            string
	TradingDate          string // YYYY-MM-DD the reset-to-reset period started on
	RealizedPnL          float64
	UnrealizedPnL        float64
	PeakUnrealizedProfit float64
	TradeCount           int
	UpdatedAt            time.Time
}

// Combined returns realized plus unrealized P&L, the quantity
// thresholded by combined-mode daily limit rules.
func (r *DailyPnLRecord) Combined() float64 {
	return r.RealizedPnL + r.UnrealizedPnL
}

// ContractSpec carries the per-symbol multipliers needed to price a
// tick. Unrealized P&L per position is
// (last - avg) * direction * size * TickValue / TickSize.
type ContractSpec struct {
	Symbol    string  `yaml:"symbol"`
	TickSize  float64 `yaml:"tick_size"`
	TickValue float64 `yaml:"tick_value"`
}

// PointValue returns dollars per one full point of price movement.
func (c ContractSpec) PointValue() float64 {
	if c.TickSize == 0 {
		return 1
	}
	return c.TickValue / c.TickSize
}
