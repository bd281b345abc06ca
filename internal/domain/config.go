package domain

import (
	"time"
)

// RuleKind is the closed set of built-in rule types. A factory matches
// on the tag; there is no name-based reflection.
type RuleKind string

const (
	RuleDailyLoss        RuleKind = "daily_loss"
	RuleDailyProfit      RuleKind = "daily_profit"
	RulePositionLoss     RuleKind = "position_loss"
	RulePositionProfit   RuleKind = "position_profit"
	RuleMaxPositionSize  RuleKind = "max_position_size"
	RuleNoStopLossGrace  RuleKind = "no_stop_loss_grace"
	RuleTradeFrequency   RuleKind = "trade_frequency"
	RulePostLossCooldown RuleKind = "post_loss_cooldown"
	RuleSessionHours     RuleKind = "session_hours"
	RuleAccountAuth      RuleKind = "account_auth"
	RuleSymbolBlock      RuleKind = "symbol_block"
)

// SizeRemedy selects how a position-size breach is remedied. The
// source material was inconsistent here, so it is a per-rule choice.
type SizeRemedy string

const (
	RemedyReduceToLimit SizeRemedy = "REDUCE_TO_LIMIT"
	RemedyClosePosition SizeRemedy = "CLOSE_POSITION"
)

// RuleConfig is the pre-validated per-rule configuration consumed by
// the engine. Fields beyond ID/Kind/Enabled apply per kind; Validate
// checks the ones the kind requires.
type RuleConfig struct {
	ID      string   `yaml:"id"`
	Kind    RuleKind `yaml:"kind"`
	Enabled bool     `yaml:"enabled"`

	// Dollar threshold for P&L rules (negative for loss limits),
	// contract count for the size rule.
	Threshold float64 `yaml:"threshold"`

	// Daily loss: threshold on realized+unrealized instead of realized only.
	IncludeUnrealized bool `yaml:"include_unrealized"`

	// Size rule remedy.
	Remedy SizeRemedy `yaml:"remedy"`

	// Timer-archetype rules, milliseconds.
	GracePeriodMs int64 `yaml:"grace_period_ms"`
	CooldownMs    int64 `yaml:"cooldown_ms"`

	// Trade frequency window.
	MaxTrades int   `yaml:"max_trades"`
	WindowMs  int64 `yaml:"window_ms"`

	// Scheduled (hard-lockout) rules.
	ResetTime string `yaml:"reset_time"` // "HH:MM"
	Timezone  string `yaml:"timezone"`   // IANA name

	// Session rule, wall clock in Timezone.
	SessionStart string `yaml:"session_start"`
	SessionEnd   string `yaml:"session_end"`

	// Symbol block rule.
	BlockedSymbols []string `yaml:"blocked_symbols"`
}

// Validate refuses a rule rather than arming it with undefined
// behavior. It returns a *ConfigurationError describing the first
// problem found.
func (c *RuleConfig) Validate() error {
	if c.ID == "" {
		return &ConfigurationError{RuleID: c.ID, Field: "id", Msg: "rule id is required"}
	}
	bad := func(field, msg string) error {
		return &ConfigurationError{RuleID: c.ID, Field: field, Msg: msg}
	}
	switch c.Kind {
	case RuleDailyLoss:
		if c.Threshold >= 0 {
			return bad("threshold", "daily loss threshold must be negative")
		}
		if err := c.checkSchedule(); err != nil {
			return err
		}
	case RuleDailyProfit:
		if c.Threshold <= 0 {
			return bad("threshold", "daily profit threshold must be positive")
		}
		if err := c.checkSchedule(); err != nil {
			return err
		}
	case RulePositionLoss:
		if c.Threshold >= 0 {
			return bad("threshold", "position loss threshold must be negative")
		}
	case RulePositionProfit:
		if c.Threshold <= 0 {
			return bad("threshold", "position profit threshold must be positive")
		}
	case RuleMaxPositionSize:
		if c.Threshold <= 0 {
			return bad("threshold", "max position size must be positive")
		}
		if c.Remedy != RemedyReduceToLimit && c.Remedy != RemedyClosePosition {
			return bad("remedy", "remedy must be REDUCE_TO_LIMIT or CLOSE_POSITION")
		}
	case RuleNoStopLossGrace:
		if c.GracePeriodMs <= 0 {
			return bad("grace_period_ms", "grace period must be positive")
		}
	case RuleTradeFrequency:
		if c.MaxTrades <= 0 {
			return bad("max_trades", "max trades must be positive")
		}
		if c.WindowMs <= 0 {
			return bad("window_ms", "window must be positive")
		}
		if c.CooldownMs <= 0 {
			return bad("cooldown_ms", "cooldown must be positive")
		}
	case RulePostLossCooldown:
		if c.CooldownMs <= 0 {
			return bad("cooldown_ms", "cooldown must be positive")
		}
	case RuleSessionHours:
		if _, err := ParseTimeOfDay(c.SessionStart); err != nil {
			return bad("session_start", err.Error())
		}
		if _, err := ParseTimeOfDay(c.SessionEnd); err != nil {
			return bad("session_end", err.Error())
		}
		if err := c.checkTimezone(); err != nil {
			return err
		}
	case RuleAccountAuth:
		// No thresholds.
	case RuleSymbolBlock:
		if len(c.BlockedSymbols) == 0 {
			return bad("blocked_symbols", "at least one symbol required")
		}
	default:
		return bad("kind", "unknown rule kind "+string(c.Kind))
	}
	return nil
}

// GracePeriod, Cooldown and Window expose the millisecond fields as
// durations.
func (c *RuleConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

func (c *RuleConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

func (c *RuleConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

func (c *RuleConfig) checkSchedule() error {
	if _, err := ParseTimeOfDay(c.ResetTime); err != nil {
		return &ConfigurationError{RuleID: c.ID, Field: "reset_time", Msg: err.Error()}
	}
	return c.checkTimezone()
}

func (c *RuleConfig) checkTimezone() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &ConfigurationError{RuleID: c.ID, Field: "timezone", Msg: "invalid timezone: " + c.Timezone}
	}
	return nil
}

// TimeOfDay is a wall-clock instant within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns minutes since midnight, for session-window math.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }
