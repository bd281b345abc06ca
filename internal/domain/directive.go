package domain

import "time"

type Action string

const (
	ActionClosePosition Action = "CLOSE_POSITION"
	ActionCloseAll      Action = "CLOSE_ALL"
	ActionReduceToLimit Action = "REDUCE_TO_LIMIT"
	ActionCancelOrders  Action = "CANCEL_ORDERS"
	ActionStartTimer    Action = "START_TIMER"
	ActionSetLockout    Action = "SET_LOCKOUT"
)

// Directive priorities. Lower drains first.
const (
	PriorityHardLockout = 1 // account-wide lockout / close-all
	PriorityCooldown    = 3 // timer-based trading block
	PriorityReduce      = 5 // single-position close or reduction
	PriorityAutomation  = 7 // non-protective automation
)

// Directive is an enforcement instruction produced by a rule (or by the
// router's lockout pre-check) and consumed by the action queue.
type Directive struct {
	ID        string
	RuleID    string
	Action    Action
	Priority  int
	AccountID string
	Symbol    string // empty for account-wide actions
	Reason    string

	// Action parameters.
	TargetSize   float64       // REDUCE_TO_LIMIT
	Duration     time.Duration // START_TIMER
	TimerKey     string        // START_TIMER; timer key when it differs from RuleID
	LockKind     LockoutKind   // SET_LOCKOUT, or piggybacked on CLOSE_ALL / START_TIMER
	ExpiresAt    *time.Time    // lock expiry; nil = indefinite
	CancelOrders bool          // also flatten working orders
}
