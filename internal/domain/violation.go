package domain

import "time"

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Violation is an immutable audit record of a rule breach or of a
// failed attempt to enforce one. Rows are append-only; resolution only
// flips Resolved, nothing is ever deleted.
type Violation struct {
	ID         string
	RuleID     string
	AccountID  string
	Symbol     string
	Severity   Severity
	Message    string
	Action     Action
	Outcome    string // EXECUTED | NOOP | FAILED
	OccurredAt time.Time
	Resolved   bool
}
