package domain

import "fmt"

// ConfigurationError means a rule's configuration is invalid. The rule
// is refused at startup, not armed.
type ConfigurationError struct {
	RuleID string
	Field  string
	Msg    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule %s: invalid %s: %s", e.RuleID, e.Field, e.Msg)
}

// TransientGatewayError wraps an enforcement call failure that is worth
// retrying (transport hiccup, gateway busy).
type TransientGatewayError struct {
	Op  string
	Err error
}

func (e *TransientGatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// StateCorruptionError means persisted state violated an invariant on
// reload. The loader resolves it by keeping the most restrictive
// interpretation (fail closed) and reports it through this error.
type StateCorruptionError struct {
	Table string
	Msg   string
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("corrupt state in %s: %s", e.Table, e.Msg)
}
