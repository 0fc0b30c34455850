package model

import "fmt"

// ConfigError indicates ledger or doctrine misconfiguration. Fatal:
// callers abort process init rather than falling back at runtime.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Msg
}

// NewConfigError formats a ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unmapped zip or jurisdiction. Recoverable:
// the run ends as a WALK, not a crash.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// ConflictError is an optimistic version mismatch on a profile write.
// Retried once with a re-read, then surfaced.
type ConflictError struct {
	JurisdictionID  string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("profile version conflict for %s: expected %d, found %d",
		e.JurisdictionID, e.ExpectedVersion, e.ActualVersion)
}

// AgentFailure is an external recon-agent failure. Hard pass failure
// when the owning ledger step is locked, otherwise treated as an
// insufficient tier outcome.
type AgentFailure struct {
	JurisdictionID string
	CorrelationID  string
	Err            error
}

func (e *AgentFailure) Error() string {
	return fmt.Sprintf("recon agent failed for %s (correlation %s): %v",
		e.JurisdictionID, e.CorrelationID, e.Err)
}

func (e *AgentFailure) Unwrap() error {
	return e.Err
}
