// Package errs defines the agent's error taxonomy: distinct types for each
// failure domain so callers can branch on transience without string
// matching, following the teacher's convention of wrapped sentinel errors
// over panics in library code.
package errs

import "fmt"

// ConfigError is a fatal configuration problem, surfaced only at startup.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// PlatformError is returned by the platform client. Transient errors
// (network failures, 5xx) are retried on the next tick; non-transient
// errors (4xx) are logged and the affected connector is skipped for the
// tick. A 4xx carrying a schema-unknown code is reported as ProtocolMismatch
// instead.
type PlatformError struct {
	Op        string
	Transient bool
	Message   string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error (%s, transient=%v): %s", e.Op, e.Transient, e.Message)
}

// OrchestratorError is returned by an orchestrator backend, with the same
// transient/non-transient split as PlatformError.
type OrchestratorError struct {
	Op        string
	Transient bool
	Message   string
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator error (%s, transient=%v): %s", e.Op, e.Transient, e.Message)
}

// ImagePullError records a failed image pull for a connector. The
// reconciler counts consecutive occurrences and parks the connector after
// five.
type ImagePullError struct {
	ImageRef string
	Message  string
}

func (e *ImagePullError) Error() string {
	return fmt.Sprintf("image pull error for %s: %s", e.ImageRef, e.Message)
}

// DecryptError is returned when a contract configuration value cannot be
// decrypted. Never carries the ciphertext or plaintext, only the key name.
type DecryptError struct {
	ConfigKey string
	Reason    string
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt error for config key %q: %s", e.ConfigKey, e.Reason)
}

// ProtocolMismatch marks a platform mutation the connected platform version
// does not implement. Tracked per operation name so the warning logs once.
type ProtocolMismatch struct {
	Operation string
}

func (e *ProtocolMismatch) Error() string {
	return fmt.Sprintf("protocol mismatch: platform does not implement %s", e.Operation)
}
