// Package coreerr defines the closed error-kind set the envelope boundary
// maps every failure onto (spec §6/§7), plus the CoreError carrier type.
package coreerr

import "fmt"

// Kind is a closed enum of the error codes the external envelope may report.
type Kind string

const (
	KindBundleNotFound        Kind = "BUNDLE_NOT_FOUND"
	KindBundleBusy            Kind = "BUNDLE_BUSY"
	KindFileNotFound          Kind = "FILE_NOT_FOUND"
	KindInvalidPath           Kind = "INVALID_PATH"
	KindPermissionDenied      Kind = "PERMISSION_DENIED"
	KindIndexMissingOrCorrupt Kind = "INDEX_MISSING_OR_CORRUPT"
	KindEmbeddingUnavailable  Kind = "EMBEDDING_UNAVAILABLE"
	KindLogprobsUnsupported   Kind = "LOGPROBS_UNSUPPORTED"
	KindLLMTransient          Kind = "LLM_TRANSIENT"
	KindLLMTerminal           Kind = "LLM_TERMINAL"
	KindDeprecatedParameter   Kind = "DEPRECATED_PARAMETER"
	KindUnknown               Kind = "UNKNOWN"
)

// CoreError is the carrier type every core package returns for
// caller-surfaced failures. It satisfies error and Unwrap so callers can
// still errors.Is/As against the wrapped Cause.
type CoreError struct {
	Kind    Kind
	Message string
	Hint    string
	Cause   error
}

// Error implements the error interface using the envelope's required
// plain-text rendering: "[preflight_error kind=<code>] <message>".
func (e *CoreError) Error() string {
	return fmt.Sprintf("[preflight_error kind=%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// New builds a CoreError with no cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError carrying cause, for translating an internal
// sentinel error into the closed kind set at a package boundary.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// WithHint returns a copy of e with Hint set, for pointing callers at a
// recovery tool (spec §7: "repair_bundle", "disable IGP", "upgrade provider").
func (e *CoreError) WithHint(hint string) *CoreError {
	clone := *e
	clone.Hint = hint
	return &clone
}
