// Package envelope implements the uniform tool-response shape (spec §6):
// {ok, meta, data|error, warnings?, truncation?, evidence?}.
package envelope

import (
	"time"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/evidence"
)

// SchemaVersion is embedded in every response's meta block.
const SchemaVersion = "2.0"

// Meta carries per-response bookkeeping.
type Meta struct {
	Tool          string  `json:"tool"`
	SchemaVersion string  `json:"schemaVersion"`
	RequestID     string  `json:"requestId"`
	TimeMs        int64   `json:"timeMs"`
	BundleID      string  `json:"bundleId,omitempty"`
	FromCache     bool    `json:"fromCache,omitempty"`
}

// Error is the envelope's closed-set error payload.
type Error struct {
	Code    coreerr.Kind   `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Truncation reports that a result list was cut short.
type Truncation struct {
	Truncated     bool   `json:"truncated"`
	NextCursor    string `json:"nextCursor,omitempty"`
	Reason        string `json:"reason,omitempty"`
	TotalCount    int    `json:"totalCount,omitempty"`
	ReturnedCount int    `json:"returnedCount,omitempty"`
}

// Warning is a non-fatal issue the caller should know about.
type Warning struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Envelope is the uniform response shape, parameterized by the payload type.
type Envelope[T any] struct {
	OK         bool               `json:"ok"`
	Meta       Meta               `json:"meta"`
	Data       *T                 `json:"data,omitempty"`
	Error      *Error             `json:"error,omitempty"`
	Warnings   []Warning          `json:"warnings,omitempty"`
	Truncation *Truncation        `json:"truncation,omitempty"`
	Evidence   []evidence.Pointer `json:"evidence,omitempty"`
}

// Clock lets callers stamp elapsed time without using time.Now() directly in
// hot paths that need to stay deterministic under test.
type Clock func() time.Time

// Ok builds a successful envelope.
func Ok[T any](tool, requestID string, started time.Time, now Clock, data T) Envelope[T] {
	return Envelope[T]{
		OK: true,
		Meta: Meta{
			Tool:          tool,
			SchemaVersion: SchemaVersion,
			RequestID:     requestID,
			TimeMs:        now().Sub(started).Milliseconds(),
		},
		Data: &data,
	}
}

// Fail builds a failed envelope from a CoreError.
func Fail[T any](tool, requestID string, started time.Time, now Clock, err *coreerr.CoreError) Envelope[T] {
	return Envelope[T]{
		OK: false,
		Meta: Meta{
			Tool:          tool,
			SchemaVersion: SchemaVersion,
			RequestID:     requestID,
			TimeMs:        now().Sub(started).Milliseconds(),
		},
		Error: &Error{
			Code:    err.Kind,
			Message: err.Message,
			Hint:    err.Hint,
		},
	}
}

// WithBundleID sets Meta.BundleID and returns the receiver for chaining.
func (e Envelope[T]) WithBundleID(bundleID string) Envelope[T] {
	e.Meta.BundleID = bundleID
	return e
}

// WithWarnings appends warnings and returns the receiver for chaining.
func (e Envelope[T]) WithWarnings(warnings ...Warning) Envelope[T] {
	e.Warnings = append(e.Warnings, warnings...)
	return e
}

// WithTruncation sets the truncation block and returns the receiver for
// chaining.
func (e Envelope[T]) WithTruncation(t Truncation) Envelope[T] {
	e.Truncation = &t
	return e
}

// WithEvidence sets the evidence list and returns the receiver for chaining.
func (e Envelope[T]) WithEvidence(pointers ...evidence.Pointer) Envelope[T] {
	e.Evidence = pointers
	return e
}
