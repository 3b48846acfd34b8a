package errdefs

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification returned on boundary responses.
type Kind string

const (
	KindValidation           Kind = "Validation"
	KindPrerequisiteNotMet   Kind = "PrerequisiteNotMet"
	KindConflictingSelection Kind = "ConflictingSelection"
	KindRuntimeUnavailable   Kind = "RuntimeUnavailable"
	KindProbeTimeout         Kind = "ProbeTimeout"
	KindProbeRefused         Kind = "ProbeRefused"
	KindStartupDeadline      Kind = "StartupDeadlineExceeded"
	KindPartialStart         Kind = "PartialStart"
	KindDependentsRunning    Kind = "DependentsRunning"
	KindPrerequisiteNotReady Kind = "PrerequisiteNotReady"
	KindCircularDependency   Kind = "CircularDependency"
	KindCatalogInvalid       Kind = "CatalogInvalid"
	KindRPCError             Kind = "RPCError"
	KindRPCTimeout           Kind = "RPCTimeout"
	KindRPCRefused           Kind = "RPCRefused"
	KindSnapshotFailed       Kind = "SnapshotFailed"
	KindRestoreFailed        Kind = "RestoreFailed"
	KindUpdateFailed         Kind = "UpdateFailed"
	KindTokenExpired         Kind = "TokenExpired"
	KindTokenConsumed        Kind = "TokenAlreadyConsumed"
	KindTokenNotFound        Kind = "TokenNotFound"
	KindNotFound             Kind = "NotFound"
	KindCancelled            Kind = "Cancelled"
	KindInternal             Kind = "Internal"
)

// Error is a classified error carried across subsystem boundaries. Details is
// optional structured context safe to show to users; it must never contain
// secrets.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails attaches structured context to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailsOf extracts structured details from an error chain, if any.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether the error is in the transient class that may be
// retried with backoff (probe and RPC timeouts and refusals).
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindProbeTimeout, KindProbeRefused, KindRPCTimeout, KindRPCRefused:
		return true
	}
	return false
}
