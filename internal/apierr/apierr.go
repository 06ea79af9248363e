// Package apierr defines the error taxonomy shared by the catalog,
// dispatcher and connection layers.
//
// Every error carries a stable kind tag plus a human-readable hint so
// the calling agent can self-correct (retry with a suggested name, fix
// its arguments, or perform the named remediation) without a human in
// the loop.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is the stable error category tag.
type Kind string

const (
	// KindSpecParse marks a structurally invalid API description.
	// Fatal: the process cannot serve requests without a catalog.
	KindSpecParse Kind = "spec_parse_error"

	// KindNotFound marks an unknown service or operation id. The hint
	// lists close matches to guide a retry.
	KindNotFound Kind = "not_found"

	// KindValidation marks missing, malformed or unexpected parameters.
	KindValidation Kind = "validation_error"

	// KindAPI marks a non-2xx upstream response. The body is carried
	// verbatim so the caller can inspect upstream detail.
	KindAPI Kind = "api_error"

	// KindTransport marks a network-level failure reaching upstream.
	KindTransport Kind = "transport_error"

	// KindConfiguration marks environment, tooling or auth problems
	// that need out-of-band remediation. The hint names the concrete
	// remediation step.
	KindConfiguration Kind = "configuration_error"
)

// Error is a kind-tagged error with an optional hint and wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Hint    string

	// StatusCode and Body are set for KindAPI only. Body is the
	// upstream response body, untouched.
	StatusCode int
	Body       string

	cause error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the kind tag of err, or "" if err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// SpecParse reports a fatal spec parsing failure.
func SpecParse(format string, a ...any) *Error {
	return &Error{Kind: KindSpecParse, Message: fmt.Sprintf(format, a...)}
}

// NotFound reports an unknown name with suggested alternatives.
func NotFound(what, name, hint string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %q not found", what, name),
		Hint:    hint,
	}
}

// Validation reports a parameter problem the caller can fix.
func Validation(format string, a ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, a...)}
}

// API reports a non-2xx upstream response with the body passed through.
func API(status int, body string) *Error {
	return &Error{
		Kind:       KindAPI,
		Message:    fmt.Sprintf("upstream returned HTTP %d", status),
		StatusCode: status,
		Body:       body,
	}
}

// Transport reports a network failure with its underlying cause.
func Transport(cause error, format string, a ...any) *Error {
	return &Error{
		Kind:    KindTransport,
		Message: fmt.Sprintf(format, a...),
		Hint:    "retry after connectivity is re-established",
		cause:   cause,
	}
}

// Configuration reports an environment or tooling problem. hint names
// the remediation ("install kubectl", "run kubectl login", ...).
func Configuration(hint, format string, a ...any) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Message: fmt.Sprintf(format, a...),
		Hint:    hint,
	}
}
