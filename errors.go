package jsonapi

import "fmt"

// Kind is the stable symbolic name of an error, independent of its message.
// It maps directly onto the HTTP status codes in spec.md §7.
type Kind string

const (
	KindPayload             Kind = "payload"
	KindValidation          Kind = "validation"
	KindAuthentication      Kind = "authentication"
	KindAuthorization       Kind = "authorization"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindUnsupportedOperation Kind = "unsupported_operation"
	KindStorageFailure      Kind = "storage_failure"
)

// Violation describes a single structured validation failure.
type Violation struct {
	Path     string `json:"path"`
	Rule     string `json:"rule,omitempty"`
	Expected string `json:"expected,omitempty"`
	Received string `json:"received,omitempty"`
	Message  string `json:"message"`
}

// Error is the single taxonomy-wide error type. Every error the engine
// raises is a *Error so callers can switch on Kind rather than on Go type.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any

	Violations    []Violation
	RequiredRules []string
	FailureReason string
	RequiredFeature string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// StatusCode maps a Kind to the HTTP status code named in spec.md §6.1/§7.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindPayload:
		return 400
	case KindUnsupportedOperation:
		return 400
	case KindAuthentication:
		return 401
	case KindAuthorization:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindValidation:
		return 422
	case KindStorageFailure:
		return 500
	default:
		return 500
	}
}

func newErr(kind Kind, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

// ErrNotFound builds the ownership-masking / unknown-id error. This is the
// only constructor allowed to be used when ownership or existence must be
// hidden — never downgrade it to KindAuthorization (spec.md §9).
func ErrNotFound(resource, id string) *Error {
	return newErr(KindNotFound, fmt.Sprintf("%s %q not found", resource, id), map[string]any{
		"resource": resource,
		"id":       id,
	})
}

// ErrAccessDenied builds the authorization-evaluator failure described in
// spec.md §4.4: it must list the required rule set and the failure reasons.
func ErrAccessDenied(resource string, operation Operation, rules []string, reason string) *Error {
	return &Error{
		Kind:          KindAuthorization,
		Message:       fmt.Sprintf("access denied for %s on %s", operation, resource),
		RequiredRules: rules,
		FailureReason: reason,
		Details: map[string]any{
			"resource":  resource,
			"operation": operation,
			"rules":     rules,
			"reason":    reason,
		},
	}
}

// ErrUnsupportedOperation builds the include-limit-without-window-functions
// error from spec.md §4.7 / §7, naming the missing capability explicitly.
func ErrUnsupportedOperation(feature string) *Error {
	return &Error{
		Kind:            KindUnsupportedOperation,
		Message:         fmt.Sprintf("backend does not support required feature %q", feature),
		RequiredFeature: feature,
		Details:         map[string]any{"requiredFeature": feature},
	}
}

// ErrValidationViolations wraps one or more structured violations.
func ErrValidationViolations(violations ...Violation) *Error {
	msg := "validation failed"
	if len(violations) == 1 {
		msg = violations[0].Message
	}
	return &Error{Kind: KindValidation, Message: msg, Violations: violations}
}

// ErrPayload builds a structural (shape) error at the given path.
func ErrPayload(path, expected, received string) *Error {
	return &Error{
		Kind: KindPayload,
		Message: fmt.Sprintf("malformed payload at %s", path),
		Details: map[string]any{
			"path":     path,
			"expected": expected,
			"received": received,
		},
	}
}

// ErrAuthentication wraps a token verification failure.
func ErrAuthentication(reason string) *Error {
	return newErr(KindAuthentication, reason, nil)
}

// ErrConflict wraps a storage-reported unique violation.
func ErrConflict(msg string) *Error {
	return newErr(KindConflict, msg, nil)
}

// ErrStorage wraps an opaque storage failure.
func ErrStorage(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	return newErr(KindStorageFailure, err.Error(), nil)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}

// RenderError converts err into a JSON:API error document and its HTTP
// status (spec.md §6.1, §7). Non-*Error values are folded into a generic
// 500 storage_failure so a transport adapter never has to type-switch on
// plain Go errors itself.
func RenderError(err error) (int, map[string]any) {
	ae, ok := err.(*Error)
	if !ok {
		ae = ErrStorage(err)
	}

	obj := map[string]any{
		"status": fmt.Sprintf("%d", ae.StatusCode()),
		"code":   string(ae.Kind),
		"title":  ae.Message,
	}
	if len(ae.Violations) > 0 {
		details := make([]map[string]any, 0, len(ae.Violations))
		for _, v := range ae.Violations {
			details = append(details, map[string]any{
				"path":     v.Path,
				"rule":     v.Rule,
				"expected": v.Expected,
				"received": v.Received,
				"message":  v.Message,
			})
		}
		obj["meta"] = map[string]any{"violations": details}
	} else if ae.Details != nil {
		obj["meta"] = ae.Details
	}

	return ae.StatusCode(), map[string]any{"errors": []map[string]any{obj}}
}
