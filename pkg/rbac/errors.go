package rbac

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnexpectedSigningMethod is returned by the actor-token verifier when a
// JWT specifies a signing algorithm other than HMAC.
var ErrUnexpectedSigningMethod = errors.New("rbac: unexpected JWT signing method")

// Kind is the error taxonomy from spec.md §7. Every error the Boundary
// returns to a caller carries exactly one Kind, which maps to exactly one
// HTTP status; business-logic preconditions that merely fail (e.g. granting
// a permission to a role that does not exist) are reported in the
// result:false payload instead, not as an error of any Kind.
type Kind int

const (
	// KindInternal is the zero value so a bare Error{} is never mistaken
	// for a classified failure.
	KindInternal Kind = iota
	KindBadInput
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindStoreUnavailable
)

// Status returns the HTTP status code this Kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindBadInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "BadInput"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	default:
		return "Internal"
	}
}

// Error is the classified error type threaded from Store through Engine to
// Boundary. Wrap with fmt.Errorf("...: %w", err) as needed; Boundary
// unwraps with errors.As to recover the Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Err: cause}
}

func BadInput(msg string) *Error              { return newErr(KindBadInput, msg, nil) }
func Unauthorized(msg string) *Error          { return newErr(KindUnauthorized, msg, nil) }
func Forbidden(msg string) *Error             { return newErr(KindForbidden, msg, nil) }
func NotFound(msg string) *Error              { return newErr(KindNotFound, msg, nil) }
func Conflict(msg string) *Error              { return newErr(KindConflict, msg, nil) }
func StoreUnavailable(msg string, err error) *Error {
	return newErr(KindStoreUnavailable, msg, err)
}
func Internal(msg string, err error) *Error { return newErr(KindInternal, msg, err) }
