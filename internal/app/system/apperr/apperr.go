// internal/app/system/apperr/apperr.go
// Package apperr is the error taxonomy shared by services and handlers.
//
// Services return *Error values for every failure a caller can act on.
// Anything else reaching an HTTP handler is treated as an internal error and
// its detail is logged, not returned.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the boundary layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindStateConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	}
	return "internal"
}

// Machine-readable codes for failures clients branch on.
const (
	CodeInvalidInput       = "invalid_input"
	CodeInvalidCredentials = "invalid_credentials"
	CodeEmailNotConfirmed  = "email_not_confirmed"
	CodeChannelNotLinked   = "channel_not_linked"
	CodeInvalidCode        = "invalid_code"
	CodeExpiredChallenge   = "expired_challenge"
	CodeChallengeRejected  = "challenge_rejected"
	CodeInvalidToken       = "invalid_token"
	CodeCaptchaFailed      = "captcha_failed"
	CodeForbidden          = "forbidden"
	CodeInvalidTransition  = "invalid_transition"
	CodeAlreadyReviewed    = "already_reviewed"
	CodeAlreadyAccepted    = "already_accepted"
	CodeAlreadyMember      = "already_member"
	CodeConflict           = "conflict"
	CodeNotFound           = "not_found"
)

// Error is a classified failure. Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
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

// Wrap attaches an underlying cause and returns e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// Validation reports malformed input on field.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidInput, Field: field, Message: msg}
}

// Authentication reports a failed identity check.
func Authentication(code, msg string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: msg}
}

// Forbidden reports an action the caller's role does not permit.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: msg}
}

// Conflict reports an operation that is illegal in the current state.
func Conflict(code, msg string) *Error {
	return &Error{Kind: KindStateConflict, Code: code, Message: msg}
}

// NotFound reports a missing aggregate.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal if err is unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
