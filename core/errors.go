package core

import (
	"errors"
	"fmt"
)

// Identity errors
var (
	ErrUserExists             = errors.New("user already exists")       // 409 Conflict
	ErrUserNotFound           = errors.New("user not found")            // 404 Not Found
	ErrInvalidCredentials     = errors.New("invalid email or password") // 401 Unauthorized
	ErrInvalidCurrentPassword = errors.New("invalid current password")  // 403 Forbidden
	ErrNotSignedIn            = errors.New("not signed in")             // 401
	ErrEmailNotVerified       = errors.New("email not verified")        // 403
)

// Session errors
var (
	ErrInvalidToken    = errors.New("invalid session token") // 401
	ErrSessionNotFound = errors.New("session not found")     // 401
	ErrSessionExpired  = errors.New("session expired")       // 401
	ErrTokenNotFound   = errors.New("token not found or already used")
	ErrTokenExpired    = errors.New("token expired")
)

// Validation errors (client input)
var (
	ErrFieldRequired     = errors.New("field is required")      // 400
	ErrPasswordTooShort  = errors.New("password is too short")  // 400
	ErrPasswordTooLong   = errors.New("password is too long")   // 400
	ErrPasswordsMismatch = errors.New("passwords do not match") // 400
	ErrInvalidEmail      = errors.New("invalid email format")   // 400
	ErrInvalidValue      = errors.New("invalid value")          // 400
	ErrInvalidTransition = errors.New("invalid navigation transition")
)

// Write pipeline errors
var (
	ErrBusy        = errors.New("form is busy")                      // 409
	ErrRateLimited = errors.New("please wait before trying again")   // 429
	ErrNotOwner    = errors.New("listing belongs to another seller") // 403
	ErrNotFound    = errors.New("document not found")                // 404
	ErrClosed      = errors.New("closed")
)

// Config errors (server-side configuration)
var (
	ErrIdentityRequired      = errors.New("identity provider is required")
	ErrDocumentStoreRequired = errors.New("document store is required")
	ErrLocalStorageRequired  = errors.New("local storage is required")
	ErrAuthStorageRequired   = errors.New("auth storage is required")
)

// ValidationError is a local, field-scoped rejection raised before any
// network call.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AuthError is an identity provider rejection.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// WriteError is a document store rejection or connectivity failure.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindAuth        ErrorKind = "auth"
	KindWrite       ErrorKind = "write"
	KindNotFound    ErrorKind = "not_found"
	KindBusy        ErrorKind = "busy"
	KindRateLimited ErrorKind = "rate_limited"
	KindUnknown     ErrorKind = "unknown"
)

// KindOf classifies err. The outermost typed error wins.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		verr *ValidationError
		aerr *AuthError
		werr *WriteError
	)
	switch {
	case errors.As(err, &verr):
		return KindValidation
	case errors.As(err, &aerr):
		return KindAuth
	case errors.As(err, &werr):
		return KindWrite
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	}
	return KindUnknown
}

// Reason returns the message shown to the user for err, without the
// operation prefix added by AuthError and WriteError.
func Reason(err error) string {
	var (
		aerr *AuthError
		werr *WriteError
	)
	switch {
	case errors.As(err, &aerr):
		return aerr.Err.Error()
	case errors.As(err, &werr):
		return werr.Err.Error()
	case err != nil:
		return err.Error()
	}
	return ""
}
