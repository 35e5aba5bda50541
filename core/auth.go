package core

import (
	"net/mail"
	"strings"
)

const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

// SignUpInput contains the data needed to register a new user
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SignUpResult contains the newly created user and their first session
type SignUpResult struct {
	User    *User          `json:"user"`
	Session *SessionRecord `json:"session"`
	Token   string         `json:"token"` // The raw token (not the hash)
}

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInResult struct {
	User    *User          `json:"user"`
	Session *SessionRecord `json:"session"`
	Token   string         `json:"token"`
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the address shape only.
func ValidateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Err: ErrFieldRequired}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Err: ErrInvalidEmail}
	}
	return nil
}

// ValidatePassword enforces the length bounds. The upper bound is in bytes
// and caps hashing cost.
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return &ValidationError{Field: "password", Err: ErrFieldRequired}
	case len(password) < MinPasswordLength:
		return &ValidationError{Field: "password", Err: ErrPasswordTooShort}
	case len(password) > MaxPasswordLength:
		return &ValidationError{Field: "password", Err: ErrPasswordTooLong}
	}
	return nil
}
