package core

import "time"

type SessionConfig struct {
	MaxAge time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge: 30 * 24 * time.Hour,
	}
}

// PolicyConfig holds the tunables of the view core.
type PolicyConfig struct {
	// NewcomerWindow is how long after registration a profile reads as newcomer.
	NewcomerWindow time.Duration
	// ResendCooldown spaces out verification and password reset emails.
	ResendCooldown time.Duration
	// CensorWords replaces the built-in denylist when non-empty.
	CensorWords []string
	CensorMask  string
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		NewcomerWindow: 365 * 24 * time.Hour,
		ResendCooldown: time.Minute,
		CensorMask:     "***",
	}
}
