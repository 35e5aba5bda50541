package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lborres/templatex/adapters/memory"
	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/cache"
)

func newTestSessionManager(storage core.SessionStorage, c core.SessionCache) *SessionManager {
	return NewSessionManager(core.SessionConfig{MaxAge: 24 * time.Hour}, storage, c)
}

// Requirement: Create stores a session and hands back an opaque token
func TestSessionManager_Create(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		ip        string
		userAgent string
	}{
		{name: "creates session successfully", userID: "user123", ip: "192.168.1.1", userAgent: "Mozilla/5.0"},
		{name: "empty IP", userID: "user123", ip: "", userAgent: "Mozilla/5.0"},
		{name: "empty userAgent", userID: "user123", ip: "192.168.1.1", userAgent: ""},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			storage := memory.NewAuthStorage()
			manager := newTestSessionManager(storage, nil)

			// Act
			session, token, err := manager.Create(context.Background(), test.userID, test.ip, test.userAgent)

			// Assert
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if token == "" {
				t.Fatal("token is empty")
			}
			if session.UserID != test.userID {
				t.Errorf("UserID = %q, want %q", session.UserID, test.userID)
			}
			if session.TokenHash == token {
				t.Error("the stored hash must differ from the token")
			}
			if got := session.ExpiresAt.Sub(session.CreatedAt); got != 24*time.Hour {
				t.Errorf("lifetime = %v, want 24h", got)
			}
		})
	}
}

// Requirement: TokenHash never appears in JSON
func TestSessionRecord_TokenHashNotExposed(t *testing.T) {
	manager := newTestSessionManager(memory.NewAuthStorage(), nil)
	session, _, err := manager.Create(context.Background(), "user123", "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if strings.Contains(string(raw), session.TokenHash) {
		t.Errorf("token hash leaked into JSON: %s", raw)
	}
}

func TestSessionManager_Verify(t *testing.T) {
	tests := []struct {
		name    string
		token   func(valid string) string
		advance time.Duration
		wantErr error
	}{
		{name: "valid token", token: func(v string) string { return v }},
		{name: "empty token", token: func(string) string { return "" }, wantErr: core.ErrInvalidToken},
		{name: "unknown token", token: func(string) string { return "nope" }, wantErr: core.ErrSessionNotFound},
		{name: "expired session", token: func(v string) string { return v }, advance: 25 * time.Hour, wantErr: core.ErrSessionExpired},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			storage := memory.NewAuthStorage()
			manager := newTestSessionManager(storage, nil)
			ctx := context.Background()
			_, token, err := manager.Create(ctx, "user123", "", "")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			start := time.Now()
			manager.now = func() time.Time { return start.Add(test.advance) }

			// Act
			session, err := manager.Verify(ctx, test.token(token))

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, test.wantErr)
			}
			if test.wantErr == nil && session.UserID != "user123" {
				t.Errorf("UserID = %q", session.UserID)
			}
		})
	}
}

// Requirement: a cached session is served without a storage round-trip and
// Destroy invalidates both
func TestSessionManager_Cache(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewAuthStorage()
	c := cache.NewMemory[*core.SessionRecord](cache.Config{TTL: time.Minute})
	manager := newTestSessionManager(storage, c)

	_, token, err := manager.Create(ctx, "user123", "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := manager.Verify(ctx, token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if c.Stats().Hits != 1 {
		t.Errorf("cache hits = %d, want 1", c.Stats().Hits)
	}

	if err := manager.Destroy(ctx, token); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := manager.Verify(ctx, token); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("Verify() after Destroy error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManager_DestroyAllUserSessions(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewAuthStorage()
	manager := newTestSessionManager(storage, cache.NewMemory[*core.SessionRecord](cache.Config{}))

	var tokens []string
	for i := 0; i < 3; i++ {
		_, token, err := manager.Create(ctx, "user123", "", "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		tokens = append(tokens, token)
	}
	_, other, _ := manager.Create(ctx, "user456", "", "")

	count, err := manager.DestroyAllUserSessions(ctx, "user123")

	if err != nil || count != 3 {
		t.Fatalf("DestroyAllUserSessions() = %d, %v; want 3, nil", count, err)
	}
	for _, token := range tokens {
		if _, err := manager.Verify(ctx, token); err == nil {
			t.Error("a destroyed session still verifies")
		}
	}
	if _, err := manager.Verify(ctx, other); err != nil {
		t.Errorf("another user's session was destroyed: %v", err)
	}
	if _, err := manager.DestroyAllUserSessions(ctx, ""); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("empty user id error = %v", err)
	}
}
