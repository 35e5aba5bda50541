package core

import (
	"context"
	"time"
)

// Ports define interfaces for external dependencies

// ============================================
// IDENTITY PROVIDER
// ============================================

// SessionListener receives the current session, nil when signed out.
type SessionListener func(*Session)

// Unsubscribe releases a subscription.
type Unsubscribe func()

// IdentityProvider is the client's view of the account system. Operations
// that act on "the session" use the provider's current session.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	SendVerificationEmail(ctx context.Context) error
	UpdateProfile(ctx context.Context, update ProfileUpdate) error
	UpdatePassword(ctx context.Context, newPassword string) error
	UpdateEmail(ctx context.Context, newEmail string) error
	Reauthenticate(ctx context.Context, password string) error
	DeleteAccount(ctx context.Context) error
	ReloadSession(ctx context.Context) (*Session, error)

	// OnSessionChange fires immediately with the current value, then on
	// every change.
	OnSessionChange(listener SessionListener) Unsubscribe
}

type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// ============================================
// DOCUMENT STORE
// ============================================

// Document is one stored record. Data holds JSON-compatible values.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Filter is an equality match on a top-level field.
type Filter struct {
	Field string
	Value any
}

// DocListener receives a full snapshot; doc is nil when absent.
type DocListener func(doc *Document, err error)

// QueryListener receives every matching document on each change.
type QueryListener func(docs []Document, err error)

type DocumentStore interface {
	GetOnce(ctx context.Context, collection, id string) (*Document, error)
	SetDoc(ctx context.Context, collection, id string, data map[string]any) error
	UpdateDoc(ctx context.Context, collection, id string, partial map[string]any) error
	DeleteDoc(ctx context.Context, collection, id string) error
	AddDoc(ctx context.Context, collection string, data map[string]any) (string, error)
	SubscribeDoc(collection, id string, listener DocListener) (Unsubscribe, error)
	SubscribeQuery(collection string, filters []Filter, listener QueryListener) (Unsubscribe, error)
}

// ============================================
// LOCAL STORAGE
// ============================================

// LocalStorage is durable per-client key/value storage.
type LocalStorage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
}

// ============================================
// MAILER
// ============================================

type Message struct {
	To      string
	Subject string
	Body    string
	Link    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ============================================
// ACCOUNT STORAGE PORTS
// ============================================

// SessionStorage defines session-related database operations
type SessionStorage interface {
	CreateSession(ctx context.Context, session *SessionRecord) error
	GetSessionByHash(ctx context.Context, tokenHash string) (*SessionRecord, error)
	GetSessionByID(ctx context.Context, id string) (*SessionRecord, error)
	DeleteSessionByID(ctx context.Context, id string) error
	DeleteSessionByHash(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
	DeleteExpiredSessions(ctx context.Context) (int, error)
}

// UserStorage defines user-related database operations
type UserStorage interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
}

// AccountStorage defines account-related database operations
type AccountStorage interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByUserAndProvider(ctx context.Context, userID, providerID string) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
}

// TokenStorage holds single-use verification and reset tokens.
type TokenStorage interface {
	CreateToken(ctx context.Context, t *Token) error
	// ConsumeToken deletes and returns the token in one step.
	ConsumeToken(ctx context.Context, tokenHash string, purpose TokenPurpose) (*Token, error)
}

type AuthStorage interface {
	UserStorage
	AccountStorage
	SessionStorage
	TokenStorage
}

// ============================================
// CACHE PORT
// ============================================

// SessionCache caches session lookups by token hash.
type SessionCache interface {
	Get(tokenHash string) (*SessionRecord, error)
	Set(tokenHash string, session *SessionRecord) error
	Delete(tokenHash string) error
	Clear() error
}

// Clock is overridden in tests.
type Clock func() time.Time
