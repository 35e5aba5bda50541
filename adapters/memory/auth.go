package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lborres/templatex/core"
)

// AuthStorage implements core.AuthStorage over maps.
type AuthStorage struct {
	mu       sync.RWMutex
	users    map[string]*core.User
	accounts map[string]*core.Account // keyed by userID + ":" + provider
	sessions map[string]*core.SessionRecord
	tokens   map[string]*core.Token

	sessionErr error
	now        core.Clock
}

var _ core.AuthStorage = (*AuthStorage)(nil)

func NewAuthStorage() *AuthStorage {
	return &AuthStorage{
		users:    make(map[string]*core.User),
		accounts: make(map[string]*core.Account),
		sessions: make(map[string]*core.SessionRecord),
		tokens:   make(map[string]*core.Token),
		now:      time.Now,
	}
}

// SetClock replaces the clock DeleteExpiredSessions compares against.
func (f *AuthStorage) SetClock(now core.Clock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// FailSessions makes CreateSession return err until called with nil.
func (f *AuthStorage) FailSessions(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionErr = err
}

// UserStorage implementation

func (f *AuthStorage) CreateUser(ctx context.Context, u *core.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[u.ID]; exists {
		return core.ErrUserExists
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return core.ErrUserExists
		}
	}
	c := *u
	f.users[u.ID] = &c
	return nil
}

func (f *AuthStorage) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if u, ok := f.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, core.ErrUserNotFound
}

func (f *AuthStorage) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (f *AuthStorage) UpdateUser(ctx context.Context, u *core.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return core.ErrUserNotFound
	}
	c := *u
	f.users[u.ID] = &c
	return nil
}

// DeleteUser cascades to the user's accounts, sessions and tokens.
func (f *AuthStorage) DeleteUser(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return core.ErrUserNotFound
	}
	delete(f.users, id)
	for k, a := range f.accounts {
		if a.UserID == id {
			delete(f.accounts, k)
		}
	}
	for k, s := range f.sessions {
		if s.UserID == id {
			delete(f.sessions, k)
		}
	}
	for k, t := range f.tokens {
		if t.UserID == id {
			delete(f.tokens, k)
		}
	}
	return nil
}

// AccountStorage implementation

func (f *AuthStorage) CreateAccount(ctx context.Context, a *core.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *a
	f.accounts[a.UserID+":"+a.ProviderID] = &c
	return nil
}

func (f *AuthStorage) GetAccountByUserAndProvider(ctx context.Context, userID, providerID string) (*core.Account, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if a, ok := f.accounts[userID+":"+providerID]; ok {
		c := *a
		return &c, nil
	}
	return nil, core.ErrUserNotFound
}

func (f *AuthStorage) UpdateAccount(ctx context.Context, a *core.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := a.UserID + ":" + a.ProviderID
	if _, ok := f.accounts[key]; !ok {
		return core.ErrUserNotFound
	}
	c := *a
	f.accounts[key] = &c
	return nil
}

// SessionStorage implementation

func (f *AuthStorage) CreateSession(ctx context.Context, s *core.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return f.sessionErr
	}
	c := *s
	f.sessions[s.TokenHash] = &c
	return nil
}

func (f *AuthStorage) GetSessionByHash(ctx context.Context, tokenHash string) (*core.SessionRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[tokenHash]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	c := *s
	return &c, nil
}

func (f *AuthStorage) GetSessionByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sessions {
		if s.ID == id {
			c := *s
			return &c, nil
		}
	}
	return nil, core.ErrSessionNotFound
}

func (f *AuthStorage) DeleteSessionByID(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, s := range f.sessions {
		if s.ID == id {
			delete(f.sessions, k)
			return nil
		}
	}
	return core.ErrSessionNotFound
}

func (f *AuthStorage) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[tokenHash]; !ok {
		return core.ErrSessionNotFound
	}
	delete(f.sessions, tokenHash)
	return nil
}

func (f *AuthStorage) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for k, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, k)
			count++
		}
	}
	return count, nil
}

func (f *AuthStorage) DeleteExpiredSessions(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	count := 0
	for k, s := range f.sessions {
		if now.After(s.ExpiresAt) {
			delete(f.sessions, k)
			count++
		}
	}
	return count, nil
}

// TokenStorage implementation

func (f *AuthStorage) CreateToken(ctx context.Context, t *core.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *t
	f.tokens[t.TokenHash] = &c
	return nil
}

func (f *AuthStorage) ConsumeToken(ctx context.Context, tokenHash string, purpose core.TokenPurpose) (*core.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenHash]
	if !ok || t.Purpose != purpose {
		return nil, core.ErrTokenNotFound
	}
	delete(f.tokens, tokenHash)
	return t, nil
}
