package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/lborres/templatex/core"
)

// KeyAuthToken is where Identity keeps the session token in LocalStorage.
const KeyAuthToken = "auth.token"

type IdentityConfig struct {
	Auth    *AuthService
	Storage core.LocalStorage

	// Optional config
	IPAddress string
	UserAgent string
	Logger    *slog.Logger
}

// Identity is one client's identity provider over AuthService. The token is
// persisted so a restarted client comes back signed in.
type Identity struct {
	auth      *AuthService
	storage   core.LocalStorage
	ipAddress string
	userAgent string
	logger    *slog.Logger

	mu        sync.Mutex
	token     string
	session   *core.Session
	listeners map[int]core.SessionListener
	nextID    int

	// emitMu orders deliveries so a listener never sees an older session
	// after a newer one.
	emitMu      sync.Mutex
	restoreOnce sync.Once
}

var _ core.IdentityProvider = (*Identity)(nil)

func NewIdentity(cfg IdentityConfig) *Identity {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Identity{
		auth:      cfg.Auth,
		storage:   cfg.Storage,
		ipAddress: cfg.IPAddress,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
		listeners: make(map[int]core.SessionListener),
	}
}

// OnSessionChange delivers the current session once the stored token has
// been checked, then every change.
func (i *Identity) OnSessionChange(listener core.SessionListener) core.Unsubscribe {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.mu.Unlock()

	go func() {
		i.restoreOnce.Do(func() { i.restore(context.Background()) })

		i.emitMu.Lock()
		defer i.emitMu.Unlock()
		i.mu.Lock()
		i.listeners[id] = listener
		current := cloneSession(i.session)
		i.mu.Unlock()
		listener(current)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.emitMu.Lock()
			defer i.emitMu.Unlock()
			i.mu.Lock()
			delete(i.listeners, id)
			i.mu.Unlock()
		})
	}
}

func (i *Identity) SignUp(ctx context.Context, email, password string) (*core.Session, error) {
	name, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	res, err := i.auth.SignUp(ctx, core.SignUpInput{Email: email, Password: password, Name: name}, i.ipAddress, i.userAgent)
	if err != nil {
		return nil, err
	}
	s := res.User.Session()
	i.set(res.Token, s)
	return cloneSession(s), nil
}

func (i *Identity) SignIn(ctx context.Context, email, password string) (*core.Session, error) {
	res, err := i.auth.SignIn(ctx, core.SignInInput{Email: email, Password: password}, i.ipAddress, i.userAgent)
	if err != nil {
		return nil, err
	}
	s := res.User.Session()
	i.set(res.Token, s)
	return cloneSession(s), nil
}

func (i *Identity) SignOut(ctx context.Context) error {
	token, _ := i.current()
	if token != "" {
		err := i.auth.SignOut(ctx, token)
		if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			return err
		}
	}
	i.set("", nil)
	return nil
}

func (i *Identity) SendPasswordReset(ctx context.Context, email string) error {
	return i.auth.SendPasswordReset(ctx, email)
}

func (i *Identity) SendVerificationEmail(ctx context.Context) error {
	_, s := i.current()
	if s == nil {
		return core.ErrNotSignedIn
	}
	return i.auth.SendVerification(ctx, s.ID)
}

func (i *Identity) UpdateProfile(ctx context.Context, update core.ProfileUpdate) error {
	token, s := i.current()
	if s == nil {
		return core.ErrNotSignedIn
	}
	user, err := i.auth.UpdateProfile(ctx, s.ID, update)
	if err != nil {
		return err
	}
	i.set(token, user.Session())
	return nil
}

func (i *Identity) UpdatePassword(ctx context.Context, newPassword string) error {
	_, s := i.current()
	if s == nil {
		return core.ErrNotSignedIn
	}
	return i.auth.UpdatePassword(ctx, s.ID, newPassword)
}

func (i *Identity) UpdateEmail(ctx context.Context, newEmail string) error {
	token, s := i.current()
	if s == nil {
		return core.ErrNotSignedIn
	}
	user, err := i.auth.UpdateEmail(ctx, s.ID, newEmail)
	if err != nil {
		return err
	}
	i.set(token, user.Session())
	return nil
}

func (i *Identity) Reauthenticate(ctx context.Context, password string) error {
	_, s := i.current()
	if s == nil {
		return core.ErrNotSignedIn
	}
	return i.auth.Reauthenticate(ctx, s.ID, password)
}

func (i *Identity) DeleteAccount(ctx context.Context) error {
	_, s := i.current()
	if s == nil {
		return core.ErrNotSignedIn
	}
	if err := i.auth.DeleteUser(ctx, s.ID); err != nil {
		return err
	}
	i.set("", nil)
	return nil
}

// ReloadSession refreshes the session from the backend without notifying
// listeners; the caller applies the result.
func (i *Identity) ReloadSession(ctx context.Context) (*core.Session, error) {
	token, s := i.current()
	if s == nil {
		return nil, core.ErrNotSignedIn
	}
	data, err := i.auth.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}

	fresh := data.User.Session()
	i.mu.Lock()
	if i.token == token {
		i.session = fresh
	}
	i.mu.Unlock()
	return cloneSession(fresh), nil
}

func (i *Identity) restore(ctx context.Context) {
	token, ok, err := i.storage.GetItem(KeyAuthToken)
	if err != nil {
		i.logger.Warn("failed to read stored session token", slog.Any("error", err))
		return
	}
	if !ok || token == "" {
		return
	}

	data, err := i.auth.GetSession(ctx, token)
	if err != nil {
		i.logger.Info("stored session rejected", slog.Any("error", err))
		i.persist("")
		return
	}

	i.mu.Lock()
	i.token = token
	i.session = data.User.Session()
	i.mu.Unlock()
}

func (i *Identity) current() (string, *core.Session) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.token, cloneSession(i.session)
}

// set replaces the session wholesale and notifies listeners.
func (i *Identity) set(token string, s *core.Session) {
	i.emitMu.Lock()
	defer i.emitMu.Unlock()

	i.mu.Lock()
	changedToken := i.token != token
	i.token = token
	i.session = cloneSession(s)
	listeners := make([]core.SessionListener, 0, len(i.listeners))
	for _, l := range i.listeners {
		listeners = append(listeners, l)
	}
	i.mu.Unlock()

	if changedToken {
		i.persist(token)
	}
	for _, l := range listeners {
		l(cloneSession(s))
	}
}

func (i *Identity) persist(token string) {
	if err := i.storage.SetItem(KeyAuthToken, token); err != nil {
		i.logger.Warn("failed to persist session token", slog.Any("error", err))
	}
}
