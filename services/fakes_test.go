package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lborres/templatex/adapters/memory"
	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/crypto"
)

// FakeIdentity is a test-only core.IdentityProvider. It emits synchronously
// and counts every call so tests can assert that no network call happened.
type FakeIdentity struct {
	mu        sync.Mutex
	session   *core.Session
	passwords map[string]string
	listeners map[int]core.SessionListener
	nextID    int
	calls     map[string]int

	signUpErr   error
	reauthErr   error
	updateErr   error
	unsubscribe int

	lastProfileUpdate core.ProfileUpdate
}

var _ core.IdentityProvider = (*FakeIdentity)(nil)

func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{
		passwords: make(map[string]string),
		listeners: make(map[int]core.SessionListener),
		calls:     make(map[string]int),
	}
}

func (f *FakeIdentity) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeIdentity) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for op, c := range f.calls {
		if op != "on_session_change" {
			n += c
		}
	}
	return n
}

func (f *FakeIdentity) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

// Emit replaces the session and notifies every listener.
func (f *FakeIdentity) Emit(s *core.Session) {
	f.mu.Lock()
	f.session = cloneSession(s)
	ls := make([]core.SessionListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(cloneSession(s))
	}
}

func (f *FakeIdentity) OnSessionChange(listener core.SessionListener) core.Unsubscribe {
	f.count("on_session_change")
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	current := cloneSession(f.session)
	f.mu.Unlock()

	listener(current)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribe++
		delete(f.listeners, id)
	}
}

func (f *FakeIdentity) SignUp(ctx context.Context, email, password string) (*core.Session, error) {
	f.count("sign_up")
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	f.mu.Lock()
	if _, exists := f.passwords[email]; exists {
		f.mu.Unlock()
		return nil, core.ErrUserExists
	}
	f.passwords[email] = password
	f.mu.Unlock()

	s := &core.Session{ID: "uid-" + email, Email: email}
	f.Emit(s)
	return s, nil
}

func (f *FakeIdentity) SignIn(ctx context.Context, email, password string) (*core.Session, error) {
	f.count("sign_in")
	f.mu.Lock()
	stored, ok := f.passwords[email]
	f.mu.Unlock()
	if !ok || stored != password {
		return nil, core.ErrInvalidCredentials
	}
	s := &core.Session{ID: "uid-" + email, Email: email, EmailVerified: true}
	f.Emit(s)
	return s, nil
}

func (f *FakeIdentity) SignOut(ctx context.Context) error {
	f.count("sign_out")
	f.Emit(nil)
	return nil
}

func (f *FakeIdentity) SendPasswordReset(ctx context.Context, email string) error {
	f.count("password_reset")
	return nil
}

func (f *FakeIdentity) SendVerificationEmail(ctx context.Context) error {
	f.count("send_verification")
	return nil
}

func (f *FakeIdentity) UpdateProfile(ctx context.Context, update core.ProfileUpdate) error {
	f.count("update_profile")
	f.mu.Lock()
	f.lastProfileUpdate = update
	f.mu.Unlock()
	return f.updateErr
}

func (f *FakeIdentity) UpdatePassword(ctx context.Context, newPassword string) error {
	f.count("update_password")
	return f.updateErr
}

func (f *FakeIdentity) UpdateEmail(ctx context.Context, newEmail string) error {
	f.count("update_email")
	return f.updateErr
}

func (f *FakeIdentity) Reauthenticate(ctx context.Context, password string) error {
	f.count("reauthenticate")
	return f.reauthErr
}

func (f *FakeIdentity) DeleteAccount(ctx context.Context) error {
	f.count("delete_account")
	f.Emit(nil)
	return nil
}

func (f *FakeIdentity) ReloadSession(ctx context.Context) (*core.Session, error) {
	f.count("reload_session")
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneSession(f.session), nil
}

// harness is an App over the fake identity and the memory adapters.
type harness struct {
	t        *testing.T
	identity *FakeIdentity
	docs     *memory.DocumentStore
	storage  *memory.LocalStorage
	app      *App
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		identity: NewFakeIdentity(),
		docs:     memory.NewDocumentStore(),
		storage:  memory.NewLocalStorage(),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.start()
	return h
}

func (h *harness) start() {
	h.t.Helper()
	app, err := NewApp(AppConfig{
		Identity:  h.identity,
		Documents: h.docs,
		Storage:   h.storage,
		Now:       func() time.Time { return h.now },
	})
	if err != nil {
		h.t.Fatalf("NewApp() error = %v", err)
	}
	h.app = app
	h.t.Cleanup(func() { app.Close() })
	app.Start()
	h.idle()
}

func (h *harness) idle() {
	h.app.Loop().RunUntilIdle()
}

// signIn emits a verified session and lands on main.
func (h *harness) signIn(uid string) *core.Session {
	h.t.Helper()
	s := &core.Session{ID: uid, Email: uid + "@example.com", EmailVerified: true, DisplayName: uid}
	h.identity.Emit(s)
	h.idle()
	if got := h.app.ViewModel().Navigation.Screen; got != core.ScreenMain {
		h.t.Fatalf("expected main after sign-in, got %s", got)
	}
	return s
}

func (h *harness) seedProfile(uid string, createdAt time.Time) {
	h.t.Helper()
	err := h.docs.SetDoc(context.Background(), core.CollectionUsers, uid, map[string]any{
		core.FieldDisplayName: uid,
		core.FieldEmail:       uid + "@example.com",
		core.FieldCreatedAt:   createdAt.Format(time.RFC3339Nano),
		core.FieldRating:      4.5,
		core.FieldReviewCount: 2,
	})
	if err != nil {
		h.t.Fatalf("seed profile: %v", err)
	}
}

func (h *harness) seedListing(id, title, sellerID string) {
	h.t.Helper()
	err := h.docs.SetDoc(context.Background(), core.CollectionProducts, id, map[string]any{
		core.FieldTitle:       title,
		core.FieldPrice:       "100",
		core.FieldDescription: fmt.Sprintf("%s for sale", title),
		core.FieldSellerID:    sellerID,
	})
	if err != nil {
		h.t.Fatalf("seed listing: %v", err)
	}
}

// newTestAuthService wires AuthService to memory storage with cheap hashing.
func newTestAuthService(t *testing.T) (*AuthService, *memory.AuthStorage, *memory.Outbox) {
	t.Helper()
	storage := memory.NewAuthStorage()
	outbox := memory.NewOutbox()
	sm := NewSessionManager(core.SessionConfig{MaxAge: time.Hour}, storage, nil)
	svc, err := NewAuthService(AuthConfig{
		Storage:        storage,
		Sessions:       sm,
		Mailer:         outbox,
		PasswordHasher: fastHasher(),
		BaseURL:        "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("NewAuthService() error = %v", err)
	}
	return svc, storage, outbox
}

func fastHasher() *crypto.Argon2 {
	return &crypto.Argon2{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}
