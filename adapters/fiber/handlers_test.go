package fiber

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/templatex/adapters/memory"
	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/crypto"
	"github.com/lborres/templatex/pkg/metrics"
	"github.com/lborres/templatex/services"
)

type server struct {
	app     *fiber.App
	adapter *Adapter
	clients *Clients
	docs    *memory.DocumentStore
	outbox  *memory.Outbox
	now     time.Time
}

func newServer(t *testing.T) *server {
	t.Helper()

	storage := memory.NewAuthStorage()
	outbox := memory.NewOutbox()
	auth, err := services.NewAuthService(services.AuthConfig{
		Storage:        storage,
		Mailer:         outbox,
		PasswordHasher: &crypto.Argon2{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		BaseURL:        "http://localhost:8080",
	})
	require.NoError(t, err)

	s := &server{
		docs:   memory.NewDocumentStore(),
		outbox: outbox,
		now:    time.Now(),
	}
	registry := prometheus.NewRegistry()
	s.clients = NewClients(ClientsConfig{
		Auth:      auth,
		Documents: s.docs,
		NewStorage: func(string) (core.LocalStorage, error) {
			return memory.NewLocalStorage(), nil
		},
		Metrics: metrics.NewCollector(registry),
		Now:     func() time.Time { return s.now },
	})
	t.Cleanup(s.clients.Close)

	s.adapter = New(Config{Clients: s.clients, Auth: auth, Gatherer: registry})
	s.app = fiber.New()
	require.NoError(t, s.adapter.RegisterRoutes(s.app, services.NewEndpointRegistry()))
	return s
}

// do sends a JSON request carrying cookie and returns the response and the
// tx_client cookie value, new or unchanged.
func (s *server) do(t *testing.T, method, path, cookie string, body any) (*http.Response, string) {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: ClientCookie, Value: cookie})
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	for _, c := range resp.Cookies() {
		if c.Name == ClientCookie {
			cookie = c.Value
		}
	}
	return resp, cookie
}

type stateBody struct {
	Route      core.Route           `json:"route"`
	Search     string               `json:"search"`
	Navigation core.NavigationState `json:"navigation"`
	Tab        core.Tab             `json:"tab"`
	Market     struct {
		Status services.ViewStatus `json:"status"`
		Data   []core.Listing      `json:"data"`
	} `json:"market"`
	Forms map[services.FormID]services.FormState `json:"forms"`
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// waitForState polls the state endpoint until cond holds.
func (s *server) waitForState(t *testing.T, cookie string, cond func(stateBody) bool) stateBody {
	t.Helper()
	var last stateBody
	for i := 0; i < 200; i++ {
		resp, _ := s.do(t, http.MethodGet, "/api/state", cookie, nil)
		last = decode[stateBody](t, resp)
		if cond(last) {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never reached the expected condition, last = %+v", last)
	return last
}

// Requirement: every error kind maps to a stable HTTP status
func TestMapErrorToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", &core.ValidationError{Field: "password", Err: core.ErrPasswordTooShort}, http.StatusBadRequest},
		{"bad credentials", &core.AuthError{Op: "sign_in", Err: core.ErrInvalidCredentials}, http.StatusUnauthorized},
		{"wrong current password", &core.AuthError{Op: "reauthenticate", Err: core.ErrInvalidCurrentPassword}, http.StatusForbidden},
		{"not owner", &core.ValidationError{Field: "listingId", Err: core.ErrNotOwner}, http.StatusForbidden},
		{"busy", core.ErrBusy, http.StatusConflict},
		{"rate limited", core.ErrRateLimited, http.StatusTooManyRequests},
		{"not found", fmt.Errorf("failed to load: %w", core.ErrNotFound), http.StatusNotFound},
		{"write", &core.WriteError{Op: "add_listing", Err: errors.New("offline")}, http.StatusBadGateway},
		{"duplicate user", core.ErrUserExists, http.StatusConflict},
		{"used token", core.ErrTokenNotFound, http.StatusGone},
		{"bad transition", fmt.Errorf("%w: auth -> main", core.ErrInvalidTransition), http.StatusConflict},
		{"closed", core.ErrClosed, http.StatusServiceUnavailable},
		{"client limit", ErrTooManyClients, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Act
			got := mapErrorToStatus(test.err)

			// Assert
			if got != test.want {
				t.Errorf("mapErrorToStatus(%v) = %d, want %d", test.err, got, test.want)
			}
		})
	}
}

type fixedEndpoints []*core.Endpoint

func (f fixedEndpoints) Endpoints() []*core.Endpoint { return f }

// Requirement: every base endpoint has a handler and unknown operations are rejected
func TestRegisterRoutes(t *testing.T) {
	s := newServer(t)

	err := s.adapter.RegisterRoutes(fiber.New(), fixedEndpoints{{
		Method:   http.MethodGet,
		Path:     "/api/unknown",
		Metadata: core.EndpointMetadata{OperationID: "unknown"},
	}})
	assert.Error(t, err)
}

func TestClientCookie(t *testing.T) {
	s := newServer(t)

	resp, cookie := s.do(t, http.MethodGet, "/api/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, cookie)

	resp, again := s.do(t, http.MethodGet, "/api/state", cookie, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, cookie, again)
	assert.Equal(t, 1, s.clients.Len())

	_, other := s.do(t, http.MethodGet, "/api/state", "not-a-uuid", nil)
	assert.NotEqual(t, cookie, other)
	assert.Equal(t, 2, s.clients.Len())
}

// Requirement: a password under six characters is rejected before any backend call
func TestSignUp_ValidationIsSynchronous(t *testing.T) {
	s := newServer(t)
	_, cookie := s.do(t, http.MethodGet, "/api/state", "", nil)

	resp, _ := s.do(t, http.MethodPost, "/api/auth/sign-up", cookie, services.Register{
		Email: "a@b.com", Password: "12345", Confirm: "12345",
	})

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[core.ErrorResponse](t, resp)
	assert.Equal(t, core.KindValidation, body.Kind)
	assert.Equal(t, "password", body.Field)
	assert.Empty(t, s.outbox.Messages())
}

// Requirement: registration, email verification and publishing work end to end over HTTP
func TestRegistrationFlow(t *testing.T) {
	s := newServer(t)
	_, cookie := s.do(t, http.MethodGet, "/api/state", "", nil)
	s.waitForState(t, cookie, func(st stateBody) bool { return st.Route == core.RouteAuth })

	// Register
	resp, _ := s.do(t, http.MethodPost, "/api/auth/sign-up", cookie, services.Register{
		Email: "a@b.com", Password: "secret1", Confirm: "secret1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.waitForState(t, cookie, func(st stateBody) bool { return st.Route == core.RouteVerify })

	// Follow the mailed link
	token, ok := s.outbox.LastToken("a@b.com")
	require.True(t, ok)
	resp, _ = s.do(t, http.MethodGet, "/api/auth/verify?token="+token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/auth/verify?token="+token, "", nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode, "verification links are single use")

	resp, _ = s.do(t, http.MethodPost, "/api/auth/verification/check", cookie, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.waitForState(t, cookie, func(st stateBody) bool { return st.Route == core.RouteMain })

	// Publish and search
	resp, _ = s.do(t, http.MethodPost, "/api/listings", cookie, services.CreateListing{
		Title: "iPhone 12", Price: "300", Description: "works fine",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, services.FormSell, decode[acceptedResponse](t, resp).Form)

	resp, _ = s.do(t, http.MethodPut, "/api/market/search", cookie, searchRequest{Query: "phone"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := s.waitForState(t, cookie, func(st stateBody) bool {
		return st.Market.Status == services.ViewReady && len(st.Market.Data) == 1
	})
	assert.Equal(t, "iPhone 12", st.Market.Data[0].Title)
	assert.Equal(t, "phone", st.Search)
}

func TestNavigation(t *testing.T) {
	s := newServer(t)
	_, cookie := s.do(t, http.MethodGet, "/api/state", "", nil)
	s.waitForState(t, cookie, func(st stateBody) bool { return st.Route == core.RouteAuth })

	resp, _ := s.do(t, http.MethodPost, "/api/nav", cookie, navigateRequest{Screen: core.ScreenSecurity})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/nav/back", cookie, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/nav/tab", cookie, tabRequest{Tab: "garage"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetPreferences(t *testing.T) {
	s := newServer(t)
	_, cookie := s.do(t, http.MethodGet, "/api/state", "", nil)

	resp, _ := s.do(t, http.MethodPut, "/api/preferences", cookie, core.Preferences{DarkMode: true, Locale: "FR"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "locale", decode[core.ErrorResponse](t, resp).Field)

	resp, _ = s.do(t, http.MethodPut, "/api/preferences", cookie, core.Preferences{DarkMode: true, Locale: core.LocaleKZ})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Preferences core.Preferences `json:"preferences"`
	}](t, resp)
	assert.Equal(t, core.Preferences{DarkMode: true, Locale: core.LocaleKZ}, body.Preferences)
}

func TestResetPassword_RequiresToken(t *testing.T) {
	s := newServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/auth/reset", "", resetPasswordRequest{Password: "secret2"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "token", decode[core.ErrorResponse](t, resp).Field)

	resp, _ = s.do(t, http.MethodPost, "/api/auth/reset", "", resetPasswordRequest{Token: "nope", Password: "secret2"})
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	_, cookie := s.do(t, http.MethodGet, "/api/state", "", nil)
	s.waitForState(t, cookie, func(st stateBody) bool { return st.Route == core.RouteAuth })

	resp, _ := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "templatex_")
}

// Requirement: idle clients are stopped, clients with an open stream are kept
func TestClients_Sweep(t *testing.T) {
	s := newServer(t)
	_, idle := s.do(t, http.MethodGet, "/api/state", "", nil)
	_, watched := s.do(t, http.MethodGet, "/api/state", "", nil)
	require.NotEqual(t, idle, watched)

	cl, err := s.clients.Get(watched, "", "")
	require.NoError(t, err)
	s.clients.attach(cl)

	s.now = s.now.Add(DefaultIdleTimeout + time.Minute)
	assert.Equal(t, 1, s.clients.Sweep())
	assert.Equal(t, 1, s.clients.Len())

	s.clients.detach(cl)
	s.now = s.now.Add(DefaultIdleTimeout + time.Minute)
	assert.Equal(t, 1, s.clients.Sweep())
	assert.Equal(t, 0, s.clients.Len())
}

// Requirement: the event stream sends the current state, then every change
func TestStream(t *testing.T) {
	s := newServer(t)
	_, cookie := s.do(t, http.MethodGet, "/api/state", "", nil)
	cl, err := s.clients.Get(cookie, "", "")
	require.NoError(t, err)

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.adapter.stream(ctx, cl, bufio.NewWriter(pw)) }()

	events := bufio.NewScanner(pr)
	next := func() stateBody {
		t.Helper()
		for events.Scan() {
			line := events.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var st stateBody
				require.NoError(t, json.Unmarshal([]byte(data), &st))
				return st
			}
		}
		t.Fatalf("stream ended: %v", events.Err())
		return stateBody{}
	}

	next()
	require.NoError(t, cl.do(ctx, func(app *services.App) error {
		app.SetSearch("lamp")
		return nil
	}))

	var st stateBody
	for i := 0; i < 10 && st.Search != "lamp"; i++ {
		st = next()
	}
	assert.Equal(t, "lamp", st.Search)

	cancel()
	_ = pr.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

// Requirement: the mailed reset link opens a form that posts the token back
func TestResetPasswordForm(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	_, err := s.adapter.auth.SignUp(ctx, core.SignUpInput{Email: "a@b.com", Password: "secret1"}, "", "")
	require.NoError(t, err)
	require.NoError(t, s.adapter.auth.SendPasswordReset(ctx, "a@b.com"))
	token, ok := s.outbox.LastToken("a@b.com")
	require.True(t, ok)

	msgs := s.outbox.Messages()
	link, err := url.Parse(msgs[len(msgs)-1].Link)
	require.NoError(t, err)
	assert.Equal(t, services.ResetPasswordPath, link.Path)

	resp, _ := s.do(t, http.MethodGet, link.RequestURI(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), `action="/api/auth/reset"`)
	assert.Contains(t, string(page), `value="`+token+`"`)

	form := url.Values{"token": {token}, "password": {"newpass1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/reset", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, services.ResetPasswordPath, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// Requirement: at the client cap the least recently seen idle client makes
// room, and clients with open streams are never evicted
func TestClients_Limit(t *testing.T) {
	s := newServer(t)
	s.clients.cfg.MaxClients = 2
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()}

	first, err := s.clients.Get(ids[0], "", "")
	require.NoError(t, err)
	s.now = s.now.Add(time.Second)
	second, err := s.clients.Get(ids[1], "", "")
	require.NoError(t, err)
	s.clients.attach(second)

	s.now = s.now.Add(time.Second)
	third, err := s.clients.Get(ids[2], "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, s.clients.Len())
	select {
	case <-first.done:
	default:
		t.Fatal("evicted client is still running")
	}

	s.clients.attach(third)
	_, err = s.clients.Get(ids[3], "", "")
	assert.ErrorIs(t, err, ErrTooManyClients)
	assert.Equal(t, 2, s.clients.Len())

	s.clients.detach(second)
	s.clients.detach(third)
}
