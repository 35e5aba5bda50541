// Package templatex is the client-side view and state core of the TemplateX
// marketplace: session gating, live projections, screen navigation, form
// writes and preferences, driven by one event loop per client.
package templatex

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/cache"
	"github.com/lborres/templatex/pkg/crypto"
	"github.com/lborres/templatex/pkg/metrics"
	"github.com/lborres/templatex/services"
)

// interfaces
type (
	IdentityProvider = core.IdentityProvider
	DocumentStore    = core.DocumentStore
	LocalStorage     = core.LocalStorage
	AuthStorage      = core.AuthStorage
	SessionCache     = core.SessionCache
	Mailer           = core.Mailer

	PasswordHandler = crypto.PasswordHandler
	Recorder        = metrics.Recorder
)

// structs
type (
	App           = services.App
	ViewModel     = services.ViewModel
	AuthService   = services.AuthService
	Identity      = services.Identity
	PolicyConfig  = core.PolicyConfig
	SessionConfig = core.SessionConfig
	CacheConfig   = cache.Config
)

type (
	Session     = core.Session
	UserProfile = core.UserProfile
	Listing     = core.Listing
	Review      = core.Review
	Preferences = core.Preferences
	Screen      = core.Screen
	Tab         = core.Tab
	Route       = core.Route
	ErrorKind   = core.ErrorKind
)

// Constructors & helpers (convenience re-exports)
var (
	NewArgon2           = crypto.NewArgon2
	DefaultPolicyConfig = core.DefaultPolicyConfig
	KindOf              = core.KindOf
)

var (
	ErrIdentityRequired      = core.ErrIdentityRequired
	ErrDocumentStoreRequired = core.ErrDocumentStoreRequired
	ErrLocalStorageRequired  = core.ErrLocalStorageRequired
	ErrAuthStorageRequired   = core.ErrAuthStorageRequired
)

var (
	ErrBusy        = core.ErrBusy
	ErrRateLimited = core.ErrRateLimited
	ErrNotFound    = core.ErrNotFound
	ErrNotSignedIn = core.ErrNotSignedIn
	ErrClosed      = core.ErrClosed
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheMaxSize = 500
)

type Config struct {
	Identity  IdentityProvider
	Documents DocumentStore
	Storage   LocalStorage

	// Optional config
	Policy  *PolicyConfig
	Metrics Recorder
	Logger  *slog.Logger
}

// New builds the App of one client. Call Start on its loop and Run to
// drive it.
func New(config Config) (*App, error) {
	if config.Identity == nil {
		return nil, ErrIdentityRequired
	}
	if config.Documents == nil {
		return nil, ErrDocumentStoreRequired
	}
	if config.Storage == nil {
		return nil, ErrLocalStorageRequired
	}

	// Set Defaults

	policy := DefaultPolicyConfig()
	if config.Policy != nil {
		policy = *config.Policy
	}

	return services.NewApp(services.AppConfig{
		Identity:  config.Identity,
		Documents: config.Documents,
		Storage:   config.Storage,
		Policy:    policy,
		Metrics:   config.Metrics,
		Logger:    config.Logger,
	})
}

type BackendConfig struct {
	Database AuthStorage
	Mailer   Mailer

	// Optional config
	CacheAdapter   SessionCache
	DisableCache   bool
	SessionConfig  *SessionConfig
	PasswordHasher PasswordHandler
	BaseURL        string
	ResetURL       string
	Logger         *slog.Logger
}

// NewBackend builds the account backend shared by every client's Identity.
// Session lookups go through an in-memory TTL cache unless another cache is
// given or caching is disabled.
func NewBackend(config BackendConfig) (*AuthService, error) {
	if config.Database == nil {
		return nil, ErrAuthStorageRequired
	}

	// Set Defaults

	cacheAdapter := config.CacheAdapter
	if cacheAdapter == nil && !config.DisableCache {
		cacheAdapter = cache.NewMemory[*core.SessionRecord](CacheConfig{
			TTL:     defaultCacheTTL,
			MaxSize: defaultCacheMaxSize,
		})
	}

	sessionConfig := core.DefaultSessionConfig()
	if config.SessionConfig != nil {
		sessionConfig = *config.SessionConfig
	}
	if sessionConfig.MaxAge <= 0 {
		return nil, fmt.Errorf("session max age must be positive, got %s", sessionConfig.MaxAge)
	}

	passwordHasher := config.PasswordHasher
	if passwordHasher == nil {
		passwordHasher = NewArgon2()
	}

	return services.NewAuthService(services.AuthConfig{
		Storage:        config.Database,
		Sessions:       services.NewSessionManager(sessionConfig, config.Database, cacheAdapter),
		Mailer:         config.Mailer,
		PasswordHasher: passwordHasher,
		BaseURL:        config.BaseURL,
		ResetURL:       config.ResetURL,
		Logger:         config.Logger,
	})
}

// NewIdentity returns the identity provider of one client over backend.
// The session token is kept in storage under services.KeyAuthToken.
func NewIdentity(backend *AuthService, storage LocalStorage, logger *slog.Logger) *Identity {
	return services.NewIdentity(services.IdentityConfig{
		Auth:    backend,
		Storage: storage,
		Logger:  logger,
	})
}
