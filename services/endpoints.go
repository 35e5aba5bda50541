package services

import (
	"fmt"
	"sort"

	"github.com/lborres/templatex/core"
)

// Operation ids bound by HTTP adapters.
const (
	OpGetState           = "getState"
	OpStreamEvents       = "streamEvents"
	OpNavigate           = "navigate"
	OpNavigateBack       = "navigateBack"
	OpSelectTab          = "selectTab"
	OpSearchMarket       = "searchMarket"
	OpSignUp             = "signUp"
	OpSignIn             = "signIn"
	OpSignOut            = "signOut"
	OpPasswordReset      = "sendPasswordReset"
	OpResendVerification = "resendVerification"
	OpCheckVerification  = "checkVerification"
	OpVerifyEmail        = "verifyEmail"
	OpResetPassword      = "resetPassword"
	OpResetPasswordPage  = "resetPasswordPage"
	OpCreateListing      = "createListing"
	OpDeleteListing      = "deleteListing"
	OpSaveProfile        = "saveProfile"
	OpChangePassword     = "changePassword"
	OpChangeEmail        = "changeEmail"
	OpDeleteAccount      = "deleteAccount"
	OpSetPreferences     = "setPreferences"
	OpMetrics            = "metrics"
)

// BaseEndpoints returns framework-agnostic endpoint specifications for the
// client API. Adapters provide the handlers.
func BaseEndpoints() []core.Endpoint {
	return []core.Endpoint{
		endpoint("GET", "/api/state", OpGetState, "Current view model of this client", false),
		endpoint("GET", "/api/events", OpStreamEvents, "View model updates as server-sent events", false),
		endpoint("POST", "/api/nav", OpNavigate, "Navigate to a screen", false),
		endpoint("POST", "/api/nav/back", OpNavigateBack, "Follow the back edge of the current screen", false),
		endpoint("POST", "/api/nav/tab", OpSelectTab, "Select a main screen tab", false),
		endpoint("PUT", "/api/market/search", OpSearchMarket, "Set the market title search", false),
		endpoint("POST", "/api/auth/sign-up", OpSignUp, "Register with email and password", true),
		endpoint("POST", "/api/auth/sign-in", OpSignIn, "Sign in with email and password", true),
		endpoint("POST", "/api/auth/sign-out", OpSignOut, "Sign out this client", true),
		endpoint("POST", "/api/auth/password-reset", OpPasswordReset, "Email a password reset link", true),
		endpoint("POST", "/api/auth/verification/resend", OpResendVerification, "Email a new verification link", true),
		endpoint("POST", "/api/auth/verification/check", OpCheckVerification, "Reload the session to pick up verification", true),
		endpoint("GET", "/api/auth/verify", OpVerifyEmail, "Confirm an email address from a mailed link", false),
		endpoint("POST", "/api/auth/reset", OpResetPassword, "Set a new password from a mailed link", false),
		endpoint("GET", ResetPasswordPath, OpResetPasswordPage, "Form behind the mailed password reset link", false),
		endpoint("POST", "/api/listings", OpCreateListing, "Publish a listing", true),
		endpoint("DELETE", "/api/listings/:id", OpDeleteListing, "Delete an owned listing", true),
		endpoint("PUT", "/api/profile", OpSaveProfile, "Save display name and photo", true),
		endpoint("POST", "/api/account/password", OpChangePassword, "Change password after reauthentication", true),
		endpoint("POST", "/api/account/email", OpChangeEmail, "Change email after reauthentication", true),
		endpoint("DELETE", "/api/account", OpDeleteAccount, "Delete the account after reauthentication", true),
		endpoint("PUT", "/api/preferences", OpSetPreferences, "Replace theme and locale", false),
		endpoint("GET", "/metrics", OpMetrics, "Prometheus metrics", false),
	}
}

func endpoint(method, path, op, desc string, command bool) core.Endpoint {
	return core.Endpoint{
		Path:   path,
		Method: method,
		Metadata: core.EndpointMetadata{
			OperationID: op,
			Description: desc,
			Command:     command,
		},
	}
}

// EndpointRegistry manages a collection of framework-agnostic endpoints
// and handles conflict detection for duplicate METHOD:PATH combinations.
type EndpointRegistry struct {
	// endpoints stores all registered endpoints keyed by "METHOD:PATH"
	endpoints map[string]*core.Endpoint
}

var _ core.EndpointProvider = (*EndpointRegistry)(nil)

// NewEndpointRegistry creates a new registry with all base endpoints
// pre-registered.
func NewEndpointRegistry() *EndpointRegistry {
	reg := &EndpointRegistry{
		endpoints: make(map[string]*core.Endpoint),
	}

	base := BaseEndpoints()
	for i := range base {
		_ = reg.register(&base[i])
	}

	return reg
}

func endpointKey(ep *core.Endpoint) string {
	return fmt.Sprintf("%s:%s", ep.Method, ep.Path)
}

// register adds a single endpoint to the registry with conflict detection.
func (r *EndpointRegistry) register(ep *core.Endpoint) error {
	key := endpointKey(ep)

	if _, exists := r.endpoints[key]; exists {
		return fmt.Errorf("endpoint conflict: %s %s already registered", ep.Method, ep.Path)
	}

	r.endpoints[key] = ep
	return nil
}

// RegisterPlugin registers additional endpoints. If any conflicts with an
// existing endpoint or with another in the same batch, none are registered.
func (r *EndpointRegistry) RegisterPlugin(endpoints []core.Endpoint) error {
	seen := make(map[string]bool)
	for i := range endpoints {
		key := endpointKey(&endpoints[i])

		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("plugin endpoint conflict: %s %s already registered", endpoints[i].Method, endpoints[i].Path)
		}
		if seen[key] {
			return fmt.Errorf("plugin contains duplicate endpoint: %s %s", endpoints[i].Method, endpoints[i].Path)
		}
		seen[key] = true
	}

	for i := range endpoints {
		ep := endpoints[i]
		r.endpoints[endpointKey(&ep)] = &ep
	}

	return nil
}

// Endpoints returns all registered endpoints ordered by path, then method.
func (r *EndpointRegistry) Endpoints() []*core.Endpoint {
	result := make([]*core.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		result = append(result, ep)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Path != result[j].Path {
			return result[i].Path < result[j].Path
		}
		return result[i].Method < result[j].Method
	})
	return result
}
