// Package fiber serves the view core over HTTP. Each browser client gets
// its own App, identified by the tx_client cookie; commands are JSON
// endpoints and the view model is streamed as server-sent events.
package fiber

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/metrics"
	"github.com/lborres/templatex/services"
)

const (
	ClientCookie     = "tx_client"
	DefaultHeartbeat = 15 * time.Second
)

type Config struct {
	Clients *Clients
	Auth    *services.AuthService

	// Optional config
	Gatherer     prometheus.Gatherer
	Heartbeat    time.Duration
	CookieMaxAge time.Duration
	SecureCookie bool
	Logger       *slog.Logger
}

type Adapter struct {
	clients      *Clients
	auth         *services.AuthService
	gatherer     prometheus.Gatherer
	heartbeat    time.Duration
	cookieMaxAge time.Duration
	secureCookie bool
	logger       *slog.Logger
}

func New(cfg Config) *Adapter {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = 365 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		clients:      cfg.Clients,
		auth:         cfg.Auth,
		gatherer:     cfg.Gatherer,
		heartbeat:    cfg.Heartbeat,
		cookieMaxAge: cfg.CookieMaxAge,
		secureCookie: cfg.SecureCookie,
		logger:       cfg.Logger,
	}
}

// clientless operations do not need a tx_client cookie.
var clientless = map[string]bool{
	services.OpVerifyEmail:       true,
	services.OpResetPassword:     true,
	services.OpResetPasswordPage: true,
	services.OpMetrics:           true,
}

func (a *Adapter) handlers() map[string]fiber.Handler {
	return map[string]fiber.Handler{
		services.OpGetState:           a.getState,
		services.OpStreamEvents:       a.streamEvents,
		services.OpNavigate:           a.navigate,
		services.OpNavigateBack:       a.navigateBack,
		services.OpSelectTab:          a.selectTab,
		services.OpSearchMarket:       a.searchMarket,
		services.OpSignUp:             submitBody[services.Register](a),
		services.OpSignIn:             submitBody[services.SignIn](a),
		services.OpSignOut:            a.submitCommand(services.SignOut{}),
		services.OpPasswordReset:      submitBody[services.SendPasswordReset](a),
		services.OpResendVerification: a.submitCommand(services.ResendVerification{}),
		services.OpCheckVerification:  a.submitCommand(services.CheckVerification{}),
		services.OpVerifyEmail:        a.verifyEmail,
		services.OpResetPassword:      a.resetPassword,
		services.OpResetPasswordPage:  a.resetPasswordForm,
		services.OpCreateListing:      submitBody[services.CreateListing](a),
		services.OpDeleteListing:      a.deleteListing,
		services.OpSaveProfile:        submitBody[services.SaveProfile](a),
		services.OpChangePassword:     submitBody[services.ChangePassword](a),
		services.OpChangeEmail:        submitBody[services.ChangeEmail](a),
		services.OpDeleteAccount:      submitBody[services.DeleteAccount](a),
		services.OpSetPreferences:     a.setPreferences,
		services.OpMetrics:            adaptor.HTTPHandler(metrics.Handler(a.gatherer)),
	}
}

// RegisterRoutes binds every endpoint of provider to its handler by
// operation id. An endpoint without a handler is an error.
func (a *Adapter) RegisterRoutes(app *fiber.App, provider core.EndpointProvider) error {
	handlers := a.handlers()

	for _, ep := range provider.Endpoints() {
		handler, ok := handlers[ep.Metadata.OperationID]
		if !ok {
			return fmt.Errorf("no handler for %s %s (%s)", ep.Method, ep.Path, ep.Metadata.OperationID)
		}

		if clientless[ep.Metadata.OperationID] {
			app.Add([]string{ep.Method}, ep.Path, handler)
			continue
		}
		app.Add([]string{ep.Method}, ep.Path, a.withClient, handler)
	}

	return nil
}

// Setup installs the global middleware and the routes of the default
// endpoint registry.
func (a *Adapter) Setup(app *fiber.App) error {
	UseMiddleware(app)
	return a.RegisterRoutes(app, services.NewEndpointRegistry())
}
