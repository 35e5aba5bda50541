package services

import (
	"log/slog"
	"sync"

	"github.com/lborres/templatex/core"
)

// SessionGate owns the current session and decides which flow renders.
// All state is owned by the loop.
type SessionGate struct {
	loop     *Loop
	identity core.IdentityProvider
	nav      *Navigator
	logger   *slog.Logger

	session    *core.Session
	checking   bool
	route      core.Route
	generation uint64
	listeners  []func()

	unsub    core.Unsubscribe
	stopOnce sync.Once
}

func NewSessionGate(loop *Loop, identity core.IdentityProvider, nav *Navigator, logger *slog.Logger) *SessionGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionGate{
		loop:     loop,
		identity: identity,
		nav:      nav,
		logger:   logger,
		checking: true,
		route:    core.RouteLoading,
	}
}

// Start subscribes to identity changes. Events are applied on the loop.
func (g *SessionGate) Start() {
	g.unsub = g.identity.OnSessionChange(func(s *core.Session) {
		s = cloneSession(s)
		g.loop.Post(func() { g.apply(s) })
	})
}

// Stop releases the identity subscription once.
func (g *SessionGate) Stop() {
	g.stopOnce.Do(func() {
		if g.unsub != nil {
			g.unsub()
		}
	})
}

func (g *SessionGate) CurrentSession() *core.Session { return cloneSession(g.session) }

func (g *SessionGate) Checking() bool { return g.checking }

func (g *SessionGate) Route() core.Route { return g.route }

// Generation changes whenever the user or the route changes.
func (g *SessionGate) Generation() uint64 { return g.generation }

// OnChange registers fn to run after every applied event.
func (g *SessionGate) OnChange(fn func()) {
	g.listeners = append(g.listeners, fn)
}

// Replace applies a refreshed session, e.g. after a reload.
func (g *SessionGate) Replace(s *core.Session) {
	g.apply(cloneSession(s))
}

func (g *SessionGate) apply(s *core.Session) {
	prevRoute := g.route
	prevID := sessionID(g.session)

	g.session = s
	g.checking = false
	g.route = routeFor(s)

	if g.route != prevRoute || sessionID(s) != prevID {
		g.generation++
		switch g.route {
		case core.RouteAuth:
			g.nav.Reset(core.ScreenAuth)
		case core.RouteVerify:
			g.nav.Reset(core.ScreenVerify)
		case core.RouteMain:
			g.nav.Reset(core.ScreenMain)
		}

		g.logger.Info("session route changed",
			slog.String("from", string(prevRoute)),
			slog.String("to", string(g.route)),
			slog.String("user_id", sessionID(s)),
		)
	}

	for _, fn := range g.listeners {
		fn()
	}
}

func routeFor(s *core.Session) core.Route {
	switch {
	case s == nil:
		return core.RouteAuth
	case !s.EmailVerified:
		return core.RouteVerify
	default:
		return core.RouteMain
	}
}

func sessionID(s *core.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func cloneSession(s *core.Session) *core.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
