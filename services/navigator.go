package services

import (
	"fmt"
	"maps"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/metrics"
)

// Command is a message a screen sends to the Navigator.
type Command interface {
	isCommand()
}

type NavigateTo struct {
	Screen core.Screen
	Params map[string]string
}

type Back struct{}

func (NavigateTo) isCommand() {}
func (Back) isCommand()       {}

// Forward edges. auth and verify are only entered through Reset.
var forwardEdges = map[core.Screen][]core.Screen{
	core.ScreenMain: {
		core.ScreenSettingsHub,
		core.ScreenMyListings,
		core.ScreenOrders,
		core.ScreenReviews,
	},
	core.ScreenSettingsHub: {
		core.ScreenEditProfile,
		core.ScreenSecurity,
		core.ScreenEmail,
		core.ScreenAppearance,
		core.ScreenLegal,
		core.ScreenSupport,
	},
}

// Exactly one back edge per non-root screen, pointing at its opener.
var backEdges = map[core.Screen]core.Screen{
	core.ScreenSettingsHub: core.ScreenMain,
	core.ScreenMyListings:  core.ScreenMain,
	core.ScreenOrders:      core.ScreenMain,
	core.ScreenReviews:     core.ScreenMain,
	core.ScreenEditProfile: core.ScreenSettingsHub,
	core.ScreenSecurity:    core.ScreenSettingsHub,
	core.ScreenEmail:       core.ScreenSettingsHub,
	core.ScreenAppearance:  core.ScreenSettingsHub,
	core.ScreenLegal:       core.ScreenSettingsHub,
	core.ScreenSupport:     core.ScreenSettingsHub,
}

// BackTarget returns the screen that opens s.
func BackTarget(s core.Screen) (core.Screen, bool) {
	to, ok := backEdges[s]
	return to, ok
}

// CanNavigate reports whether from -> to is a forward edge.
func CanNavigate(from, to core.Screen) bool {
	for _, s := range forwardEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionListener observes every screen change, after it happened.
type TransitionListener func(from, to core.NavigationState)

// Navigator is a single-slot screen machine. Owned by the loop.
type Navigator struct {
	state     core.NavigationState
	tab       core.Tab
	epoch     uint64
	listeners []TransitionListener
	metrics   metrics.Recorder
}

func NewNavigator(rec metrics.Recorder) *Navigator {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Navigator{
		state:   core.NavigationState{Screen: core.ScreenAuth},
		tab:     core.TabMarket,
		metrics: rec,
	}
}

func (n *Navigator) State() core.NavigationState {
	return core.NavigationState{Screen: n.state.Screen, Params: maps.Clone(n.state.Params)}
}

func (n *Navigator) Tab() core.Tab { return n.tab }

// Epoch increments on every transition. Async handlers compare it to tell
// whether their screen is still mounted.
func (n *Navigator) Epoch() uint64 { return n.epoch }

func (n *Navigator) OnTransition(fn TransitionListener) {
	n.listeners = append(n.listeners, fn)
}

func (n *Navigator) Dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case NavigateTo:
		if !CanNavigate(n.state.Screen, c.Screen) {
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, n.state.Screen, c.Screen)
		}
		n.transition(core.NavigationState{Screen: c.Screen, Params: maps.Clone(c.Params)})
		return nil

	case Back:
		to, ok := BackTarget(n.state.Screen)
		if !ok {
			return fmt.Errorf("%w: %s has no back edge", core.ErrInvalidTransition, n.state.Screen)
		}
		n.transition(core.NavigationState{Screen: to})
		return nil

	default:
		return fmt.Errorf("%w: unknown command %T", core.ErrInvalidTransition, cmd)
	}
}

// Reset jumps to a root screen unconditionally. The session gate is the only
// caller.
func (n *Navigator) Reset(screen core.Screen) {
	n.transition(core.NavigationState{Screen: screen})
}

// SelectTab switches the main tab. It is ephemeral and not a transition.
func (n *Navigator) SelectTab(tab core.Tab) error {
	if !tab.Valid() {
		return &core.ValidationError{Field: "tab", Err: core.ErrInvalidValue}
	}
	if n.state.Screen != core.ScreenMain {
		return fmt.Errorf("%w: tabs exist only on %s", core.ErrInvalidTransition, core.ScreenMain)
	}
	n.tab = tab
	return nil
}

func (n *Navigator) transition(to core.NavigationState) {
	from := n.state
	n.state = to
	n.epoch++
	if to.Screen == core.ScreenMain {
		n.tab = core.TabMarket
	}

	n.metrics.Transition(string(from.Screen), string(to.Screen))
	for _, fn := range n.listeners {
		fn(from, n.State())
	}
}
