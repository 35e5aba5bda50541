package services

import (
	"errors"
	"testing"

	"github.com/lborres/templatex/core"
)

func navigatorAt(t *testing.T, screen core.Screen) *Navigator {
	t.Helper()
	nav := NewNavigator(nil)
	nav.Reset(core.ScreenMain)
	if screen == core.ScreenMain {
		return nav
	}
	if opener, ok := BackTarget(screen); ok && opener != core.ScreenMain {
		if err := nav.Dispatch(NavigateTo{Screen: opener}); err != nil {
			t.Fatalf("open %s: %v", opener, err)
		}
	}
	if err := nav.Dispatch(NavigateTo{Screen: screen}); err != nil {
		t.Fatalf("open %s: %v", screen, err)
	}
	return nav
}

// Requirement: back always returns to the opener, whatever siblings were visited first
func TestNavigator_BackReturnsToOpener(t *testing.T) {
	for opener, children := range forwardEdges {
		for _, child := range children {
			opener, child, siblings := opener, child, children
			t.Run(string(opener)+"->"+string(child), func(t *testing.T) {
				// Arrange: visit every sibling and come back before opening child
				nav := navigatorAt(t, opener)
				for _, sib := range siblings {
					if err := nav.Dispatch(NavigateTo{Screen: sib}); err != nil {
						t.Fatalf("open sibling %s: %v", sib, err)
					}
					if err := nav.Dispatch(Back{}); err != nil {
						t.Fatalf("back from sibling %s: %v", sib, err)
					}
				}
				if err := nav.Dispatch(NavigateTo{Screen: child}); err != nil {
					t.Fatalf("open %s: %v", child, err)
				}

				// Act
				err := nav.Dispatch(Back{})

				// Assert
				if err != nil {
					t.Fatalf("Back error = %v", err)
				}
				if nav.State().Screen != opener {
					t.Errorf("back from %s landed on %s, want %s", child, nav.State().Screen, opener)
				}
			})
		}
	}
}

// Requirement: every non-root screen has exactly one back edge; roots have none
func TestNavigator_BackEdgeTable(t *testing.T) {
	roots := []core.Screen{core.ScreenAuth, core.ScreenVerify, core.ScreenMain}
	for _, s := range roots {
		if _, ok := BackTarget(s); ok {
			t.Errorf("%s should have no back edge", s)
		}
	}
	for opener, children := range forwardEdges {
		for _, child := range children {
			if to, ok := BackTarget(child); !ok || to != opener {
				t.Errorf("BackTarget(%s) = %s, %v; want %s", child, to, ok, opener)
			}
		}
	}
	if len(backEdges) != 10 {
		t.Errorf("expected 10 back edges, got %d", len(backEdges))
	}
}

func TestNavigator_RejectsUnknownEdges(t *testing.T) {
	tests := []struct {
		name string
		from core.Screen
		cmd  Command
	}{
		{name: "main cannot jump into a settings leaf", from: core.ScreenMain, cmd: NavigateTo{Screen: core.ScreenSecurity}},
		{name: "auth is only reachable through reset", from: core.ScreenSettingsHub, cmd: NavigateTo{Screen: core.ScreenAuth}},
		{name: "main has no back edge", from: core.ScreenMain, cmd: Back{}},
		{name: "leaf cannot open a sibling directly", from: core.ScreenLegal, cmd: NavigateTo{Screen: core.ScreenSupport}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			nav := navigatorAt(t, test.from)
			epoch := nav.Epoch()

			err := nav.Dispatch(test.cmd)

			if !errors.Is(err, core.ErrInvalidTransition) {
				t.Fatalf("Dispatch() error = %v, want ErrInvalidTransition", err)
			}
			if nav.State().Screen != test.from || nav.Epoch() != epoch {
				t.Errorf("a rejected command must not change state")
			}
		})
	}
}

// Requirement: params belong to the current screen only
func TestNavigator_ParamsAreSingleSlot(t *testing.T) {
	nav := navigatorAt(t, core.ScreenSettingsHub)
	_ = nav.Dispatch(NavigateTo{Screen: core.ScreenEditProfile, Params: map[string]string{"focus": "photo"}})
	if nav.State().Param("focus") != "photo" {
		t.Fatalf("expected params on the opened screen")
	}

	_ = nav.Dispatch(Back{})

	if len(nav.State().Params) != 0 {
		t.Errorf("params leaked to %s: %v", nav.State().Screen, nav.State().Params)
	}
}

// Requirement: tab selection is main-only and resets to market on remount
func TestNavigator_TabResetsOnRemount(t *testing.T) {
	nav := navigatorAt(t, core.ScreenMain)
	if err := nav.SelectTab(core.TabChat); err != nil {
		t.Fatalf("SelectTab() error = %v", err)
	}

	_ = nav.Dispatch(NavigateTo{Screen: core.ScreenOrders})
	if err := nav.SelectTab(core.TabSell); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("SelectTab off main error = %v, want ErrInvalidTransition", err)
	}
	_ = nav.Dispatch(Back{})

	if nav.Tab() != core.TabMarket {
		t.Errorf("tab = %s after remount, want market", nav.Tab())
	}
	if err := nav.SelectTab(core.Tab("cart")); core.KindOf(err) != core.KindValidation {
		t.Errorf("unknown tab error = %v, want validation error", err)
	}
}

func TestNavigator_TransitionListenerAndEpoch(t *testing.T) {
	nav := NewNavigator(nil)
	var seen [][2]core.Screen
	nav.OnTransition(func(from, to core.NavigationState) {
		seen = append(seen, [2]core.Screen{from.Screen, to.Screen})
	})

	nav.Reset(core.ScreenMain)
	_ = nav.Dispatch(NavigateTo{Screen: core.ScreenReviews})
	_ = nav.Dispatch(Back{})

	want := [][2]core.Screen{
		{core.ScreenAuth, core.ScreenMain},
		{core.ScreenMain, core.ScreenReviews},
		{core.ScreenReviews, core.ScreenMain},
	}
	if len(seen) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
	if nav.Epoch() != 3 {
		t.Errorf("Epoch() = %d, want 3", nav.Epoch())
	}
}
