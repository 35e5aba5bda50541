package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/templatex/adapters/memory"
	"github.com/lborres/templatex/core"
)

func TestNewApp_RequiresAdapters(t *testing.T) {
	identity, docs, storage := NewFakeIdentity(), memory.NewDocumentStore(), memory.NewLocalStorage()

	tests := []struct {
		name    string
		cfg     AppConfig
		wantErr error
	}{
		{name: "identity", cfg: AppConfig{Documents: docs, Storage: storage}, wantErr: core.ErrIdentityRequired},
		{name: "documents", cfg: AppConfig{Identity: identity, Storage: storage}, wantErr: core.ErrDocumentStoreRequired},
		{name: "storage", cfg: AppConfig{Identity: identity, Documents: docs}, wantErr: core.ErrLocalStorageRequired},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			_, err := NewApp(test.cfg)
			assert.ErrorIs(t, err, test.wantErr)
		})
	}
}

func TestProfileStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	window := 365 * 24 * time.Hour

	tests := []struct {
		name      string
		createdAt time.Time
		want      core.ProfileStatus
	}{
		{name: "registered today", createdAt: now, want: core.StatusNewcomer},
		{name: "registered last month", createdAt: now.AddDate(0, -1, 0), want: core.StatusNewcomer},
		{name: "registered two years ago", createdAt: now.AddDate(-2, 0, 0), want: core.StatusLocal},
		{name: "exactly one window ago", createdAt: now.Add(-window), want: core.StatusLocal},
		{name: "unknown registration date", createdAt: time.Time{}, want: core.StatusLocal},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, profileStatus(test.createdAt, now, window))
		})
	}
}

// Requirement: the profile projection carries the derived status
func TestApp_ProfileProjection(t *testing.T) {
	h := newHarness(t)
	h.seedProfile("u1", h.now.AddDate(-3, 0, 0))
	h.signIn("u1")

	vm := h.app.ViewModel()
	require.Equal(t, ViewReady, vm.Profile.Status)
	assert.Equal(t, core.StatusLocal, vm.Profile.Data.Status)
	assert.Equal(t, 4.5, vm.Profile.Data.Profile.Rating)
	assert.Equal(t, 2, vm.Profile.Data.Profile.ReviewCount)
}

func TestApp_MissingProfile(t *testing.T) {
	h := newHarness(t)
	h.signIn("u1")

	assert.Equal(t, ViewMissing, h.app.ViewModel().Profile.Status)
}

func TestApp_MarketFailureIsExplicit(t *testing.T) {
	h := newHarness(t)
	h.signIn("u1")

	h.docs.Break(core.CollectionProducts, errors.New("permission denied"))
	h.idle()

	vm := h.app.ViewModel()
	assert.Equal(t, ViewFailed, vm.Market.Status)
	assert.EqualError(t, vm.Market.Err, "permission denied")
}

// Requirement: each screen mounts its own projections and unmount releases them
func TestApp_ScreenMounts(t *testing.T) {
	h := newHarness(t)
	h.seedProfile("u1", h.now)
	h.signIn("u1")
	assert.Equal(t, 2, h.docs.Stats().Active, "main mounts profile and market")

	require.NoError(t, h.app.Navigate(NavigateTo{Screen: core.ScreenReviews}))
	h.idle()
	assert.Equal(t, 2, h.docs.Stats().Active, "reviews mounts reviews and profile")
	assert.Equal(t, ViewReady, h.app.ViewModel().Reviews.Status)

	require.NoError(t, h.app.Navigate(Back{}))
	require.NoError(t, h.app.Navigate(NavigateTo{Screen: core.ScreenOrders}))
	h.idle()
	assert.Equal(t, 0, h.docs.Stats().Active, "orders has no projections")

	stats := h.docs.Stats()
	assert.Equal(t, stats.Subscribes, stats.Unsubscribes)
}

func TestApp_ReviewsNewestFirst(t *testing.T) {
	h := newHarness(t)
	for id, ts := range map[string]time.Time{"r1": h.now.Add(-time.Hour), "r2": h.now} {
		require.NoError(t, h.docs.SetDoc(t.Context(), core.CollectionReviews, id, map[string]any{
			core.FieldReviewedID:   "u1",
			core.FieldReviewerID:   "u2",
			core.FieldReviewerName: "Bob",
			core.FieldRating:       5,
			core.FieldComment:      "great " + id,
			core.FieldTimestamp:    ts.Format(time.RFC3339Nano),
		}))
	}
	h.signIn("u1")
	require.NoError(t, h.app.Navigate(NavigateTo{Screen: core.ScreenReviews}))
	h.idle()

	reviews := h.app.ViewModel().Reviews
	require.Equal(t, ViewReady, reviews.Status)
	require.Len(t, reviews.Data, 2)
	assert.Equal(t, "r2", reviews.Data[0].ID)
}

func TestApp_RenderObservers(t *testing.T) {
	h := newHarness(t)
	renders := 0
	remove := h.app.OnRender(func() { renders++ })

	h.signIn("u1")
	assert.Positive(t, renders)

	remove()
	before := renders
	h.app.SetSearch("lamp")
	assert.Equal(t, before, renders)
}

func TestViewModel_JSON(t *testing.T) {
	h := newHarness(t)
	h.seedListing("p1", "Lamp", "u2")
	h.signIn("u1")

	raw, err := json.Marshal(h.app.ViewModel())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "main", decoded["route"])
	assert.Equal(t, false, decoded["checking"])
	assert.Equal(t, "market", decoded["tab"])
	market := decoded["market"].(map[string]any)
	assert.Equal(t, "ready", market["status"])
	assert.Len(t, market["data"], 1)
}

// Requirement: owned listings and received reviews follow the signed-in
// user across sign-out and sign-in as someone else
func TestApp_ProjectionsFollowUser(t *testing.T) {
	h := newHarness(t)
	h.seedListing("p1", "Lamp", "u1")
	h.seedListing("p2", "Chair", "u2")
	for id, reviewed := range map[string]string{"r1": "u1", "r2": "u2"} {
		err := h.docs.SetDoc(context.Background(), core.CollectionReviews, id, map[string]any{
			core.FieldReviewerID: "u3",
			core.FieldReviewedID: reviewed,
			core.FieldRating:     5,
			core.FieldComment:    "review for " + reviewed,
			core.FieldTimestamp:  h.now.Format(time.RFC3339Nano),
		})
		require.NoError(t, err)
	}

	h.signIn("u1")
	require.NoError(t, h.app.Navigate(NavigateTo{Screen: core.ScreenMyListings}))
	h.idle()
	require.Equal(t, []string{"Lamp"}, titles(h.app.ViewModel().Owned.Data))
	require.NoError(t, h.app.Navigate(Back{}))
	require.NoError(t, h.app.Navigate(NavigateTo{Screen: core.ScreenReviews}))
	h.idle()
	reviews := h.app.ViewModel().Reviews.Data
	require.Len(t, reviews, 1)
	require.Equal(t, "u1", reviews[0].ReviewedID)

	h.identity.Emit(nil)
	h.idle()
	require.Equal(t, core.RouteAuth, h.app.ViewModel().Route)
	h.signIn("u2")

	require.NoError(t, h.app.Navigate(NavigateTo{Screen: core.ScreenMyListings}))
	h.idle()
	vm := h.app.ViewModel()
	require.Equal(t, ViewReady, vm.Owned.Status)
	assert.Equal(t, []string{"Chair"}, titles(vm.Owned.Data))

	require.NoError(t, h.app.Navigate(Back{}))
	require.NoError(t, h.app.Navigate(NavigateTo{Screen: core.ScreenReviews}))
	h.idle()
	vm = h.app.ViewModel()
	require.Equal(t, ViewReady, vm.Reviews.Status)
	require.Len(t, vm.Reviews.Data, 1)
	assert.Equal(t, "u2", vm.Reviews.Data[0].ReviewedID)
}
