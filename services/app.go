package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/metrics"
)

const maxPendingNotices = 50

type AppConfig struct {
	Identity  core.IdentityProvider
	Documents core.DocumentStore
	Storage   core.LocalStorage

	// Optional config
	Policy  core.PolicyConfig
	Loop    *Loop
	Context context.Context
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Now     core.Clock
}

// ProfileData is the profile projection with its derived status.
type ProfileData struct {
	Profile core.UserProfile   `json:"profile"`
	Status  core.ProfileStatus `json:"status"`
}

// ViewModel is an immutable snapshot of everything a client renders.
type ViewModel struct {
	Route       core.Route           `json:"route"`
	Checking    bool                 `json:"checking"`
	Session     *core.Session        `json:"session,omitempty"`
	Navigation  core.NavigationState `json:"navigation"`
	Tab         core.Tab             `json:"tab"`
	Preferences core.Preferences     `json:"preferences"`
	Profile     View[ProfileData]    `json:"profile"`
	Market      View[[]core.Listing] `json:"market"`
	Search      string               `json:"search"`
	Owned       View[[]core.Listing] `json:"owned"`
	Reviews     View[[]core.Review]  `json:"reviews"`
	Forms       map[FormID]FormState `json:"forms"`
	Notices     []Notice             `json:"notices,omitempty"`
}

// App composes the view core for one client. Its methods are owned by the
// loop: call them from loop tasks, or through Do from other goroutines.
type App struct {
	loop      *Loop
	gate      *SessionGate
	nav       *Navigator
	projector *Projector
	pipeline  *Pipeline
	prefStore *PreferenceStore

	prefs   core.Preferences
	profile View[ProfileData]
	market  View[[]core.Listing]
	owned   View[[]core.Listing]
	reviews View[[]core.Review]
	search  string
	notices []Notice
	scope   *Scope

	observers map[int]func()
	nextObsID int
	policy    core.PolicyConfig
	now       core.Clock
	logger    *slog.Logger
	started   bool
	closed    bool
	cancelCtx context.CancelFunc
}

func NewApp(cfg AppConfig) (*App, error) {
	if cfg.Identity == nil {
		return nil, core.ErrIdentityRequired
	}
	if cfg.Documents == nil {
		return nil, core.ErrDocumentStoreRequired
	}
	if cfg.Storage == nil {
		return nil, core.ErrLocalStorageRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Loop == nil {
		cfg.Loop = NewLoop(cfg.Logger)
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	defaults := core.DefaultPolicyConfig()
	if cfg.Policy.NewcomerWindow <= 0 {
		cfg.Policy.NewcomerWindow = defaults.NewcomerWindow
	}
	if cfg.Policy.ResendCooldown <= 0 {
		cfg.Policy.ResendCooldown = defaults.ResendCooldown
	}
	if cfg.Policy.CensorMask == "" {
		cfg.Policy.CensorMask = defaults.CensorMask
	}

	ctx, cancel := context.WithCancel(cfg.Context)
	nav := NewNavigator(cfg.Metrics)
	a := &App{
		loop:      cfg.Loop,
		nav:       nav,
		gate:      NewSessionGate(cfg.Loop, cfg.Identity, nav, cfg.Logger),
		projector: NewProjector(cfg.Loop, cfg.Documents, cfg.Metrics, cfg.Logger),
		prefStore: NewPreferenceStore(cfg.Storage, cfg.Logger),
		prefs:     core.DefaultPreferences(),
		scope:     &Scope{},
		observers: make(map[int]func()),
		policy:    cfg.Policy,
		now:       cfg.Now,
		logger:    cfg.Logger,
		cancelCtx: cancel,
	}
	a.resetViews()

	a.pipeline = NewPipeline(PipelineConfig{
		Loop:         cfg.Loop,
		Identity:     cfg.Identity,
		Documents:    cfg.Documents,
		Gate:         a.gate,
		Navigator:    nav,
		Policy:       cfg.Policy,
		ListingOwner: a.listingOwner,
		Notify:       a.pushNotice,
		OnChange:     a.changed,
		Context:      ctx,
		Metrics:      cfg.Metrics,
		Logger:       cfg.Logger,
		Now:          cfg.Now,
	})

	nav.OnTransition(func(from, to core.NavigationState) {
		a.mount(to.Screen)
		a.changed()
	})
	a.gate.OnChange(a.changed)

	return a, nil
}

// Start loads preferences, then starts the session gate. Calling it twice
// is a no-op.
func (a *App) Start() {
	if a.started || a.closed {
		return
	}
	a.started = true
	a.prefs = a.prefStore.Load()
	a.gate.Start()
}

// Run drives the loop until ctx is done or the app is closed.
func (a *App) Run(ctx context.Context) error {
	return a.loop.Run(ctx)
}

// Do runs fn on the loop and waits for it.
func (a *App) Do(ctx context.Context, fn func(*App) error) error {
	var err error
	if callErr := a.loop.Call(ctx, func() { err = fn(a) }); callErr != nil {
		return callErr
	}
	return err
}

func (a *App) Loop() *Loop { return a.loop }

// Close releases every subscription, stops the gate, flushes preferences
// and stops the loop.
func (a *App) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.scope.Release()
	a.gate.Stop()
	a.prefStore.Close()
	a.cancelCtx()
	a.loop.Close()
}

func (a *App) Navigate(cmd Command) error {
	return a.nav.Dispatch(cmd)
}

func (a *App) SelectTab(tab core.Tab) error {
	if err := a.nav.SelectTab(tab); err != nil {
		return err
	}
	a.changed()
	return nil
}

func (a *App) SetSearch(query string) {
	a.search = query
	a.changed()
}

func (a *App) Submit(w Write) error {
	return a.pipeline.Submit(w)
}

func (a *App) Preferences() core.Preferences { return a.prefs }

// SetPreferences replaces the preferences wholesale and saves them in the
// background.
func (a *App) SetPreferences(p core.Preferences) error {
	if !p.Locale.Valid() {
		return &core.ValidationError{Field: "locale", Err: core.ErrInvalidValue}
	}
	a.prefs = p
	a.prefStore.Save(p)
	a.changed()
	return nil
}

// Notices drains pending notices.
func (a *App) Notices() []Notice {
	out := a.notices
	a.notices = nil
	return out
}

// OnRender registers fn to run after every state change.
func (a *App) OnRender(fn func()) (remove func()) {
	id := a.nextObsID
	a.nextObsID++
	a.observers[id] = fn
	return func() { delete(a.observers, id) }
}

func (a *App) ViewModel() ViewModel {
	market := a.market
	if market.Status == ViewReady {
		market.Data = SearchListings(market.Data, a.search)
	}

	return ViewModel{
		Route:       a.gate.Route(),
		Checking:    a.gate.Checking(),
		Session:     a.gate.CurrentSession(),
		Navigation:  a.nav.State(),
		Tab:         a.nav.Tab(),
		Preferences: a.prefs,
		Profile:     a.profile,
		Market:      market,
		Search:      a.search,
		Owned:       a.owned,
		Reviews:     a.reviews,
		Forms:       a.pipeline.Forms(),
		Notices:     append([]Notice(nil), a.notices...),
	}
}

// ProfileStatus is newcomer within the configured window after
// registration, local afterwards.
func (a *App) ProfileStatus(createdAt time.Time) core.ProfileStatus {
	return profileStatus(createdAt, a.now(), a.policy.NewcomerWindow)
}

func profileStatus(createdAt, now time.Time, window time.Duration) core.ProfileStatus {
	if !createdAt.IsZero() && now.Sub(createdAt) < window {
		return core.StatusNewcomer
	}
	return core.StatusLocal
}

// mount swaps the subscription scope for the screen that just became
// current.
func (a *App) mount(screen core.Screen) {
	a.scope.Release()
	a.resetViews()
	scope := &Scope{}
	a.scope = scope

	s := a.gate.CurrentSession()
	if s == nil {
		return
	}

	switch screen {
	case core.ScreenMain:
		a.mountProfile(scope, s.ID)
		a.mountMarket(scope)
	case core.ScreenSettingsHub, core.ScreenEditProfile:
		a.mountProfile(scope, s.ID)
	case core.ScreenMyListings:
		a.mountOwned(scope, s.ID)
		a.mountMarket(scope)
	case core.ScreenReviews:
		a.mountReviews(scope, s.ID)
		a.mountProfile(scope, s.ID)
	}
}

func (a *App) resetViews() {
	a.profile = LoadingView[ProfileData]()
	a.market = LoadingView[[]core.Listing]()
	a.owned = LoadingView[[]core.Listing]()
	a.reviews = LoadingView[[]core.Review]()
}

func (a *App) mountProfile(scope *Scope, uid string) {
	decode := func(docs []core.Document) (ProfileData, error) {
		p, err := decodeProfile(docs[0])
		if err != nil {
			return ProfileData{}, err
		}
		return ProfileData{Profile: p, Status: a.ProfileStatus(p.CreatedAt)}, nil
	}
	mountView(a, scope, Query{Collection: core.CollectionUsers, DocID: uid}, decode, &a.profile)
}

func (a *App) mountMarket(scope *Scope) {
	mountView(a, scope, Query{Collection: core.CollectionProducts}, decodeListings, &a.market)
}

func (a *App) mountOwned(scope *Scope, uid string) {
	q := Query{
		Collection: core.CollectionProducts,
		Filters:    []core.Filter{{Field: core.FieldSellerID, Value: uid}},
	}
	mountView(a, scope, q, decodeListings, &a.owned)
}

func (a *App) mountReviews(scope *Scope, uid string) {
	q := Query{
		Collection: core.CollectionReviews,
		Filters:    []core.Filter{{Field: core.FieldReviewedID, Value: uid}},
	}
	mountView(a, scope, q, decodeReviews, &a.reviews)
}

// mountView subscribes q and routes its snapshots into target.
func mountView[T any](a *App, scope *Scope, q Query, decode Decoder[T], target *View[T]) {
	sub, err := Subscribe(a.projector, q, decode,
		func(v View[T]) {
			*target = v
			a.changed()
		},
		func(err error) {
			*target = failedView[T](err)
			a.changed()
		},
	)
	if err != nil {
		*target = failedView[T](err)
		return
	}
	scope.Add(sub)
}

func (a *App) listingOwner(id string) (string, bool) {
	for _, v := range []View[[]core.Listing]{a.owned, a.market} {
		if v.Status != ViewReady {
			continue
		}
		for _, l := range v.Data {
			if l.ID == id {
				return l.SellerID, true
			}
		}
	}
	return "", false
}

func (a *App) pushNotice(n Notice) {
	a.notices = append(a.notices, n)
	if len(a.notices) > maxPendingNotices {
		a.notices = a.notices[len(a.notices)-maxPendingNotices:]
	}
}

func (a *App) changed() {
	for _, fn := range a.observers {
		fn()
	}
}
