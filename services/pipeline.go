package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/metrics"
)

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
)

// Notice is a transient, non-blocking message for the user.
type Notice struct {
	Level   NoticeLevel    `json:"level"`
	Form    FormID         `json:"form,omitempty"`
	Kind    core.ErrorKind `json:"kind,omitempty"`
	Message string         `json:"message"`
}

type PipelineConfig struct {
	Loop      *Loop
	Identity  core.IdentityProvider
	Documents core.DocumentStore
	Gate      *SessionGate
	Navigator *Navigator
	Policy    core.PolicyConfig

	// ListingOwner looks a listing up in the mounted projections.
	ListingOwner func(id string) (sellerID string, ok bool)
	Notify       func(Notice)
	OnChange     func()

	Context context.Context
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Now     core.Clock
}

// Pipeline validates, transforms and issues writes, then reconciles the
// outcome on the loop. It never blocks the loop on network I/O.
type Pipeline struct {
	loop      *Loop
	identity  core.IdentityProvider
	docs      core.DocumentStore
	gate      *SessionGate
	nav       *Navigator
	validator *FormValidator
	cleaner   *TextCleaner
	censor    *Censor

	resendLimiter *rate.Limiter
	resetLimiter  *rate.Limiter

	listingOwner func(string) (string, bool)
	notify       func(Notice)
	onChange     func()

	forms   map[FormID]FormState
	ctx     context.Context
	metrics metrics.Recorder
	logger  *slog.Logger
	now     core.Clock
}

// plan is a prepared write: the off-loop remote call and the on-loop side
// effect that runs only if the originating screen is still mounted.
type plan struct {
	op        string
	remote    func(ctx context.Context) error
	onSuccess func()
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notify == nil {
		cfg.Notify = func(Notice) {}
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func() {}
	}
	if cfg.ListingOwner == nil {
		cfg.ListingOwner = func(string) (string, bool) { return "", false }
	}
	cooldown := cfg.Policy.ResendCooldown
	if cooldown <= 0 {
		cooldown = core.DefaultPolicyConfig().ResendCooldown
	}

	return &Pipeline{
		loop:          cfg.Loop,
		identity:      cfg.Identity,
		docs:          cfg.Documents,
		gate:          cfg.Gate,
		nav:           cfg.Navigator,
		validator:     NewFormValidator(),
		cleaner:       NewTextCleaner(),
		censor:        NewCensor(cfg.Policy.CensorWords, cfg.Policy.CensorMask),
		resendLimiter: rate.NewLimiter(rate.Every(cooldown), 1),
		resetLimiter:  rate.NewLimiter(rate.Every(cooldown), 1),
		listingOwner:  cfg.ListingOwner,
		notify:        cfg.Notify,
		onChange:      cfg.OnChange,
		forms:         make(map[FormID]FormState),
		ctx:           cfg.Context,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// Form returns the state of one form.
func (p *Pipeline) Form(id FormID) FormState { return p.forms[id] }

func (p *Pipeline) Forms() map[FormID]FormState { return maps.Clone(p.forms) }

// Submit runs on the loop. Local failures are returned synchronously and
// nothing reaches the network; remote outcomes arrive later as form state
// and notices.
func (p *Pipeline) Submit(w Write) error {
	form := w.Form()

	// Step 1: One write per form; the in-flight state is left untouched
	if p.forms[form].Busy {
		return core.ErrBusy
	}

	// Step 2: Local validation
	if err := p.validator.Validate(w); err != nil {
		p.record(form, err)
		return err
	}

	// Step 3: Transform and bind to the current session
	pl, err := p.prepare(w)
	if err != nil {
		p.record(form, err)
		return err
	}

	// Step 4: Remote call off the loop, form marked busy
	p.forms[form] = FormState{Busy: true}
	p.onChange()

	epoch, generation := p.nav.Epoch(), p.gate.Generation()
	p.loop.Go(func() error {
		return pl.remote(p.ctx)
	}, func(err error) {
		p.settle(form, pl, epoch, generation, err)
	})
	return nil
}

// settle runs on the loop once the remote call finished. Failures are
// always reported; success side effects only apply while the originating
// screen and session are current.
func (p *Pipeline) settle(form FormID, pl plan, epoch, generation uint64, err error) {
	current := epoch == p.nav.Epoch() && generation == p.gate.Generation()

	if err != nil {
		// Failure keeps the user where they are
		kind := core.KindOf(err)
		p.forms[form] = formStateFor(err)
		p.metrics.WriteCompleted(pl.op, string(kind))
		p.logger.Warn("write failed",
			slog.String("op", pl.op),
			slog.String("kind", string(kind)),
			slog.Bool("current", current),
			slog.Any("error", err),
		)
		p.notify(Notice{Level: NoticeError, Form: form, Kind: kind, Message: core.Reason(err)})
		p.onChange()
		return
	}

	// Success. Projections catch up through their subscriptions.
	p.forms[form] = FormState{}
	p.metrics.WriteCompleted(pl.op, "ok")
	if current && pl.onSuccess != nil {
		pl.onSuccess()
	}
	p.onChange()
}

func (p *Pipeline) record(form FormID, err error) {
	p.forms[form] = formStateFor(err)
	p.onChange()
}

func formStateFor(err error) FormState {
	st := FormState{Error: core.Reason(err), Kind: core.KindOf(err)}
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		st.Error = verr.Err.Error()
		st.Field = verr.Field
	case errors.Is(err, core.ErrInvalidCurrentPassword):
		st.Field = "currentPassword"
	}
	return st
}

func (p *Pipeline) prepare(w Write) (plan, error) {
	switch w := w.(type) {
	case Register:
		return p.prepareRegister(w), nil
	case SignIn:
		email := strings.TrimSpace(w.Email)
		return plan{op: "sign_in", remote: func(ctx context.Context) error {
			_, err := p.identity.SignIn(ctx, email, w.Password)
			return authErr("sign_in", err)
		}}, nil
	case SignOut:
		return plan{op: "sign_out", remote: func(ctx context.Context) error {
			return authErr("sign_out", p.identity.SignOut(ctx))
		}}, nil
	case SendPasswordReset:
		return p.preparePasswordReset(w)
	case ResendVerification:
		return p.prepareResendVerification()
	case CheckVerification:
		return p.prepareCheckVerification(), nil
	case CreateListing:
		return p.prepareCreateListing(w)
	case DeleteListing:
		return p.prepareDeleteListing(w)
	case SaveProfile:
		return p.prepareSaveProfile(w)
	case ChangePassword:
		return p.prepareChangePassword(w)
	case ChangeEmail:
		return p.prepareChangeEmail(w)
	case DeleteAccount:
		return p.prepareDeleteAccount(w)
	default:
		return plan{}, fmt.Errorf("unsupported write %T", w)
	}
}

// Registration is sequential and best effort: a failed profile write
// leaves the identity in place. The verification email is still sent so
// the new account is not stranded on the verify screen.
func (p *Pipeline) prepareRegister(w Register) plan {
	email := strings.TrimSpace(w.Email)
	name := p.cleaner.Clean(w.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	return plan{op: "register", remote: func(ctx context.Context) error {
		s, err := p.identity.SignUp(ctx, email, w.Password)
		if err != nil {
			return authErr("sign_up", err)
		}
		profileErr := p.docs.SetDoc(ctx, core.CollectionUsers, s.ID, newProfileDoc(s, name, p.now()))
		sendErr := authErr("send_verification", p.identity.SendVerificationEmail(ctx))
		if profileErr != nil {
			return &core.WriteError{Op: "create_profile", Err: profileErr}
		}
		return sendErr
	}}
}

func (p *Pipeline) preparePasswordReset(w SendPasswordReset) (plan, error) {
	if !p.resetLimiter.AllowN(p.now(), 1) {
		return plan{}, core.ErrRateLimited
	}
	email := strings.TrimSpace(w.Email)
	return plan{
		op: "password_reset",
		remote: func(ctx context.Context) error {
			return authErr("password_reset", p.identity.SendPasswordReset(ctx, email))
		},
		onSuccess: func() {
			p.notify(Notice{Level: NoticeSuccess, Form: FormPasswordReset, Message: "password reset email sent"})
		},
	}, nil
}

func (p *Pipeline) prepareResendVerification() (plan, error) {
	if _, err := p.requireSession("send_verification"); err != nil {
		return plan{}, err
	}
	if !p.resendLimiter.AllowN(p.now(), 1) {
		return plan{}, core.ErrRateLimited
	}
	return plan{
		op: "send_verification",
		remote: func(ctx context.Context) error {
			return authErr("send_verification", p.identity.SendVerificationEmail(ctx))
		},
		onSuccess: func() {
			p.notify(Notice{Level: NoticeSuccess, Form: FormVerification, Message: "verification email sent"})
		},
	}, nil
}

func (p *Pipeline) prepareCheckVerification() plan {
	var refreshed *core.Session
	return plan{
		op: "reload_session",
		remote: func(ctx context.Context) error {
			s, err := p.identity.ReloadSession(ctx)
			if err != nil {
				return authErr("reload_session", err)
			}
			refreshed = s
			return nil
		},
		onSuccess: func() {
			if refreshed == nil || !refreshed.EmailVerified {
				p.notify(Notice{Level: NoticeInfo, Form: FormVerification, Message: core.ErrEmailNotVerified.Error()})
			}
			p.gate.Replace(refreshed)
		},
	}
}

func (p *Pipeline) prepareCreateListing(w CreateListing) (plan, error) {
	s, err := p.requireSession("create_listing")
	if err != nil {
		return plan{}, err
	}

	listing := core.Listing{
		Title:       p.censor.Apply(p.cleaner.Clean(w.Title)),
		Price:       strings.TrimSpace(w.Price),
		ImageURL:    strings.TrimSpace(w.ImageURL),
		Description: p.censor.Apply(p.cleaner.Clean(w.Description)),
		SellerID:    s.ID,
	}
	if listing.Title == "" {
		return plan{}, &core.ValidationError{Field: "title", Err: core.ErrFieldRequired}
	}

	return plan{
		op: "create_listing",
		remote: func(ctx context.Context) error {
			if _, err := p.docs.AddDoc(ctx, core.CollectionProducts, listingDoc(listing)); err != nil {
				return &core.WriteError{Op: "create_listing", Err: err}
			}
			return nil
		},
		onSuccess: func() {
			_ = p.nav.SelectTab(core.TabMarket)
			p.notify(Notice{Level: NoticeSuccess, Form: FormSell, Message: "listing published"})
		},
	}, nil
}

// Ownership is checked against the projected listing only; the store
// itself does not enforce it.
func (p *Pipeline) prepareDeleteListing(w DeleteListing) (plan, error) {
	s, err := p.requireSession("delete_listing")
	if err != nil {
		return plan{}, err
	}
	owner, ok := p.listingOwner(w.ListingID)
	if !ok {
		return plan{}, &core.ValidationError{Field: "listingId", Err: core.ErrNotFound}
	}
	if owner != s.ID {
		return plan{}, &core.ValidationError{Field: "listingId", Err: core.ErrNotOwner}
	}

	return plan{
		op: "delete_listing",
		remote: func(ctx context.Context) error {
			if err := p.docs.DeleteDoc(ctx, core.CollectionProducts, w.ListingID); err != nil {
				return &core.WriteError{Op: "delete_listing", Err: err}
			}
			return nil
		},
		onSuccess: func() {
			p.notify(Notice{Level: NoticeSuccess, Form: FormMyListings, Message: "listing deleted"})
		},
	}, nil
}

func (p *Pipeline) prepareSaveProfile(w SaveProfile) (plan, error) {
	s, err := p.requireSession("save_profile")
	if err != nil {
		return plan{}, err
	}
	name := p.cleaner.Clean(w.DisplayName)
	if name == "" {
		return plan{}, &core.ValidationError{Field: "displayName", Err: core.ErrFieldRequired}
	}
	photo := strings.TrimSpace(w.PhotoURL)

	// An empty photo URL leaves the stored photo unchanged.
	return plan{
		op: "save_profile",
		remote: func(ctx context.Context) error {
			update := core.ProfileUpdate{DisplayName: &name}
			fields := map[string]any{core.FieldDisplayName: name}
			if photo != "" {
				update.PhotoURL = &photo
				fields[core.FieldPhotoURL] = photo
			}
			if err := p.identity.UpdateProfile(ctx, update); err != nil {
				return authErr("update_profile", err)
			}
			if err := p.docs.UpdateDoc(ctx, core.CollectionUsers, s.ID, fields); err != nil {
				return &core.WriteError{Op: "save_profile", Err: err}
			}
			return nil
		},
		onSuccess: p.backWithNotice(FormEditProfile, "profile saved"),
	}, nil
}

func (p *Pipeline) prepareChangePassword(w ChangePassword) (plan, error) {
	if _, err := p.requireSession("change_password"); err != nil {
		return plan{}, err
	}
	return plan{
		op: "change_password",
		remote: func(ctx context.Context) error {
			if err := p.reauthenticate(ctx, w.Current); err != nil {
				return err
			}
			return authErr("update_password", p.identity.UpdatePassword(ctx, w.New))
		},
		onSuccess: p.backWithNotice(FormSecurity, "password changed"),
	}, nil
}

func (p *Pipeline) prepareChangeEmail(w ChangeEmail) (plan, error) {
	s, err := p.requireSession("change_email")
	if err != nil {
		return plan{}, err
	}
	email := strings.TrimSpace(w.NewEmail)

	return plan{
		op: "change_email",
		remote: func(ctx context.Context) error {
			if err := p.reauthenticate(ctx, w.Current); err != nil {
				return err
			}
			if err := p.identity.UpdateEmail(ctx, email); err != nil {
				return authErr("update_email", err)
			}
			if err := p.docs.UpdateDoc(ctx, core.CollectionUsers, s.ID, map[string]any{core.FieldEmail: email}); err != nil {
				return &core.WriteError{Op: "change_email", Err: err}
			}
			return authErr("send_verification", p.identity.SendVerificationEmail(ctx))
		},
		onSuccess: p.backWithNotice(FormEmail, "email changed, check your inbox"),
	}, nil
}

// Deletion stops at a failed reauthentication; later steps are sequential
// with no rollback.
func (p *Pipeline) prepareDeleteAccount(w DeleteAccount) (plan, error) {
	s, err := p.requireSession("delete_account")
	if err != nil {
		return plan{}, err
	}
	return plan{
		op: "delete_account",
		remote: func(ctx context.Context) error {
			if err := p.reauthenticate(ctx, w.Current); err != nil {
				return err
			}
			if err := p.docs.DeleteDoc(ctx, core.CollectionUsers, s.ID); err != nil {
				return &core.WriteError{Op: "delete_profile", Err: err}
			}
			return authErr("delete_account", p.identity.DeleteAccount(ctx))
		},
	}, nil
}

func (p *Pipeline) reauthenticate(ctx context.Context, password string) error {
	err := p.identity.Reauthenticate(ctx, password)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrInvalidCredentials), errors.Is(err, core.ErrInvalidCurrentPassword):
		return &core.AuthError{Op: "reauthenticate", Err: core.ErrInvalidCurrentPassword}
	default:
		return authErr("reauthenticate", err)
	}
}

func (p *Pipeline) requireSession(op string) (*core.Session, error) {
	s := p.gate.CurrentSession()
	if s == nil {
		return nil, &core.AuthError{Op: op, Err: core.ErrNotSignedIn}
	}
	return s, nil
}

func (p *Pipeline) backWithNotice(form FormID, msg string) func() {
	return func() {
		if err := p.nav.Dispatch(Back{}); err != nil {
			p.logger.Debug("back after write skipped", slog.Any("error", err))
		}
		p.notify(Notice{Level: NoticeSuccess, Form: form, Message: msg})
	}
}

// authErr tags identity provider failures. nil stays nil.
func authErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var aerr *core.AuthError
	if errors.As(err, &aerr) {
		return err
	}
	return &core.AuthError{Op: op, Err: err}
}
