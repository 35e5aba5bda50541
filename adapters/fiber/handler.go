package fiber

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/services"
)

type navigateRequest struct {
	Screen core.Screen       `json:"screen"`
	Params map[string]string `json:"params"`
}

type tabRequest struct {
	Tab core.Tab `json:"tab"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" form:"token"`
	Password string `json:"password" form:"password"`
}

// acceptedResponse answers a command; its outcome arrives as a state event.
type acceptedResponse struct {
	Form services.FormID `json:"form"`
}

func (a *Adapter) getState(c fiber.Ctx) error {
	var vm services.ViewModel
	err := clientFrom(c).do(c.Context(), func(app *services.App) error {
		vm = app.ViewModel()
		return nil
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(http.StatusOK).JSON(vm)
}

// mutate runs fn on the client's loop and answers with the resulting view
// model.
func (a *Adapter) mutate(c fiber.Ctx, fn func(*services.App) error) error {
	var vm services.ViewModel
	err := clientFrom(c).do(c.Context(), func(app *services.App) error {
		if err := fn(app); err != nil {
			return err
		}
		vm = app.ViewModel()
		return nil
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(http.StatusOK).JSON(vm)
}

func (a *Adapter) navigate(c fiber.Ctx) error {
	var req navigateRequest
	if err := c.Bind().Body(&req); err != nil {
		return badBody(c)
	}
	return a.mutate(c, func(app *services.App) error {
		return app.Navigate(services.NavigateTo{Screen: req.Screen, Params: req.Params})
	})
}

func (a *Adapter) navigateBack(c fiber.Ctx) error {
	return a.mutate(c, func(app *services.App) error {
		return app.Navigate(services.Back{})
	})
}

func (a *Adapter) selectTab(c fiber.Ctx) error {
	var req tabRequest
	if err := c.Bind().Body(&req); err != nil {
		return badBody(c)
	}
	return a.mutate(c, func(app *services.App) error {
		return app.SelectTab(req.Tab)
	})
}

func (a *Adapter) searchMarket(c fiber.Ctx) error {
	var req searchRequest
	if err := c.Bind().Body(&req); err != nil {
		return badBody(c)
	}
	return a.mutate(c, func(app *services.App) error {
		app.SetSearch(req.Query)
		return nil
	})
}

func (a *Adapter) setPreferences(c fiber.Ctx) error {
	var prefs core.Preferences
	if err := c.Bind().Body(&prefs); err != nil {
		return badBody(c)
	}
	return a.mutate(c, func(app *services.App) error {
		return app.SetPreferences(prefs)
	})
}

// submitBody binds the request body into a W and submits it.
func submitBody[W services.Write](a *Adapter) fiber.Handler {
	return func(c fiber.Ctx) error {
		var w W
		if err := c.Bind().Body(&w); err != nil {
			return badBody(c)
		}
		return a.submit(c, w)
	}
}

// submitCommand submits a write that carries no input.
func (a *Adapter) submitCommand(w services.Write) fiber.Handler {
	return func(c fiber.Ctx) error {
		return a.submit(c, w)
	}
}

func (a *Adapter) deleteListing(c fiber.Ctx) error {
	return a.submit(c, services.DeleteListing{ListingID: c.Params("id")})
}

func (a *Adapter) submit(c fiber.Ctx, w services.Write) error {
	err := clientFrom(c).do(c.Context(), func(app *services.App) error {
		return app.Submit(w)
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(http.StatusAccepted).JSON(acceptedResponse{Form: w.Form()})
}

// verifyEmail is the target of the mailed verification link.
func (a *Adapter) verifyEmail(c fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return handleError(c, &core.ValidationError{Field: "token", Err: core.ErrFieldRequired})
	}

	user, err := a.auth.VerifyEmail(c.Context(), token)
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"email":    user.Email,
		"verified": user.EmailVerified,
	})
}

// resetPassword is the target of the mailed password reset link.
func (a *Adapter) resetPassword(c fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.Bind().Body(&req); err != nil {
		return badBody(c)
	}
	if req.Token == "" {
		return handleError(c, &core.ValidationError{Field: "token", Err: core.ErrFieldRequired})
	}

	if err := a.auth.ResetPassword(c.Context(), req.Token, req.Password); err != nil {
		return handleError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "password updated"})
}

func badBody(c fiber.Ctx) error {
	return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{
		Error: "invalid request body",
		Kind:  core.KindValidation,
	})
}

// handleError writes err with the status its kind maps to.
func handleError(c fiber.Ctx, err error) error {
	resp := core.ErrorResponse{
		Error: core.Reason(err),
		Kind:  core.KindOf(err),
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	return c.Status(mapErrorToStatus(err)).JSON(resp)
}

// mapErrorToStatus maps the error taxonomy to HTTP status codes.
func mapErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case errors.Is(err, core.ErrInvalidCurrentPassword),
		errors.Is(err, core.ErrEmailNotVerified),
		errors.Is(err, core.ErrNotOwner):
		return http.StatusForbidden

	case errors.Is(err, core.ErrUserExists):
		return http.StatusConflict

	case errors.Is(err, core.ErrTokenNotFound),
		errors.Is(err, core.ErrTokenExpired):
		return http.StatusGone

	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict

	case errors.Is(err, core.ErrClosed),
		errors.Is(err, ErrTooManyClients):
		return http.StatusServiceUnavailable
	}

	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindAuth:
		return http.StatusUnauthorized
	case core.KindBusy:
		return http.StatusConflict
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindWrite:
		return http.StatusBadGateway
	}

	switch {
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrNotSignedIn),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrSessionExpired):
		return http.StatusUnauthorized

	case errors.Is(err, core.ErrPasswordTooShort),
		errors.Is(err, core.ErrPasswordTooLong),
		errors.Is(err, core.ErrInvalidEmail),
		errors.Is(err, core.ErrFieldRequired):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
