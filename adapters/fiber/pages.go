package fiber

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/templatex/core"
)

var resetPasswordPage = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Reset password</title></head>
<body>
<h1>Choose a new password</h1>
<form method="post" action="/api/auth/reset">
<input type="hidden" name="token" value="{{.Token}}">
<label>New password <input type="password" name="password" minlength="{{.MinLength}}" required></label>
<button type="submit">Save</button>
</form>
</body>
</html>
`))

// resetPasswordForm serves the page the reset email links to. The token is
// only checked when the form is submitted.
func (a *Adapter) resetPasswordForm(c fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return handleError(c, &core.ValidationError{Field: "token", Err: core.ErrFieldRequired})
	}

	var buf bytes.Buffer
	err := resetPasswordPage.Execute(&buf, struct {
		Token     string
		MinLength int
	}{Token: token, MinLength: core.MinPasswordLength})
	if err != nil {
		return handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(http.StatusOK).Send(buf.Bytes())
}
