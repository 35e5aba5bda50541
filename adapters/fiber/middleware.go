package fiber

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
)

const localClient = "templatex.client"

// UseMiddleware installs panic recovery, request logging and the security
// headers.
func UseMiddleware(app *fiber.App) {
	app.Use(recoverer.New())
	app.Use(logger.New(logger.Config{
		Format:     logFormat(),
		TimeFormat: "2006/01/02 15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(func(c fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})
}

func logFormat() string {
	format := []string{
		"${time}",

		// Response metadata
		"${status}|${latency}",

		// Client info
		"${ip}",

		// Transfer size
		"${bytesReceived}|${bytesSent}",

		// Request details; query strings carry mailed tokens, so only the path
		"${method}|${path}",

		"${error}",
	}
	return strings.Join(format, "|") + "\n"
}

// withClient resolves the tx_client cookie to a client, issuing a new id
// when the cookie is missing or malformed.
func (a *Adapter) withClient(c fiber.Ctx) error {
	id := c.Cookies(ClientCookie)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     ClientCookie,
			Value:    id,
			Path:     "/",
			MaxAge:   int(a.cookieMaxAge.Seconds()),
			Secure:   a.secureCookie,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	cl, err := a.clients.Get(id, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return handleError(c, err)
	}

	c.Locals(localClient, cl)
	return c.Next()
}

func clientFrom(c fiber.Ctx) *client {
	cl, _ := c.Locals(localClient).(*client)
	return cl
}
