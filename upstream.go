package scanguard

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/proxy"
)

// UpstreamHandler is mounted after Middleware. It forwards allowed requests
// to upstream, keeping path and query. With no upstream it answers with the
// verdict the gate stored in the request locals.
func UpstreamHandler(upstream string) fiber.Handler {
	if upstream == "" {
		return func(c fiber.Ctx) error {
			resp := fiber.Map{"status": "allowed"}
			if v, ok := c.Locals(LocalsVerdict).(Verdict); ok {
				resp["address"] = v.Address
			}
			return c.JSON(resp)
		}
	}
	base := strings.TrimRight(upstream, "/")
	client := newFastHTTPClient()
	client.Name = "scanguard"
	return func(c fiber.Ctx) error {
		return proxy.Do(c, base+c.OriginalURL(), client)
	}
}
