package scanguard

import (
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
)

// LocalsVerdict is the fiber.Ctx locals key holding the request's Verdict.
const LocalsVerdict = "scanguard.verdict"

// Middleware gates every request through Check. Banned clients are sent to
// the ban notice page when one is configured, otherwise they get a JSON 403.
// The notice page itself is never gated.
func (g *Guard) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		if g.banNoticePath != "" && c.Path() == g.banNoticePath {
			return c.Next()
		}

		v, err := g.Check(c.Context(), Request{
			RemoteAddr: c.IP(),
			Header:     func(name string) string { return c.Get(name) },
			Path:       c.Path(),
			Method:     c.Method(),
			UserAgent:  c.Get(fiber.HeaderUserAgent),
		})
		if err != nil {
			if errors.Is(err, ErrBanWrite) {
				// The client earned a ban that could not be stored; refuse this
				// request regardless of policy.
				g.logger.Error("ban_write_failed", "address", v.Address, "error", err)
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Access denied"})
			}
			g.logger.Error("ban_check_failed", "address", v.Address, "error", err, "fail_open", g.failOpen)
			if g.failOpen {
				return c.Next()
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Service temporarily unavailable",
			})
		}

		c.Locals(LocalsVerdict, v)
		if !v.Banned() {
			return c.Next()
		}
		return g.denyBanned(c, v.Record)
	}
}

func (g *Guard) denyBanned(c fiber.Ctx, rec *BanRecord) error {
	if g.banNoticePath != "" {
		c.Set(fiber.HeaderLocation, g.banNoticePath+"?id="+url.QueryEscape(rec.ID))
		return c.SendStatus(fiber.StatusSeeOther)
	}
	if rec.Permanent() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":  "Access denied",
			"type":   "permanent_ban",
			"ban_id": rec.ID,
		})
	}
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error":        "Access denied",
		"type":         "temporary_ban",
		"ban_id":       rec.ID,
		"banned_until": rec.ExpiresAt.Format(time.RFC3339),
	})
}
