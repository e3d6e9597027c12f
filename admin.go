package scanguard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/crypto/bcrypt"
)

// AdminAPI exposes the operator actions over HTTP behind a bearer token.
type AdminAPI struct {
	op        *Operator
	tokenHash []byte
	logger    *slog.Logger
}

// NewAdminAPI takes the bcrypt hash of the operator token.
func NewAdminAPI(op *Operator, tokenHash string, logger *slog.Logger) *AdminAPI {
	return &AdminAPI{
		op:        op,
		tokenHash: []byte(tokenHash),
		logger:    componentLogger(logger, "admin"),
	}
}

// HashToken returns the bcrypt hash to put in admin.tokenHash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *AdminAPI) Register(router fiber.Router) {
	router.Use(a.authenticate)
	router.Get("/bans", a.listBans)
	router.Get("/bans/id/:id", a.lookupBan)
	router.Get("/bans/:address", a.banStatus)
	router.Post("/bans", a.createBan)
	router.Delete("/bans/:address", a.deleteBan)
}

func (a *AdminAPI) authenticate(c fiber.Ctx) error {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || token == "" || len(a.tokenHash) == 0 {
		return a.unauthorized(c)
	}
	if err := bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)); err != nil {
		return a.unauthorized(c)
	}
	return c.Next()
}

func (a *AdminAPI) unauthorized(c fiber.Ctx) error {
	a.logger.Warn("admin_auth_failed", "ip", c.IP(), "path", c.Path())
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": ErrUnauthorized.Error()})
}

func (a *AdminAPI) listBans(c fiber.Ctx) error {
	listing, err := a.op.List(c.Context())
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"total":     listing.Total(),
		"permanent": listing.Permanent,
		"temporary": listing.Temporary,
		"expired":   listing.Expired,
	})
}

func (a *AdminAPI) lookupBan(c fiber.Ctx) error {
	rec, err := a.op.Lookup(c.Context(), c.Params("id"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(rec)
}

func (a *AdminAPI) banStatus(c fiber.Ctx) error {
	rec, err := a.op.Status(c.Context(), pathAddress(c))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(rec)
}

type banRequest struct {
	Address  string `json:"address"`
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

func (a *AdminAPI) createBan(c fiber.Ctx) error {
	var req banRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	var ttl time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid duration"})
		}
		ttl = d
	}
	rec, err := a.op.Ban(c.Context(), req.Address, req.Reason, "admin", ttl)
	if err != nil {
		return a.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (a *AdminAPI) deleteBan(c fiber.Ctx) error {
	if err := a.op.Unban(c.Context(), pathAddress(c), "admin"); err != nil {
		return a.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AdminAPI) fail(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidAddress):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	a.logger.Error("admin_request_failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func pathAddress(c fiber.Ctx) string {
	raw := c.Params("address")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}
