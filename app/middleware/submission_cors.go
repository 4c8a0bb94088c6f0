package middleware

import (
	"slices"
	"strconv"
	"strings"

	"github.com/amirphl/Kagutsuchi/config"
	"github.com/gofiber/fiber/v3"
)

const submissionPathPrefix = "/api/submissions/"

// IsPublicSubmission reports whether the request targets the public
// POST /api/submissions/:code endpoint, including its preflight
func IsPublicSubmission(c fiber.Ctx) bool {
	switch c.Method() {
	case fiber.MethodPost:
	case fiber.MethodOptions:
		if !strings.EqualFold(c.Get(fiber.HeaderAccessControlRequestMethod), fiber.MethodPost) {
			return false
		}
	default:
		return false
	}
	code, ok := strings.CutPrefix(c.Path(), submissionPathPrefix)
	if !ok || code == "" || strings.Contains(code, "/") {
		return false
	}
	return code != "import"
}

// SubmissionCORS serves CORS for the public submission endpoint only.
// Allowlisted origins are echoed with credentials; any other origin gets
// a wildcard without credentials. Other requests pass through untouched.
func SubmissionCORS(cfg config.SubmissionConfig) fiber.Handler {
	allowed := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}

	return func(c fiber.Ctx) error {
		if !IsPublicSubmission(c) {
			return c.Next()
		}

		origin := c.Get(fiber.HeaderOrigin)
		c.Vary(fiber.HeaderOrigin)
		if origin != "" && slices.Contains(allowed, origin) {
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
			c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
		} else {
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		}

		if c.Method() == fiber.MethodOptions {
			c.Set(fiber.HeaderAccessControlAllowMethods, "POST, OPTIONS")
			c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, Accept, Origin, X-Requested-With")
			c.Set(fiber.HeaderAccessControlMaxAge, strconv.Itoa(86400))
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}
