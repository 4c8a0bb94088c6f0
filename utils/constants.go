package utils

import (
	"time"
)

// Token and session time constants
const (
	// AccessTokenTTL is the time-to-live for access tokens (24 hours)
	AccessTokenTTL = 24 * time.Hour

	// RefreshTokenTTL is the time-to-live for refresh tokens (7 days)
	RefreshTokenTTL = 7 * 24 * time.Hour

	// CaptchaTTL is how long a login captcha challenge stays valid
	CaptchaTTL = 2 * time.Minute
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Form and tracking constants
const (
	// FormCodeSuffixLength is the number of random characters appended to a form code
	FormCodeSuffixLength = 6

	// MaxPageSize caps list endpoints
	MaxPageSize = 200

	// DefaultPageSize is used when a list request does not specify one
	DefaultPageSize = 50

	// AnalyticsCacheTTL is the default lifetime of cached analytics results
	AnalyticsCacheTTL = time.Minute
)

// Well-known entity names seeded by the initial migration
const (
	EntityNameEMT     = "EMT"
	EntityNameOrganic = "Organic"
)

// Default origins allowed to post submissions when ALLOWED_ORIGINS is unset
var DefaultSubmissionOrigins = []string{
	"https://aiesec.example.org",
	"https://www.aiesec.example.org",
	"https://forms.aiesec.example.org",
}
