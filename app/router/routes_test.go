package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/handlers"
	"github.com/amirphl/Kagutsuchi/app/middleware"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/config"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T, probes map[string]HealthProbe) *fiber.App {
	t.Helper()
	logger := zaptest.NewLogger(t)

	tokens, err := services.NewTokenService(time.Minute, time.Hour, "iss", "aud", false, "", "",
		"0123456789abcdef0123456789abcdef", services.NewMemoryRevocationStore())
	require.NoError(t, err)

	cfg := &config.ProductionConfig{
		Security: config.SecurityConfig{
			AllowedOrigins:  []string{"https://dash.example.org"},
			AllowedMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:  []string{"Authorization", "Content-Type"},
			AuthRateLimit:   1000,
			GlobalRateLimit: 1000,
			RateLimitWindow: time.Minute,
		},
		Submission: config.SubmissionConfig{AllowedOrigins: []string{"https://apply.example.org"}},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Deployment: config.DeploymentConfig{Version: "test"},
	}

	r := NewFiberRouter(cfg, Handlers{
		Auth:         handlers.NewAuthHandler(nil, logger),
		Form:         handlers.NewFormHandler(nil, logger),
		Submission:   handlers.NewSubmissionHandler(nil, nil, logger),
		Allocation:   handlers.NewAllocationHandler(nil, logger),
		Notification: handlers.NewNotificationHandler(nil, logger),
		Utm:          handlers.NewUtmHandler(nil, nil, logger),
		Analytics:    handlers.NewAnalyticsHandler(nil, logger),
		Directory:    handlers.NewDirectoryHandler(nil, logger),
	}, middleware.NewAuthMiddleware(tokens), probes, logger)
	r.SetupRoutes()
	return r.GetApp()
}

func send(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, dto.APIResponse) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var body dto.APIResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp, body
}

func TestHealthCheck(t *testing.T) {
	app := newTestRouter(t, map[string]HealthProbe{
		"database": func(context.Context) error { return nil },
	})
	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))

	app = newTestRouter(t, map[string]HealthProbe{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	resp, body = send(t, app, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "SERVICE_DEGRADED", body.Error.(map[string]any)["code"])
	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"database": "up", "redis": "down"}, data["checks"])
}

func TestUnknownRouteAndMissingToken(t *testing.T) {
	app := newTestRouter(t, nil)

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/api/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body.Error.(map[string]any)["code"])

	for _, path := range []string{"/api/forms", "/api/submissions", "/api/analytics/funnel", "/api/users"} {
		resp, _ := send(t, app, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestCORSSplitsPublicSubmissionFromDashboard(t *testing.T) {
	app := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/submissions/spring26", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://landing.example.net")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodPost)
	resp, _ := send(t, app, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodOptions, "/api/submissions/spring26", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://apply.example.org")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodPost)
	resp, _ = send(t, app, req)
	assert.Equal(t, "https://apply.example.org", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", resp.Header.Get(fiber.HeaderAccessControlAllowCredentials))

	req = httptest.NewRequest(http.MethodOptions, "/api/forms", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://dash.example.org")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodGet)
	resp, _ = send(t, app, req)
	assert.Equal(t, "https://dash.example.org", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodOptions, "/api/forms", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://landing.example.net")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodGet)
	resp, _ = send(t, app, req)
	assert.Empty(t, resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}

func TestMetricsAndSwaggerEndpoints(t *testing.T) {
	app := newTestRouter(t, nil)
	send(t, app, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "kagutsuchi_http_requests_total")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/swagger.json", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "2.0", doc["swagger"])
}
