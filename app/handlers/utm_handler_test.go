package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockClickTrackingFlow struct {
	mock.Mock
}

func (m *MockClickTrackingFlow) Track(ctx context.Context, in businessflow.TrackInput) (*dto.TrackClickResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.TrackClickResponse), args.Error(1)
}

func (m *MockClickTrackingFlow) TrackAndResolve(ctx context.Context, in businessflow.TrackInput, target string) string {
	return m.Called(ctx, in, target).String(0)
}

func newTrackingApp(t *testing.T, tracking *MockClickTrackingFlow) *fiber.App {
	t.Helper()
	h := NewUtmHandler(nil, tracking, zaptest.NewLogger(t))
	app := fiber.New()
	app.Get("/api/utm/track", h.TrackRedirect)
	app.Post("/api/utm/track", h.Track)
	return app
}

func TestUtmHandler_TrackRedirect(t *testing.T) {
	tracking := new(MockClickTrackingFlow)
	app := newTrackingApp(t, tracking)

	tracking.On("TrackAndResolve", mock.Anything,
		mock.MatchedBy(func(in businessflow.TrackInput) bool {
			return in.LinkID == 15 && in.ClickType == "view" && in.Client.UserAgent == "Mozilla/5.0"
		}),
		"https://hub.example.org/signup?utm_campaign=spring26",
	).Return("https://hub.example.org/signup?utm_campaign=spring26").Once()

	tracking.On("TrackAndResolve", mock.Anything,
		mock.MatchedBy(func(in businessflow.TrackInput) bool { return in.LinkID == 0 }),
		"javascript:alert(1)",
	).Return("").Once()

	req := httptest.NewRequest(http.MethodGet,
		"/api/utm/track?id=15&type=view&url=https%3A%2F%2Fhub.example.org%2Fsignup%3Futm_campaign%3Dspring26", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://hub.example.org/signup?utm_campaign=spring26", resp.Header.Get("Location"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/utm/track?id=abc&url=javascript%3Aalert(1)", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	pixel, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, transparentGIF, pixel)

	tracking.AssertExpectations(t)
}

func TestUtmHandler_Track(t *testing.T) {
	tracking := new(MockClickTrackingFlow)
	app := newTrackingApp(t, tracking)

	tracking.On("Track", mock.Anything, mock.MatchedBy(func(in businessflow.TrackInput) bool {
		return in.LinkID == 15 && in.ClickType == "click"
	})).Return(&dto.TrackClickResponse{Recorded: true, IsUnique: true}, nil).Once()
	tracking.On("Track", mock.Anything, mock.MatchedBy(func(in businessflow.TrackInput) bool {
		return in.LinkID == 99
	})).Return(nil, businessflow.NewBusinessError("LINK_NOT_FOUND", "Link not found", businessflow.ErrLinkNotFound)).Once()

	resp, body := doRequest(t, app, http.MethodPost, "/api/utm/track", "", map[string]any{"id": 15, "click_type": "click"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"recorded": true, "is_unique": true}, body.Data)

	resp, body = doRequest(t, app, http.MethodPost, "/api/utm/track", "", map[string]any{"id": 99})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "LINK_NOT_FOUND", errorCode(t, body))

	resp, body = doRequest(t, app, http.MethodPost, "/api/utm/track", "", map[string]any{"id": 15, "click_type": "hover"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, body))

	tracking.AssertExpectations(t)
}
