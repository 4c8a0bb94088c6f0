package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/middleware"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockSubmissionFlow struct {
	mock.Mock
}

func (m *MockSubmissionFlow) Submit(ctx context.Context, formCode string, payload map[string]string, metadata *businessflow.ClientMetadata) (*dto.SubmitResponse, error) {
	args := m.Called(ctx, formCode, payload, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.SubmitResponse), args.Error(1)
}

func (m *MockSubmissionFlow) ListSubmissions(ctx context.Context, actor businessflow.Actor, req *dto.ListSubmissionsRequest) (*dto.ListSubmissionsResponse, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.ListSubmissionsResponse), args.Error(1)
}

func (m *MockSubmissionFlow) GetSubmission(ctx context.Context, actor businessflow.Actor, id uint) (*dto.SubmissionDTO, error) {
	args := m.Called(ctx, actor, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.SubmissionDTO), args.Error(1)
}

func (m *MockSubmissionFlow) DeleteSubmission(ctx context.Context, actor businessflow.Actor, id uint) error {
	return m.Called(ctx, actor, id).Error(0)
}

func (m *MockSubmissionFlow) ImportSubmissions(ctx context.Context, actor businessflow.Actor, req *dto.ImportSubmissionsRequest) (*dto.ImportSubmissionsResponse, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.ImportSubmissionsResponse), args.Error(1)
}

func (m *MockSubmissionFlow) ExportSubmissions(ctx context.Context, actor businessflow.Actor, req *dto.ListSubmissionsRequest) (*dto.ExportFile, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.ExportFile), args.Error(1)
}

func newSubmissionApp(t *testing.T, flow *MockSubmissionFlow) (*fiber.App, string) {
	t.Helper()
	tokens := newTestTokens(t)
	auth := middleware.NewAuthMiddleware(tokens)
	h := NewSubmissionHandler(flow, nil, zaptest.NewLogger(t))

	app := fiber.New()
	app.Post("/api/submissions/import", auth.Authenticate(), h.Import)
	app.Get("/api/submissions/export", auth.Authenticate(), h.Export)
	app.Post("/api/submissions/:code", h.Submit)
	app.Get("/api/submissions", auth.Authenticate(), h.List)
	app.Get("/api/submissions/:id", auth.Authenticate(), h.Get)

	entityID := uint(7)
	return app, bearer(t, tokens, 42, "lead", &entityID)
}

func TestSubmissionHandler_Submit(t *testing.T) {
	flow := new(MockSubmissionFlow)
	app, _ := newSubmissionApp(t, flow)

	entityID := uint(7)
	flow.On("Submit", mock.Anything, "spring-3f9a1c",
		map[string]string{"email": "a@b.org", "uni": "1001"},
		mock.MatchedBy(func(meta *businessflow.ClientMetadata) bool { return meta.UserAgent == "landing-test" }),
	).Return(&dto.SubmitResponse{SubmissionID: 512, EntityID: &entityID, Duplicates: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/submissions/spring-3f9a1c",
		strings.NewReader(`{"payload":{"data":{"email":"a@b.org","uni":1001}}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "landing-test")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	flow.On("Submit", mock.Anything, "missing", mock.Anything, mock.Anything).
		Return(nil, businessflow.NewBusinessError("FORM_NOT_FOUND", "Form not found", businessflow.ErrFormNotFound)).Once()
	resp2, body := doRequest(t, app, http.MethodPost, "/api/submissions/missing", "", map[string]string{"email": "a@b.org"})
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	assert.Equal(t, "FORM_NOT_FOUND", errorCode(t, body))

	resp3, body := doRequest(t, app, http.MethodPost, "/api/submissions/spring-3f9a1c", "", "[]")
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, body))

	flow.AssertExpectations(t)
}

func TestSubmissionHandler_ListAndGet(t *testing.T) {
	flow := new(MockSubmissionFlow)
	app, token := newSubmissionApp(t, flow)

	flow.On("ListSubmissions", mock.Anything,
		mock.MatchedBy(func(a businessflow.Actor) bool { return a.UserID == 42 && a.Role == "lead" && *a.EntityID == 7 }),
		mock.MatchedBy(func(r *dto.ListSubmissionsRequest) bool {
			return *r.FormID == 3 && r.Unallocated != nil && *r.Unallocated && r.Page == 2 && r.From != nil
		}),
	).Return(&dto.ListSubmissionsResponse{Items: []dto.SubmissionDTO{{ID: 1}}, Pagination: dto.Pagination{Page: 2, PageSize: 20, Total: 21}}, nil).Once()

	resp, body := doRequest(t, app, http.MethodGet, "/api/submissions?form_id=3&unallocated=true&page=2&from=2026-10-01", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)

	resp, body = doRequest(t, app, http.MethodGet, "/api/submissions?form_id=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_QUERY", errorCode(t, body))

	resp, _ = doRequest(t, app, http.MethodGet, "/api/submissions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	flow.On("GetSubmission", mock.Anything, mock.Anything, uint(9)).
		Return(nil, businessflow.NewBusinessError("NOT_OWN_ENTITY", "Leads can only act on their own entity", businessflow.ErrNotOwnEntity)).Once()
	resp, _ = doRequest(t, app, http.MethodGet, "/api/submissions/9", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, "/api/submissions/zero", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ID", errorCode(t, body))

	flow.AssertExpectations(t)
}

func TestSubmissionHandler_Export(t *testing.T) {
	flow := new(MockSubmissionFlow)
	app, token := newSubmissionApp(t, flow)

	flow.On("ExportSubmissions", mock.Anything, mock.Anything, mock.Anything).Return(&dto.ExportFile{
		FileName:    "submissions-spring.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     []byte("PK\x03\x04"),
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/submissions/export?form_id=3", nil)
	req.Header.Set("Authorization", token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="submissions-spring.xlsx"`, resp.Header.Get("Content-Disposition"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04"), content)

	flow.AssertExpectations(t)
}
