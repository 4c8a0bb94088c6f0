package handlers

import (
	"context"

	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type AnalyticsHandlerInterface interface {
	Funnel(c fiber.Ctx) error
	Breakdowns(c fiber.Ctx) error
	Trend(c fiber.Ctx) error
	Attribution(c fiber.Ctx) error
}

// AnalyticsHandler exposes the read-only analytics aggregates
type AnalyticsHandler struct {
	baseHandler
	flow businessflow.AnalyticsFlow
}

func NewAnalyticsHandler(flow businessflow.AnalyticsFlow, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		baseHandler: newBaseHandler(logger, "analytics_handler"),
		flow:        flow,
	}
}

// Funnel
// @Summary Submission funnel
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param form_id query int false "Form ID"
// @Param form_type query string false "Form type" Enums(oGV, TMR, EWA)
// @Param entity_id query int false "Entity ID"
// @Param uni_id query int false "University ID"
// @Param from query string false "Lower bound"
// @Param to query string false "Upper bound"
// @Param include_duplicates query bool false "Count duplicated rows"
// @Success 200 {object} dto.APIResponse{data=dto.FunnelResponse} "Funnel computed"
// @Router /api/analytics/funnel [get]
func (h *AnalyticsHandler) Funnel(c fiber.Ctx) error {
	return serveAnalytics(h, c, "/api/analytics/funnel", "Funnel computed", h.flow.Funnel)
}

// Breakdowns
// @Summary Submission breakdowns
// @Description Channel, UTM combination, university, age bucket, major and cohort counts.
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param form_id query int false "Form ID"
// @Param form_type query string false "Form type" Enums(oGV, TMR, EWA)
// @Param entity_id query int false "Entity ID"
// @Param uni_id query int false "University ID"
// @Param from query string false "Lower bound"
// @Param to query string false "Upper bound"
// @Param include_duplicates query bool false "Count duplicated rows"
// @Success 200 {object} dto.APIResponse{data=dto.BreakdownsResponse} "Breakdowns computed"
// @Router /api/analytics/breakdowns [get]
func (h *AnalyticsHandler) Breakdowns(c fiber.Ctx) error {
	return serveAnalytics(h, c, "/api/analytics/breakdowns", "Breakdowns computed", h.flow.Breakdowns)
}

// Trend
// @Summary Weekly trend
// @Description Submission counts per ISO week, weeks starting Monday UTC.
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param form_id query int false "Form ID"
// @Param form_type query string false "Form type" Enums(oGV, TMR, EWA)
// @Param entity_id query int false "Entity ID"
// @Param uni_id query int false "University ID"
// @Param from query string false "Lower bound"
// @Param to query string false "Upper bound"
// @Param include_duplicates query bool false "Count duplicated rows"
// @Success 200 {object} dto.APIResponse{data=dto.TrendResponse} "Trend computed"
// @Router /api/analytics/trend [get]
func (h *AnalyticsHandler) Trend(c fiber.Ctx) error {
	return serveAnalytics(h, c, "/api/analytics/trend", "Trend computed", h.flow.Trend)
}

// Attribution
// @Summary Campaign attribution
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param form_id query int false "Form ID"
// @Param form_type query string false "Form type" Enums(oGV, TMR, EWA)
// @Param entity_id query int false "Entity ID"
// @Param uni_id query int false "University ID"
// @Param from query string false "Lower bound"
// @Param to query string false "Upper bound"
// @Param include_duplicates query bool false "Count duplicated rows"
// @Success 200 {object} dto.APIResponse{data=dto.AttributionResponse} "Attribution computed"
// @Router /api/analytics/attribution [get]
func (h *AnalyticsHandler) Attribution(c fiber.Ctx) error {
	return serveAnalytics(h, c, "/api/analytics/attribution", "Attribution computed", h.flow.Attribution)
}

func serveAnalytics[T any](
	h *AnalyticsHandler,
	c fiber.Ctx,
	endpoint, message string,
	compute func(context.Context, businessflow.Actor, *dto.AnalyticsRequest) (T, error),
) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.AnalyticsRequest{
		FormID:            q.Uint("form_id"),
		FormType:          q.String("form_type"),
		EntityID:          q.Uint("entity_id"),
		UniID:             q.Int64("uni_id"),
		From:              q.Time("from", false),
		To:                q.Time("to", true),
		IncludeDuplicates: q.Bool("include_duplicates"),
	}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, endpoint)
	defer cancel()

	res, err := compute(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to compute analytics")
	}
	return h.SuccessResponse(c, fiber.StatusOK, message, res)
}
