// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/middleware"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// baseHandler carries what every handler needs to decode requests and
// shape responses
type baseHandler struct {
	validator *validator.Validate
	logger    *zap.Logger
	timeout   time.Duration
}

func newBaseHandler(logger *zap.Logger, name string) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{
		validator: validator.New(),
		logger:    logger.Named(name),
		timeout:   defaultRequestTimeout,
	}
}

// SetRequestTimeout bounds how long flows may run per request
func (h *baseHandler) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// handleError maps a flow error onto a status code. Unclassified errors are
// logged and answered with a generic message.
func (h *baseHandler) handleError(c fiber.Ctx, err error, fallback string) error {
	code := businessflow.ErrorCode(err)
	message := err.Error()
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		message = be.Message
	}

	switch {
	case businessflow.IsUnauthenticated(err):
		return h.ErrorResponse(c, fiber.StatusUnauthorized, message, code, nil)
	case businessflow.IsForbidden(err):
		return h.ErrorResponse(c, fiber.StatusForbidden, message, code, nil)
	case businessflow.IsNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, message, code, nil)
	case businessflow.IsInvalid(err):
		details := ""
		if be != nil && be.Err != nil {
			details = be.Err.Error()
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, message, code, details)
	case errors.Is(err, context.DeadlineExceeded):
		return h.ErrorResponse(c, fiber.StatusGatewayTimeout, "Request timed out", "REQUEST_TIMEOUT", nil)
	}

	h.logger.Error(fallback,
		zap.String("code", code),
		zap.String("path", c.Path()),
		zap.String("request_id", requestID(c)),
		zap.Error(err),
	)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallback, code, nil)
}

func (h *baseHandler) invalidBody(c fiber.Ctx, err error) error {
	return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
}

func (h *baseHandler) validationFailed(c fiber.Ctx, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// decodeJSON binds and validates the body. ok is false when a 400 has
// already been written.
func (h *baseHandler) decodeJSON(c fiber.Ctx, req any) (ok bool, err error) {
	if err := c.Bind().JSON(req); err != nil {
		return false, h.invalidBody(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return false, h.validationFailed(c, err)
	}
	return true, nil
}

// decodeQuery validates a request struct filled by a queryParser
func (h *baseHandler) decodeQuery(c fiber.Ctx, q *queryParser, req any) (ok bool, err error) {
	if errs := q.Errors(); len(errs) > 0 {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_QUERY", errs)
	}
	if err := h.validator.Struct(req); err != nil {
		return false, h.validationFailed(c, err)
	}
	return true, nil
}

func (h *baseHandler) requireActor(c fiber.Ctx) (businessflow.Actor, bool, error) {
	actor, ok := actorFromContext(c)
	if !ok {
		return actor, false, h.ErrorResponse(c, fiber.StatusUnauthorized, "Authentication required", "AUTHENTICATION_REQUIRED", nil)
	}
	return actor, true, nil
}

func (h *baseHandler) paramID(c fiber.Ctx, name string) (uint, bool, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid "+name, "INVALID_ID", c.Params(name))
	}
	return uint(id), true, nil
}

// createRequestContext derives the flow context from the request context so
// trace spans started by middleware stay attached
func (h *baseHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestID(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get(fiber.HeaderUserAgent))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, h.timeout)
	return ctx, cancel
}

func actorFromContext(c fiber.Ctx) (businessflow.Actor, bool) {
	claims, ok := middleware.GetTokenClaimsFromContext(c)
	if !ok {
		return businessflow.Actor{}, false
	}
	return businessflow.Actor{UserID: claims.UserID, Role: claims.Role, EntityID: claims.EntityID}, true
}

func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	meta := businessflow.NewClientMetadata(c.IP(), c.Get(fiber.HeaderUserAgent))
	meta.Referrer = c.Get(fiber.HeaderReferer)
	meta.Origin = c.Get(fiber.HeaderOrigin)
	meta.SetRequestID(requestID(c))
	return meta
}

func requestID(c fiber.Ctx) string {
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

// queryParser reads typed query parameters and collects every parse error
type queryParser struct {
	c    fiber.Ctx
	errs []string
}

func newQueryParser(c fiber.Ctx) *queryParser {
	return &queryParser{c: c}
}

func (q *queryParser) fail(key, want string) {
	q.errs = append(q.errs, fmt.Sprintf("%s must be %s", key, want))
}

func (q *queryParser) raw(key string) (string, bool) {
	v := strings.TrimSpace(q.c.Query(key))
	return v, v != ""
}

func (q *queryParser) String(key string) *string {
	if v, ok := q.raw(key); ok {
		return &v
	}
	return nil
}

func (q *queryParser) Uint(key string) *uint {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		q.fail(key, "a positive integer")
		return nil
	}
	u := uint(n)
	return &u
}

func (q *queryParser) Int64(key string) *int64 {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		q.fail(key, "an integer")
		return nil
	}
	return &n
}

func (q *queryParser) Int(key string) int {
	v, ok := q.raw(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		q.fail(key, "an integer")
		return 0
	}
	return n
}

func (q *queryParser) OptBool(key string) *bool {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.fail(key, "a boolean")
		return nil
	}
	return &b
}

func (q *queryParser) Bool(key string) bool {
	return utils.IsTrue(q.OptBool(key))
}

// Time accepts RFC3339 or a bare YYYY-MM-DD date. A bare date used as an
// exclusive upper bound covers the whole day.
func (q *queryParser) Time(key string, upperBound bool) *time.Time {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		q.fail(key, "an RFC3339 timestamp or YYYY-MM-DD date")
		return nil
	}
	if upperBound {
		t = t.AddDate(0, 0, 1)
	}
	return &t
}

func (q *queryParser) Page() dto.PageRequest {
	return dto.PageRequest{Page: q.Int("page"), PageSize: q.Int("page_size")}
}

func (q *queryParser) Errors() []string { return q.errs }

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "url":
		return err.Field() + " must be an absolute URL"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "len":
		return err.Field() + " must be exactly " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
