package handlers

import (
	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/middleware"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// AuthHandlerInterface defines the contract for authentication handlers
type AuthHandlerInterface interface {
	Captcha(c fiber.Ctx) error
	Login(c fiber.Ctx) error
	Logout(c fiber.Ctx) error
	Refresh(c fiber.Ctx) error
	Me(c fiber.Ctx) error
}

// AuthHandler handles dashboard authentication requests
type AuthHandler struct {
	baseHandler
	flow businessflow.AuthFlow
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(flow businessflow.AuthFlow, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		baseHandler: newBaseHandler(logger, "auth_handler"),
		flow:        flow,
	}
}

// Captcha issues a rotate captcha challenge
// @Summary Issue login captcha
// @Description Generate a rotate captcha. The client submits the angle together with the challenge id on login.
// @Tags Authentication
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.CaptchaResponse} "Captcha generated"
// @Failure 400 {object} dto.APIResponse "Captcha disabled"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/auth/captcha [post]
func (h *AuthHandler) Captcha(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/auth/captcha")
	defer cancel()

	res, err := h.flow.Captcha(ctx)
	if err != nil {
		return h.handleError(c, err, "Failed to generate captcha")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Captcha generated", res)
}

// Login authenticates a dashboard user
// @Summary Login
// @Description Authenticate with email and password. When captcha is enabled captcha_id and captcha_angle are required.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Login credentials"
// @Success 200 {object} dto.APIResponse{data=dto.LoginResponse} "Login successful"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid credentials, inactive account or failed captcha"
// @Failure 429 {object} dto.APIResponse "Rate limit exceeded"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var req dto.LoginRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/auth/login")
	defer cancel()

	res, err := h.flow.Login(ctx, &req, clientMetadata(c))
	if err != nil {
		return h.handleError(c, err, "Login failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Login successful", res)
}

// Logout revokes the current access token and, optionally, a refresh token
// @Summary Logout
// @Tags Authentication
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.LogoutRequest false "Refresh token to revoke"
// @Success 200 {object} dto.APIResponse "Logged out"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.invalidBody(c, err)
		}
	}

	ctx, cancel := h.createRequestContext(c, "/api/auth/logout")
	defer cancel()

	if err := h.flow.Logout(ctx, middleware.GetAccessTokenFromContext(c), &req); err != nil {
		return h.handleError(c, err, "Logout failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Logged out", nil)
}

// Refresh exchanges a refresh token for a new token pair
// @Summary Refresh session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.RefreshRequest true "Refresh token"
// @Success 200 {object} dto.APIResponse{data=dto.SessionDTO} "Session refreshed"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid, expired or revoked refresh token"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var req dto.RefreshRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/auth/refresh")
	defer cancel()

	res, err := h.flow.Refresh(ctx, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to refresh session")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Session refreshed", res)
}

// Me returns the authenticated user
// @Summary Current user
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=dto.UserDTO} "Current user"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/auth/me [get]
func (h *AuthHandler) Me(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/auth/me")
	defer cancel()

	res, err := h.flow.Me(ctx, actor)
	if err != nil {
		return h.handleError(c, err, "Failed to load user")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "User retrieved", res)
}
