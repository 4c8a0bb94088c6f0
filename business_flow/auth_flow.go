package businessflow

import (
	"context"
	"errors"
	"strings"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/config"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthFlow handles dashboard sign-in and sessions
type AuthFlow interface {
	Captcha(ctx context.Context) (*dto.CaptchaResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest, metadata *ClientMetadata) (*dto.LoginResponse, error)
	Logout(ctx context.Context, accessToken string, req *dto.LogoutRequest) error
	Refresh(ctx context.Context, req *dto.RefreshRequest) (*dto.SessionDTO, error)
	Me(ctx context.Context, actor Actor) (*dto.UserDTO, error)
	EnsureAdmin(ctx context.Context, admin config.AdminConfig) error
}

// AuthFlowImpl implements AuthFlow
type AuthFlowImpl struct {
	userRepo   repository.UserRepository
	entityRepo repository.EntityRepository
	tokens     services.TokenService
	captcha    services.CaptchaService
	bcryptCost int
	logger     *zap.Logger
}

// NewAuthFlow builds the auth flow. A nil captcha service disables the
// captcha check on login.
func NewAuthFlow(
	userRepo repository.UserRepository,
	entityRepo repository.EntityRepository,
	tokens services.TokenService,
	captcha services.CaptchaService,
	bcryptCost int,
	logger *zap.Logger,
) AuthFlow {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthFlowImpl{
		userRepo:   userRepo,
		entityRepo: entityRepo,
		tokens:     tokens,
		captcha:    captcha,
		bcryptCost: bcryptCost,
		logger:     logger.Named("auth_flow"),
	}
}

func (f *AuthFlowImpl) Captcha(ctx context.Context) (*dto.CaptchaResponse, error) {
	if f.captcha == nil {
		return nil, NewBusinessError("CAPTCHA_DISABLED", "Captcha is disabled", ErrFeatureDisabled)
	}
	challenge, err := f.captcha.GenerateRotate(ctx)
	if err != nil {
		return nil, NewBusinessError("CAPTCHA_GENERATION_FAILED", "Failed to generate captcha", err)
	}
	return &dto.CaptchaResponse{
		ChallengeID: challenge.ID,
		MasterImage: challenge.MasterImageBase64,
		ThumbImage:  challenge.ThumbImageBase64,
		ExpiresIn:   int(challenge.ExpiresIn.Seconds()),
	}, nil
}

// Login verifies the captcha before the password. Unknown emails and wrong
// passwords return the same error.
func (f *AuthFlowImpl) Login(ctx context.Context, req *dto.LoginRequest, metadata *ClientMetadata) (*dto.LoginResponse, error) {
	if f.captcha != nil {
		if req.CaptchaID == "" || !f.captcha.VerifyRotate(ctx, req.CaptchaID, req.CaptchaAngle) {
			return nil, NewBusinessError("CAPTCHA_INVALID", "Captcha verification failed", ErrCaptchaInvalid)
		}
	}

	user, err := f.userRepo.ByEmail(ctx, req.Email)
	if err != nil {
		return nil, NewBusinessError("LOGIN_FAILED", "Login failed", err)
	}
	if user == nil {
		f.logLoginFailure(req.Email, "unknown email", metadata)
		return nil, NewBusinessError("INVALID_CREDENTIALS", "Invalid email or password", ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		f.logLoginFailure(req.Email, "wrong password", metadata)
		return nil, NewBusinessError("INVALID_CREDENTIALS", "Invalid email or password", ErrInvalidCredentials)
	}
	if !user.IsActive {
		f.logLoginFailure(req.Email, "inactive account", metadata)
		return nil, NewBusinessError("ACCOUNT_INACTIVE", "Account is inactive", ErrAccountInactive)
	}

	session, err := f.issue(user)
	if err != nil {
		return nil, err
	}

	now := utils.UTCNow()
	if err := f.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		f.logger.Warn("Failed to record last login", zap.Uint("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	entityName, err := f.entityName(ctx, user.EntityID)
	if err != nil {
		return nil, NewBusinessError("LOGIN_FAILED", "Login failed", err)
	}

	fields := []zap.Field{zap.Uint("user_id", user.ID), zap.String("role", user.Role)}
	if metadata != nil {
		fields = append(fields, zap.String("ip", metadata.IPAddress))
	}
	f.logger.Info("User logged in", fields...)

	return &dto.LoginResponse{User: ToUserDTO(user, entityName), Session: *session}, nil
}

// Logout revokes the access token and, when given, the refresh token
func (f *AuthFlowImpl) Logout(ctx context.Context, accessToken string, req *dto.LogoutRequest) error {
	if accessToken == "" {
		return NewBusinessError("UNAUTHENTICATED", "Authentication required", ErrUnauthenticated)
	}
	if err := f.tokens.RevokeToken(ctx, accessToken); err != nil {
		return NewBusinessError("LOGOUT_FAILED", "Failed to revoke access token", tokenError(err))
	}
	if req != nil && req.RefreshToken != "" {
		if err := f.tokens.RevokeToken(ctx, req.RefreshToken); err != nil {
			return NewBusinessError("LOGOUT_FAILED", "Failed to revoke refresh token", tokenError(err))
		}
	}
	return nil
}

// Refresh reissues tokens from the user's current row so role and entity
// changes take effect on the next refresh
func (f *AuthFlowImpl) Refresh(ctx context.Context, req *dto.RefreshRequest) (*dto.SessionDTO, error) {
	claims, err := f.tokens.ValidateToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, NewBusinessError("INVALID_REFRESH_TOKEN", "Invalid refresh token", tokenError(err))
	}
	if claims.TokenType != services.TokenTypeRefresh {
		return nil, NewBusinessError("INVALID_REFRESH_TOKEN", "Invalid refresh token", ErrUnauthenticated)
	}

	user, err := f.userRepo.ByID(ctx, claims.UserID)
	if err != nil {
		return nil, NewBusinessError("REFRESH_FAILED", "Failed to refresh session", err)
	}
	if user == nil {
		return nil, NewBusinessError("INVALID_REFRESH_TOKEN", "Invalid refresh token", ErrUnauthenticated)
	}
	if !user.IsActive {
		return nil, NewBusinessError("ACCOUNT_INACTIVE", "Account is inactive", ErrAccountInactive)
	}

	if err := f.tokens.RevokeToken(ctx, req.RefreshToken); err != nil {
		return nil, NewBusinessError("REFRESH_FAILED", "Failed to rotate refresh token", err)
	}
	return f.issue(user)
}

func (f *AuthFlowImpl) Me(ctx context.Context, actor Actor) (*dto.UserDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	user, err := f.userRepo.ByID(ctx, actor.UserID)
	if err != nil {
		return nil, NewBusinessError("PROFILE_FAILED", "Failed to load user", err)
	}
	if user == nil {
		return nil, NewBusinessError("USER_NOT_FOUND", "User not found", ErrUserNotFound)
	}
	entityName, err := f.entityName(ctx, user.EntityID)
	if err != nil {
		return nil, NewBusinessError("PROFILE_FAILED", "Failed to load entity", err)
	}
	out := ToUserDTO(user, entityName)
	return &out, nil
}

// EnsureAdmin creates the bootstrap admin when no account with that email
// exists. An empty email or password skips the bootstrap.
func (f *AuthFlowImpl) EnsureAdmin(ctx context.Context, admin config.AdminConfig) error {
	email := utils.NormalizeEmail(admin.Email)
	if email == "" || admin.Password == "" {
		return nil
	}
	existing, err := f.userRepo.ByEmail(ctx, email)
	if err != nil {
		return NewBusinessError("ADMIN_BOOTSTRAP_FAILED", "Failed to look up admin", err)
	}
	if existing != nil {
		if !existing.IsAdmin() {
			f.logger.Warn("Bootstrap admin email belongs to a non-admin account", zap.String("email", email))
		}
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), f.bcryptCost)
	if err != nil {
		return NewBusinessError("ADMIN_BOOTSTRAP_FAILED", "Failed to hash admin password", err)
	}
	name := strings.TrimSpace(admin.Name)
	if name == "" {
		name = "Administrator"
	}
	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		IsActive:     true,
	}
	if err := f.userRepo.Save(ctx, user); err != nil {
		return NewBusinessError("ADMIN_BOOTSTRAP_FAILED", "Failed to create admin", err)
	}
	f.logger.Info("Bootstrap admin created", zap.Uint("user_id", user.ID), zap.String("email", email))
	return nil
}

func (f *AuthFlowImpl) issue(user *models.User) (*dto.SessionDTO, error) {
	access, refresh, err := f.tokens.GenerateTokens(services.TokenSubject{
		UserID:   user.ID,
		Role:     user.Role,
		EntityID: user.EntityID,
	})
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to issue tokens", err)
	}
	return &dto.SessionDTO{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(f.tokens.AccessTokenTTL().Seconds()),
	}, nil
}

func (f *AuthFlowImpl) entityName(ctx context.Context, entityID *uint) (string, error) {
	if entityID == nil {
		return "", nil
	}
	e, err := f.entityRepo.ByID(ctx, *entityID)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", nil
	}
	return e.Name, nil
}

func (f *AuthFlowImpl) logLoginFailure(email, reason string, metadata *ClientMetadata) {
	fields := []zap.Field{zap.String("email", utils.NormalizeEmail(email)), zap.String("reason", reason)}
	if metadata != nil {
		fields = append(fields, zap.String("ip", metadata.IPAddress))
	}
	f.logger.Info("Login rejected", fields...)
}

// tokenError maps token service failures onto the unauthenticated category
func tokenError(err error) error {
	switch {
	case errors.Is(err, services.ErrTokenExpired),
		errors.Is(err, services.ErrTokenInvalid),
		errors.Is(err, services.ErrTokenRevoked):
		return errors.Join(ErrUnauthenticated, err)
	}
	return err
}
