package dto

// CaptchaResponse carries a rotate captcha challenge
type CaptchaResponse struct {
	ChallengeID string `json:"challenge_id" example:"0b6c7f0e-7a43-4d59-9b36-8f2f4e1a7e21"`
	MasterImage string `json:"master_image"`
	ThumbImage  string `json:"thumb_image"`
	ExpiresIn   int    `json:"expires_in" example:"120"`
}

// LoginRequest represents the request payload for dashboard login
type LoginRequest struct {
	Email        string  `json:"email" validate:"required,email,max=255" example:"lead@example.org"`
	Password     string  `json:"password" validate:"required,min=8,max=100" example:"SecurePass123!"`
	CaptchaID    string  `json:"captcha_id" validate:"omitempty,max=64"`
	CaptchaAngle float64 `json:"captcha_angle" validate:"omitempty,gte=0,lte=360"`
}

// UserDTO is a dashboard account as returned by the API
type UserDTO struct {
	ID          uint    `json:"id" example:"12"`
	Email       string  `json:"email" example:"lead@example.org"`
	Name        string  `json:"name" example:"Sara"`
	Role        string  `json:"role" example:"lead"`
	EntityID    *uint   `json:"entity_id,omitempty" example:"7"`
	EntityName  string  `json:"entity_name,omitempty" example:"Tehran"`
	IsActive    bool    `json:"is_active"`
	LastLoginAt *string `json:"last_login_at,omitempty"`
	CreatedAt   string  `json:"created_at" example:"2026-10-01T09:00:00Z"`
}

// SessionDTO carries issued tokens
type SessionDTO struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type" example:"Bearer"`
	ExpiresIn    int    `json:"expires_in" example:"86400"`
}

// LoginResponse is returned on successful login
type LoginResponse struct {
	User    UserDTO    `json:"user"`
	Session SessionDTO `json:"session"`
}

// RefreshRequest exchanges a refresh token for a new pair
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally revokes the refresh token too
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}
