package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/config"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	testingutil "github.com/amirphl/Kagutsuchi/testing"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type authEnv struct {
	flow     AuthFlow
	tokens   services.TokenService
	captchas *services.MemoryChallengeStore
	users    repository.UserRepository
	fx       *testingutil.TestFixtures
}

func newAuthEnv(t *testing.T, withCaptcha bool) *authEnv {
	t.Helper()
	tdb, fx := setupTestDB(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := services.NewTokenService(15*time.Minute, time.Hour, "kagutsuchi", "dashboard", false, "", "",
		"0123456789abcdef0123456789abcdef", services.NewRedisRevocationStore(client, "test:revoked:"))
	require.NoError(t, err)

	env := &authEnv{tokens: tokens, users: repository.NewUserRepository(tdb.DB), fx: fx}
	var captcha services.CaptchaService
	if withCaptcha {
		env.captchas = services.NewMemoryChallengeStore()
		captcha, err = services.NewCaptchaServiceRotate(time.Minute, 5, 120, env.captchas)
		require.NoError(t, err)
	}
	env.flow = NewAuthFlow(env.users, repository.NewEntityRepository(tdb.DB), tokens, captcha, bcrypt.MinCost, zaptest.NewLogger(t))
	return env
}

func TestAuthFlow_LoginWithCaptcha(t *testing.T) {
	env := newAuthEnv(t, true)
	ctx := context.Background()

	entity := mustEntity(t, env.fx, "Auth Local")
	lead, err := env.fx.CreateUser(models.RoleLead, &entity.ID)
	require.NoError(t, err)

	challenge, err := env.flow.Captcha(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, challenge.ChallengeID)
	assert.NotEmpty(t, challenge.MasterImage)
	assert.Equal(t, 60, challenge.ExpiresIn)

	_, err = env.flow.Login(ctx, &dto.LoginRequest{Email: lead.Email, Password: testingutil.TestPassword}, nil)
	assert.True(t, IsCaptchaInvalid(err), "captcha is mandatory when enabled")

	require.NoError(t, env.captchas.Put(ctx, "known", 90, time.Minute))
	_, err = env.flow.Login(ctx, &dto.LoginRequest{Email: lead.Email, Password: testingutil.TestPassword, CaptchaID: "known", CaptchaAngle: 200}, nil)
	assert.True(t, IsCaptchaInvalid(err))

	require.NoError(t, env.captchas.Put(ctx, "known", 90, time.Minute))
	resp, err := env.flow.Login(ctx, &dto.LoginRequest{Email: lead.Email, Password: testingutil.TestPassword, CaptchaID: "known", CaptchaAngle: 92}, NewClientMetadata("10.0.0.9", "test"))
	require.NoError(t, err)
	assert.Equal(t, lead.ID, resp.User.ID)
	assert.Equal(t, "Auth Local", resp.User.EntityName)
	assert.NotNil(t, resp.User.LastLoginAt)
	assert.Equal(t, "Bearer", resp.Session.TokenType)
	assert.Equal(t, 900, resp.Session.ExpiresIn)

	claims, err := env.tokens.ValidateToken(ctx, resp.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLead, claims.Role)
	require.NotNil(t, claims.EntityID)
	assert.Equal(t, entity.ID, *claims.EntityID)

	_, err = env.flow.Login(ctx, &dto.LoginRequest{Email: lead.Email, Password: testingutil.TestPassword, CaptchaID: "known", CaptchaAngle: 90}, nil)
	assert.True(t, IsCaptchaInvalid(err), "challenges are single use")
}

func TestAuthFlow_CredentialFailures(t *testing.T) {
	env := newAuthEnv(t, false)
	ctx := context.Background()

	user, err := env.fx.CreateUser(models.RoleMember, nil)
	require.NoError(t, err)

	_, err = env.flow.Login(ctx, &dto.LoginRequest{Email: "nobody@example.org", Password: testingutil.TestPassword}, nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.flow.Login(ctx, &dto.LoginRequest{Email: user.Email, Password: "wrong-password"}, nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := env.flow.Login(ctx, &dto.LoginRequest{Email: "  " + user.Email, Password: testingutil.TestPassword}, nil)
	require.NoError(t, err, "emails are normalized")
	assert.Equal(t, user.ID, resp.User.ID)

	require.NoError(t, env.fx.DB.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)
	_, err = env.flow.Login(ctx, &dto.LoginRequest{Email: user.Email, Password: testingutil.TestPassword}, nil)
	assert.ErrorIs(t, err, ErrAccountInactive)
	assert.True(t, IsUnauthenticated(err))

	_, err = env.flow.Captcha(ctx)
	assert.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestAuthFlow_RefreshLogoutMe(t *testing.T) {
	env := newAuthEnv(t, false)
	ctx := context.Background()

	user, err := env.fx.CreateUser(models.RoleMember, nil)
	require.NoError(t, err)
	login, err := env.flow.Login(ctx, &dto.LoginRequest{Email: user.Email, Password: testingutil.TestPassword}, nil)
	require.NoError(t, err)

	_, err = env.flow.Refresh(ctx, &dto.RefreshRequest{RefreshToken: login.Session.AccessToken})
	assert.True(t, IsUnauthenticated(err), "access tokens cannot refresh")

	entity := mustEntity(t, env.fx, "Promoted")
	require.NoError(t, env.fx.DB.DB.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]any{"role": models.RoleLead, "entity_id": entity.ID}).Error)

	session, err := env.flow.Refresh(ctx, &dto.RefreshRequest{RefreshToken: login.Session.RefreshToken})
	require.NoError(t, err)
	claims, err := env.tokens.ValidateToken(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLead, claims.Role, "refresh picks up the current role")

	_, err = env.flow.Refresh(ctx, &dto.RefreshRequest{RefreshToken: login.Session.RefreshToken})
	assert.True(t, IsUnauthenticated(err), "refresh tokens rotate")

	me, err := env.flow.Me(ctx, Actor{UserID: user.ID, Role: claims.Role, EntityID: claims.EntityID})
	require.NoError(t, err)
	assert.Equal(t, "Promoted", me.EntityName)

	require.NoError(t, env.flow.Logout(ctx, session.AccessToken, &dto.LogoutRequest{RefreshToken: session.RefreshToken}))
	_, err = env.tokens.ValidateToken(ctx, session.AccessToken)
	assert.ErrorIs(t, err, services.ErrTokenRevoked)
	_, err = env.flow.Refresh(ctx, &dto.RefreshRequest{RefreshToken: session.RefreshToken})
	assert.True(t, IsUnauthenticated(err))

	err = env.flow.Logout(ctx, "not-a-token", nil)
	assert.True(t, IsUnauthenticated(err))

	_, err = env.flow.Me(ctx, Actor{UserID: 987654, Role: models.RoleAdmin})
	assert.True(t, IsNotFound(err))
}

func TestAuthFlow_EnsureAdmin(t *testing.T) {
	env := newAuthEnv(t, false)
	ctx := context.Background()

	require.NoError(t, env.flow.EnsureAdmin(ctx, config.AdminConfig{}), "empty config skips bootstrap")

	cfg := config.AdminConfig{Email: "Root@Example.org", Password: "Bootstrap#2026", Name: "Root"}
	require.NoError(t, env.flow.EnsureAdmin(ctx, cfg))
	require.NoError(t, env.flow.EnsureAdmin(ctx, cfg), "second run is a no-op")

	admins, err := env.users.ListActiveAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "root@example.org", admins[0].Email)

	resp, err := env.flow.Login(ctx, &dto.LoginRequest{Email: "root@example.org", Password: "Bootstrap#2026"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)
}
