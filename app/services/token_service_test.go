package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing-32-chars"

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService(t *testing.T, store RevocationStore) TokenService {
	t.Helper()
	svc, err := NewTokenService(
		15*time.Minute,
		7*24*time.Hour,
		"test-issuer",
		"test-audience",
		false, // useRSAKeys
		"",    // privateKeyPEM
		"",    // publicKeyPEM
		testSecret,
		store,
	)
	require.NoError(t, err)
	return svc
}

func newRedisStore(t *testing.T) (*RedisRevocationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRevocationStore(client, "test:"), mr
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		useRSAKeys  bool
		secretKey   string
		expectError bool
	}{
		{name: "valid symmetric key configuration", secretKey: testSecret},
		{name: "missing secret key", secretKey: "", expectError: true},
		{name: "rsa without keys", useRSAKeys: true, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(15*time.Minute, time.Hour, "iss", "aud", tt.useRSAKeys, "", "", tt.secretKey, nil)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, service)
		})
	}
}

func TestGenerateAndValidateTokens(t *testing.T) {
	svc := createTestTokenService(t, nil)
	entityID := uint(7)

	access, refresh, err := svc.GenerateTokens(TokenSubject{UserID: 42, Role: "lead", EntityID: &entityID})
	require.NoError(t, err)
	assert.NotEqual(t, access, refresh)

	claims, err := svc.ValidateToken(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "lead", claims.Role)
	require.NotNil(t, claims.EntityID)
	assert.Equal(t, uint(7), *claims.EntityID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.NotEmpty(t, claims.TokenID)

	refreshClaims, err := svc.ValidateToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, refreshClaims.TokenType)
}

func TestValidateToken_AdminWithoutEntity(t *testing.T) {
	svc := createTestTokenService(t, nil)
	access, _, err := svc.GenerateTokens(TokenSubject{UserID: 1, Role: "admin"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), access)
	require.NoError(t, err)
	assert.Nil(t, claims.EntityID)
}

func TestValidateToken_Rejections(t *testing.T) {
	svc := createTestTokenService(t, nil)
	other, err := NewTokenService(15*time.Minute, time.Hour, "test-issuer", "other-audience", false, "", "", testSecret, nil)
	require.NoError(t, err)
	foreign, _, err := other.GenerateTokens(TokenSubject{UserID: 1, Role: "admin"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrTokenInvalid},
		{"garbage", "not.a.jwt", ErrTokenInvalid},
		{"wrong audience", foreign, ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenExpiration(t *testing.T) {
	svc, err := NewTokenService(time.Second, time.Second, "iss", "aud", false, "", "", testSecret, nil)
	require.NoError(t, err)
	access, _, err := svc.GenerateTokens(TokenSubject{UserID: 1, Role: "admin"})
	require.NoError(t, err)

	time.Sleep(2100 * time.Millisecond)
	_, err = svc.ValidateToken(context.Background(), access)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRevokeToken_Redis(t *testing.T) {
	store, mr := newRedisStore(t)
	svc := createTestTokenService(t, store)
	ctx := context.Background()

	access, _, err := svc.GenerateTokens(TokenSubject{UserID: 9, Role: "member"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(ctx, access)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeToken(ctx, access))
	assert.True(t, mr.Exists("test:revoked:"+claims.TokenID))
	assert.InDelta(t, (15 * time.Minute).Seconds(), mr.TTL("test:revoked:"+claims.TokenID).Seconds(), 5)

	_, err = svc.ValidateToken(ctx, access)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRevokedCheck_StoreFailureFailsOpen(t *testing.T) {
	store, mr := newRedisStore(t)
	svc := createTestTokenService(t, store)
	access, _, err := svc.GenerateTokens(TokenSubject{UserID: 9, Role: "member"})
	require.NoError(t, err)

	mr.Close()
	_, err = svc.ValidateToken(context.Background(), access)
	assert.NoError(t, err)
}

func TestRefreshToken(t *testing.T) {
	svc := createTestTokenService(t, NewMemoryRevocationStore())
	ctx := context.Background()

	access, refresh, err := svc.GenerateTokens(TokenSubject{UserID: 3, Role: "admin"})
	require.NoError(t, err)

	_, _, err = svc.RefreshToken(ctx, access)
	assert.ErrorIs(t, err, ErrTokenInvalid, "access tokens cannot refresh")

	newAccess, newRefresh, err := svc.RefreshToken(ctx, refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, newAccess)
	assert.NotEmpty(t, newRefresh)

	_, _, err = svc.RefreshToken(ctx, refresh)
	assert.ErrorIs(t, err, ErrTokenRevoked, "refresh tokens are single use")
}

func TestConcurrentTokenGeneration(t *testing.T) {
	svc := createTestTokenService(t, nil)
	const n = 20

	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			access, _, err := svc.GenerateTokens(TokenSubject{UserID: uint(i + 1), Role: "member"})
			assert.NoError(t, err)
			tokens[i] = access
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, tok := range tokens {
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func BenchmarkGenerateTokens(b *testing.B) {
	svc, _ := NewTokenService(15*time.Minute, time.Hour, "iss", "aud", false, "", "", testSecret, nil)
	for i := 0; i < b.N; i++ {
		_, _, _ = svc.GenerateTokens(TokenSubject{UserID: 1, Role: "admin"})
	}
}
