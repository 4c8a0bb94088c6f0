package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeStores(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	stores := map[string]ChallengeStore{
		"memory": NewMemoryChallengeStore(),
		"redis":  NewRedisChallengeStore(client, "test:"),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, "c1", 135, time.Minute))

			angle, ok, err := store.Take(ctx, "c1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 135, angle)

			_, ok, err = store.Take(ctx, "c1")
			require.NoError(t, err)
			assert.False(t, ok, "challenges are single use")

			_, ok, err = store.Take(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryChallengeStore_Expiry(t *testing.T) {
	store := NewMemoryChallengeStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "c1", 10, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := store.Take(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCaptchaService_GenerateAndVerify(t *testing.T) {
	store := NewMemoryChallengeStore()
	svc, err := NewCaptchaServiceRotate(time.Minute, 5, 160, store)
	require.NoError(t, err)
	ctx := context.Background()

	ch, err := svc.GenerateRotate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)
	assert.NotEmpty(t, ch.MasterImageBase64)
	assert.NotEmpty(t, ch.ThumbImageBase64)

	// peek at the stored target, then put it back for verification
	target, ok, err := store.Take(ctx, ch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Put(ctx, ch.ID, target, time.Minute))

	assert.True(t, svc.VerifyRotate(ctx, ch.ID, float64(target)))
	assert.False(t, svc.VerifyRotate(ctx, ch.ID, float64(target)), "replay is rejected")
}
