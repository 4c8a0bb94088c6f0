package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
)

func TestNotificationFlow_Inbox(t *testing.T) {
	tdb, fx := setupTestDB(t)
	repo := repository.NewNotificationRepository(tdb.DB)
	flow := NewNotificationFlow(repo, zaptest.NewLogger(t))
	ctx := context.Background()

	owner := adminActor(t, fx)
	other := adminActor(t, fx)

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	var ids []uint
	for i := 0; i < 3; i++ {
		n := &models.Notification{
			UserID:    owner.UserID,
			Type:      models.NotificationAllocationRequested,
			Title:     "New allocation request",
			Data:      datatypes.JSON(`{"request_id":1}`),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, repo.Save(ctx, n))
		ids = append(ids, n.ID)
	}
	foreign := &models.Notification{UserID: other.UserID, Type: models.NotificationAllocationApproved, Title: "Approved"}
	require.NoError(t, repo.Save(ctx, foreign))

	resp, err := flow.List(ctx, owner, &dto.ListNotificationsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, ids[2], resp.Items[0].ID, "newest first")
	assert.Equal(t, int64(3), resp.Unread)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.JSONEq(t, `{"request_id":1}`, string(resp.Items[0].Data))

	require.NoError(t, flow.MarkRead(ctx, owner, ids[0]))
	require.NoError(t, flow.MarkRead(ctx, owner, ids[0]), "marking twice is fine")

	err = flow.MarkRead(ctx, owner, foreign.ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	resp, err = flow.List(ctx, owner, &dto.ListNotificationsRequest{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, int64(2), resp.Unread)

	all, err := flow.MarkAllRead(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Updated)

	resp, err = flow.List(ctx, owner, nil)
	require.NoError(t, err)
	assert.Zero(t, resp.Unread)
	for _, item := range resp.Items {
		assert.True(t, item.IsRead)
		assert.NotNil(t, item.ReadAt)
	}

	require.NoError(t, flow.Delete(ctx, owner, ids[1]))
	assert.True(t, IsNotFound(flow.Delete(ctx, owner, ids[1])))
	assert.True(t, IsNotFound(flow.Delete(ctx, owner, foreign.ID)))

	stillThere, err := repo.ByID(ctx, foreign.ID)
	require.NoError(t, err)
	require.NotNil(t, stillThere)
	assert.False(t, stillThere.IsRead)

	_, err = flow.List(ctx, Actor{}, nil)
	assert.True(t, IsUnauthenticated(err))
}
