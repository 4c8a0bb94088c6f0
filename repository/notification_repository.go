package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/Kagutsuchi/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationRepositoryImpl implements NotificationRepository
type NotificationRepositoryImpl struct {
	*BaseRepository[models.Notification, models.NotificationFilter]
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &NotificationRepositoryImpl{BaseRepository: NewBaseRepository[models.Notification](db, applyNotificationFilter)}
}

func applyNotificationFilter(db *gorm.DB, f models.NotificationFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UserID != nil {
		db = db.Where("user_id = ?", *f.UserID)
	}
	if f.Type != nil {
		db = db.Where("type = ?", *f.Type)
	}
	if f.IsRead != nil {
		db = db.Where("is_read = ?", *f.IsRead)
	}
	return db
}

func (r *NotificationRepositoryImpl) MarkRead(ctx context.Context, userID, id uint, at time.Time) (bool, error) {
	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Notification{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(map[string]any{"is_read": true, "read_at": at})
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}

func (r *NotificationRepositoryImpl) MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Notification{}).
			Where("user_id = ? AND is_read = ?", userID, false).
			Updates(map[string]any{"is_read": true, "read_at": at})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

func (r *NotificationRepositoryImpl) DeleteForUser(ctx context.Context, userID, id uint) (bool, error) {
	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}

// DeleteByRequestID removes notifications of the given type whose data.request_id matches
func (r *NotificationRepositoryImpl) DeleteByRequestID(ctx context.Context, notificationType string, requestID uint) (int64, error) {
	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Where("type = ?", notificationType).
			Where(datatypes.JSONQuery("data").Equals(strconv.FormatUint(uint64(requestID), 10), "request_id")).
			Delete(&models.Notification{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete notifications of request %d: %w", requestID, res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	return affected, err
}
