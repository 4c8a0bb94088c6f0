package businessflow

import (
	"context"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"go.uber.org/zap"
)

// NotificationFlow serves the in-app inbox of the current user
type NotificationFlow interface {
	List(ctx context.Context, actor Actor, req *dto.ListNotificationsRequest) (*dto.ListNotificationsResponse, error)
	MarkRead(ctx context.Context, actor Actor, id uint) error
	MarkAllRead(ctx context.Context, actor Actor) (*dto.MarkAllReadResponse, error)
	Delete(ctx context.Context, actor Actor, id uint) error
}

// NotificationFlowImpl implements NotificationFlow
type NotificationFlowImpl struct {
	notificationRepo repository.NotificationRepository
	logger           *zap.Logger
}

func NewNotificationFlow(notificationRepo repository.NotificationRepository, logger *zap.Logger) NotificationFlow {
	return &NotificationFlowImpl{
		notificationRepo: notificationRepo,
		logger:           logger.Named("notification_flow"),
	}
}

func (f *NotificationFlowImpl) List(ctx context.Context, actor Actor, req *dto.ListNotificationsRequest) (*dto.ListNotificationsResponse, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	if req == nil {
		req = &dto.ListNotificationsRequest{}
	}
	page, size, offset := paging(req.PageRequest)

	filter := models.NotificationFilter{UserID: &actor.UserID}
	if req.UnreadOnly {
		filter.IsRead = utils.ToPtr(false)
	}
	rows, err := f.notificationRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", size, offset)
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_LIST_FAILED", "Failed to list notifications", err)
	}
	total, err := f.notificationRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_LIST_FAILED", "Failed to count notifications", err)
	}
	unread, err := f.notificationRepo.Count(ctx, models.NotificationFilter{UserID: &actor.UserID, IsRead: utils.ToPtr(false)})
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_LIST_FAILED", "Failed to count unread notifications", err)
	}

	items := make([]dto.NotificationDTO, 0, len(rows))
	for _, n := range rows {
		items = append(items, ToNotificationDTO(n))
	}
	return &dto.ListNotificationsResponse{
		Items:      items,
		Unread:     unread,
		Pagination: dto.Pagination{Page: page, PageSize: size, Total: total},
	}, nil
}

// MarkRead is idempotent for notifications the user owns
func (f *NotificationFlowImpl) MarkRead(ctx context.Context, actor Actor, id uint) error {
	if err := requireUser(actor); err != nil {
		return NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	ok, err := f.notificationRepo.MarkRead(ctx, actor.UserID, id, utils.UTCNow())
	if err != nil {
		return NewBusinessError("NOTIFICATION_UPDATE_FAILED", "Failed to mark notification as read", err)
	}
	if !ok {
		return NewBusinessError("NOTIFICATION_NOT_FOUND", "Notification not found", ErrNotificationNotFound)
	}
	return nil
}

func (f *NotificationFlowImpl) MarkAllRead(ctx context.Context, actor Actor) (*dto.MarkAllReadResponse, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	updated, err := f.notificationRepo.MarkAllRead(ctx, actor.UserID, utils.UTCNow())
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_UPDATE_FAILED", "Failed to mark notifications as read", err)
	}
	f.logger.Debug("Notifications marked read", zap.Uint("user_id", actor.UserID), zap.Int64("updated", updated))
	return &dto.MarkAllReadResponse{Updated: updated}, nil
}

func (f *NotificationFlowImpl) Delete(ctx context.Context, actor Actor, id uint) error {
	if err := requireUser(actor); err != nil {
		return NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	ok, err := f.notificationRepo.DeleteForUser(ctx, actor.UserID, id)
	if err != nil {
		return NewBusinessError("NOTIFICATION_DELETE_FAILED", "Failed to delete notification", err)
	}
	if !ok {
		return NewBusinessError("NOTIFICATION_NOT_FOUND", "Notification not found", ErrNotificationNotFound)
	}
	return nil
}
