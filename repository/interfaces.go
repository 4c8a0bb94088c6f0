// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Kagutsuchi/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// UserRepository defines operations for dashboard users
type UserRepository interface {
	Repository[models.User, models.UserFilter]
	ByEmail(ctx context.Context, email string) (*models.User, error)
	ListActiveAdmins(ctx context.Context) ([]*models.User, error)
	UpdateLastLogin(ctx context.Context, userID uint, at time.Time) error
}

// EntityRepository defines operations for entities
type EntityRepository interface {
	Repository[models.Entity, models.EntityFilter]
	ByName(ctx context.Context, name string) (*models.Entity, error)
}

// UniMappingRepository defines operations for university mappings
type UniMappingRepository interface {
	Repository[models.UniMapping, models.UniMappingFilter]
	ByUniID(ctx context.Context, uniID int64) (*models.UniMapping, error)
	ByUniName(ctx context.Context, name string) (*models.UniMapping, error)
}

// FormRepository defines operations for forms
type FormRepository interface {
	Repository[models.Form, models.FormFilter]
	ByCode(ctx context.Context, code string) (*models.Form, error)
	Update(ctx context.Context, form *models.Form) error
	Delete(ctx context.Context, id uint) error
}

// FormFieldRepository defines operations for form fields
type FormFieldRepository interface {
	Repository[models.FormField, models.FormFieldFilter]
	ListByForm(ctx context.Context, formID uint) ([]*models.FormField, error)
	MaxSortOrder(ctx context.Context, formID uint) (int, error)
	UpdateSortOrders(ctx context.Context, formID uint, order map[uint]int) error
	Update(ctx context.Context, field *models.FormField) error
	Delete(ctx context.Context, id uint) error
}

// FormSubmissionRepository defines operations for submissions
type FormSubmissionRepository interface {
	Repository[models.FormSubmission, models.FormSubmissionFilter]
	ListIdentityCandidates(ctx context.Context, formID uint, emails, phones []string) ([]*models.FormSubmission, error)
	ListByForm(ctx context.Context, formID uint) ([]*models.FormSubmission, error)
	SetDuplicated(ctx context.Context, ids []uint, duplicated bool) error
	SetEntity(ctx context.Context, submissionID uint, entityID uint) error
	WithResponses(ctx context.Context, ids []uint) ([]*models.FormSubmission, error)
	Delete(ctx context.Context, id uint) error
}

// FormResponseRepository defines operations for submission responses
type FormResponseRepository interface {
	Repository[models.FormResponse, models.FormResponseFilter]
	ListBySubmissionIDs(ctx context.Context, submissionIDs []uint) ([]*models.FormResponse, error)
}

// AllocationRequestRepository defines operations for allocation requests
type AllocationRequestRepository interface {
	Repository[models.AllocationRequest, models.AllocationRequestFilter]
	ByIDForUpdate(ctx context.Context, id uint) (*models.AllocationRequest, error)
	Update(ctx context.Context, req *models.AllocationRequest) error
	Delete(ctx context.Context, id uint) error
}

// UtmCampaignRepository defines operations for UTM campaigns
type UtmCampaignRepository interface {
	Repository[models.UtmCampaign, models.UtmCampaignFilter]
	Update(ctx context.Context, campaign *models.UtmCampaign) error
	Delete(ctx context.Context, id uint) error
}

// UtmSourceRepository defines operations for UTM sources
type UtmSourceRepository interface {
	Repository[models.UtmSource, models.UtmVocabFilter]
}

// UtmMediumRepository defines operations for UTM mediums
type UtmMediumRepository interface {
	Repository[models.UtmMedium, models.UtmVocabFilter]
}

// HubSettingRepository defines operations for hub base URL settings
type HubSettingRepository interface {
	ByHubType(ctx context.Context, hubType string) (*models.HubSetting, error)
	List(ctx context.Context) ([]*models.HubSetting, error)
	Upsert(ctx context.Context, setting *models.HubSetting) error
}

// UtmLinkRepository defines operations for generated links
type UtmLinkRepository interface {
	Repository[models.UtmLink, models.UtmLinkFilter]
	SetTrackingURL(ctx context.Context, id uint, trackingURL string) error
	SetShortURL(ctx context.Context, id uint, shortURL string) error
	IncrementClicks(ctx context.Context, id uint, unique bool, at time.Time) error
	Delete(ctx context.Context, id uint) error
}

// ClickLogRepository defines operations for click events
type ClickLogRepository interface {
	Repository[models.ClickLog, models.ClickLogFilter]
}

// NotificationRepository defines operations for notifications
type NotificationRepository interface {
	Repository[models.Notification, models.NotificationFilter]
	MarkRead(ctx context.Context, userID, id uint, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error)
	DeleteForUser(ctx context.Context, userID, id uint) (bool, error)
	DeleteByRequestID(ctx context.Context, notificationType string, requestID uint) (int64, error)
}

// LookupRepository resolves labels of database-backed form fields
type LookupRepository interface {
	ExactLabel(ctx context.Context, src LookupSource, label string) (*LookupRow, error)
	ContainedLabel(ctx context.Context, src LookupSource, input string) (*LookupRow, error)
	LabelContaining(ctx context.Context, src LookupSource, input string) (*LookupRow, error)
}

// AnalyticsRepository serves the read-only dashboard aggregations
type AnalyticsRepository interface {
	Funnel(ctx context.Context, filter AnalyticsFilter) (FunnelCounts, error)
	ChannelCounts(ctx context.Context, filter AnalyticsFilter) ([]UTMGroupCount, error)
	UTMCombinationCounts(ctx context.Context, filter AnalyticsFilter) ([]UTMGroupCount, error)
	WeeklyCounts(ctx context.Context, filter AnalyticsFilter) ([]WeekCount, error)
	ResponseValueCounts(ctx context.Context, filter AnalyticsFilter, fieldNames ...string) ([]ValueCount, error)
	CohortCounts(ctx context.Context, filter AnalyticsFilter, fieldNames ...string) ([]ValueCount, error)
	AttributionGroups(ctx context.Context, filter AnalyticsFilter) ([]AttributionGroup, error)
	Campaigns(ctx context.Context, formIDs []uint) ([]*models.UtmCampaign, error)
}
