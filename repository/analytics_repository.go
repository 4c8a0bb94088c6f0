package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/Kagutsuchi/models"
	"gorm.io/gorm"
)

// AnalyticsFilter is the common filter of the dashboard aggregations
type AnalyticsFilter struct {
	FormID            *uint
	FormType          *string
	EntityID          *uint
	UniID             *int64
	From              *time.Time
	To                *time.Time
	IncludeDuplicates bool
}

// FunnelCounts are the totals behind the funnel view
type FunnelCounts struct {
	Total      int64
	Duplicates int64
	Allocated  int64
	WithUTM    int64
}

// UTMGroupCount counts submissions per trimmed UTM value combination
type UTMGroupCount struct {
	Campaign string
	Source   string
	Medium   string
	Count    int64
}

// WeekCount counts submissions per ISO week, keyed by its Monday (YYYY-MM-DD, UTC)
type WeekCount struct {
	WeekStart string
	Count     int64
}

// ValueCount counts submissions per case-folded response value. ValueKey is
// empty for submissions without a value.
type ValueCount struct {
	ValueKey string
	Label    string
	Count    int64
}

// AttributionGroup counts submissions sharing the inputs of campaign attribution
type AttributionGroup struct {
	FormID    uint
	EntityID  *uint
	Campaign  string
	UTMTagged int64
	Count     int64
}

const (
	hasUTMExpr = `(COALESCE(form_submissions.utm_campaign, '') <> '' OR COALESCE(form_submissions.utm_source, '') <> ''
		OR COALESCE(form_submissions.utm_medium, '') <> '' OR COALESCE(form_submissions.utm_name, '') <> '')`
	utmCampaignExpr = "TRIM(COALESCE(form_submissions.utm_campaign, ''))"
	utmSourceExpr   = "TRIM(COALESCE(form_submissions.utm_source, ''))"
	utmMediumExpr   = "TRIM(COALESCE(form_submissions.utm_medium, ''))"
	responseExpr    = `(SELECT TRIM(r.value) FROM form_responses r JOIN form_fields ff ON ff.id = r.field_id
		WHERE r.submission_id = form_submissions.id AND ff.field_name = ? AND TRIM(r.value) <> '' ORDER BY r.id LIMIT 1)`
)

// AnalyticsRepositoryImpl implements AnalyticsRepository
type AnalyticsRepositoryImpl struct {
	*BaseRepository[models.FormSubmission, AnalyticsFilter]
}

func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &AnalyticsRepositoryImpl{BaseRepository: NewBaseRepository[models.FormSubmission](db, applyAnalyticsFilter)}
}

func applyAnalyticsFilter(db *gorm.DB, f AnalyticsFilter) *gorm.DB {
	if f.FormID != nil {
		db = db.Where("form_submissions.form_id = ?", *f.FormID)
	}
	if f.FormType != nil {
		db = db.Where("form_submissions.form_id IN (SELECT id FROM forms WHERE type = ?)", *f.FormType)
	}
	if f.EntityID != nil {
		db = db.Where("form_submissions.entity_id = ?", *f.EntityID)
	}
	if f.UniID != nil {
		db = db.Where(`EXISTS (SELECT 1 FROM form_responses r JOIN form_fields ff ON ff.id = r.field_id
			WHERE r.submission_id = form_submissions.id AND ff.field_name = ? AND r.value = ?)`,
			models.FieldNameUni, fmt.Sprintf("%d", *f.UniID))
	}
	if f.From != nil {
		db = db.Where("form_submissions.submitted_at >= ?", *f.From)
	}
	if f.To != nil {
		db = db.Where("form_submissions.submitted_at < ?", *f.To)
	}
	if !f.IncludeDuplicates {
		db = db.Where("form_submissions.duplicated = ?", false)
	}
	return db
}

func (r *AnalyticsRepositoryImpl) submissions(ctx context.Context, filter AnalyticsFilter) *gorm.DB {
	return applyAnalyticsFilter(r.getDB(ctx).Model(&models.FormSubmission{}), filter)
}

// Funnel counts totals, duplicates, allocations and UTM-tagged rows in one pass
func (r *AnalyticsRepositoryImpl) Funnel(ctx context.Context, filter AnalyticsFilter) (FunnelCounts, error) {
	var out FunnelCounts
	err := r.submissions(ctx, filter).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN form_submissions.duplicated THEN 1 ELSE 0 END), 0) AS duplicates,
			COALESCE(SUM(CASE WHEN form_submissions.entity_id IS NOT NULL THEN 1 ELSE 0 END), 0) AS allocated,
			COALESCE(SUM(CASE WHEN ` + hasUTMExpr + ` THEN 1 ELSE 0 END), 0) AS with_utm`).
		Scan(&out).Error
	if err != nil {
		return FunnelCounts{}, fmt.Errorf("failed to count funnel: %w", err)
	}
	return out, nil
}

// ChannelCounts groups submissions by source and medium. Campaign is left empty.
func (r *AnalyticsRepositoryImpl) ChannelCounts(ctx context.Context, filter AnalyticsFilter) ([]UTMGroupCount, error) {
	var rows []UTMGroupCount
	err := r.submissions(ctx, filter).
		Select(utmSourceExpr + " AS source, " + utmMediumExpr + " AS medium, COUNT(*) AS count").
		Group(utmSourceExpr + ", " + utmMediumExpr).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count channels: %w", err)
	}
	return rows, nil
}

// UTMCombinationCounts groups UTM-tagged submissions by campaign, source and medium
func (r *AnalyticsRepositoryImpl) UTMCombinationCounts(ctx context.Context, filter AnalyticsFilter) ([]UTMGroupCount, error) {
	var rows []UTMGroupCount
	err := r.submissions(ctx, filter).
		Where(hasUTMExpr).
		Select(utmCampaignExpr + " AS campaign, " + utmSourceExpr + " AS source, " + utmMediumExpr + " AS medium, COUNT(*) AS count").
		Group(utmCampaignExpr + ", " + utmSourceExpr + ", " + utmMediumExpr).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count utm combinations: %w", err)
	}
	return rows, nil
}

// WeeklyCounts groups submissions by the Monday of their UTC ISO week, oldest first
func (r *AnalyticsRepositoryImpl) WeeklyCounts(ctx context.Context, filter AnalyticsFilter) ([]WeekCount, error) {
	db := r.submissions(ctx, filter)
	week := weekStartExpr(db)
	var rows []WeekCount
	err := db.Select(week + " AS week_start, COUNT(*) AS count").
		Group(week).
		Order(week + " ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count weekly submissions: %w", err)
	}
	return rows, nil
}

// ResponseValueCounts groups submissions by the first non-empty response among
// fieldNames, in priority order
func (r *AnalyticsRepositoryImpl) ResponseValueCounts(ctx context.Context, filter AnalyticsFilter, fieldNames ...string) ([]ValueCount, error) {
	return r.valueCounts(ctx, filter, fieldNames, "")
}

// CohortCounts groups submissions by the first non-empty cohort response,
// falling back to the UTC year of submission
func (r *AnalyticsRepositoryImpl) CohortCounts(ctx context.Context, filter AnalyticsFilter, fieldNames ...string) ([]ValueCount, error) {
	return r.valueCounts(ctx, filter, fieldNames, submittedYearExpr(r.getDB(ctx)))
}

func (r *AnalyticsRepositoryImpl) valueCounts(ctx context.Context, filter AnalyticsFilter, fieldNames []string, fallback string) ([]ValueCount, error) {
	parts := make([]string, 0, len(fieldNames)+1)
	args := make([]any, 0, len(fieldNames))
	for _, name := range fieldNames {
		parts = append(parts, responseExpr)
		args = append(args, name)
	}
	if fallback != "" {
		parts = append(parts, fallback)
	}
	var value string
	switch len(parts) {
	case 0:
		value = "NULL"
	case 1:
		value = parts[0]
	default:
		value = "COALESCE(" + strings.Join(parts, ", ") + ")"
	}

	inner := r.submissions(ctx, filter).Select(value+" AS v", args...)
	var rows []ValueCount
	err := r.getDB(ctx).Table("(?) AS t", inner).
		Select("COALESCE(LOWER(t.v), '') AS value_key, COALESCE(MIN(t.v), '') AS label, COUNT(*) AS count").
		Group("COALESCE(LOWER(t.v), '')").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count response values: %w", err)
	}
	return rows, nil
}

// AttributionGroups groups submissions by form, entity, case-folded campaign
// code and whether any UTM parameter was captured
func (r *AnalyticsRepositoryImpl) AttributionGroups(ctx context.Context, filter AnalyticsFilter) ([]AttributionGroup, error) {
	campaign := "LOWER(" + utmCampaignExpr + ")"
	tagged := "CASE WHEN " + hasUTMExpr + " THEN 1 ELSE 0 END"
	var rows []AttributionGroup
	err := r.submissions(ctx, filter).
		Select("form_submissions.form_id AS form_id, form_submissions.entity_id AS entity_id, " +
			campaign + " AS campaign, " + tagged + " AS utm_tagged, COUNT(*) AS count").
		Group("form_submissions.form_id, form_submissions.entity_id, " + campaign + ", " + tagged).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group attribution inputs: %w", err)
	}
	return rows, nil
}

func weekStartExpr(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return "date(form_submissions.submitted_at, '-6 days', 'weekday 1')"
	}
	return "to_char(date_trunc('week', form_submissions.submitted_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD')"
}

func submittedYearExpr(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return "strftime('%Y', form_submissions.submitted_at)"
	}
	return "to_char(form_submissions.submitted_at AT TIME ZONE 'UTC', 'YYYY')"
}

// Campaigns returns the active campaigns of the given forms, or of all forms when none are given
func (r *AnalyticsRepositoryImpl) Campaigns(ctx context.Context, formIDs []uint) ([]*models.UtmCampaign, error) {
	query := r.getDB(ctx).Model(&models.UtmCampaign{}).Where("is_active = ?", true)
	if len(formIDs) > 0 {
		query = query.Where("form_id IN ?", formIDs)
	}
	var rows []*models.UtmCampaign
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load campaigns: %w", err)
	}
	return rows, nil
}
