package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	testingutil "github.com/amirphl/Kagutsuchi/testing"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func uintPtr(v uint) *uint { return &v }

func TestAttribute(t *testing.T) {
	const form = uint(1)
	local, emt, other := uint(10), uint(20), uint(30)
	index := NewCampaignIndex([]*models.UtmCampaign{
		{FormID: form, Code: "Local-Spring", EntityID: &local, IsActive: true},
		{FormID: form, Code: "emt-push", EntityID: &emt, IsActive: true},
		{FormID: form, Code: "orphan", IsActive: true},
		{FormID: 2, Code: "other-form", EntityID: &local, IsActive: true},
		{FormID: form, Code: "retired", EntityID: &local},
		{FormID: form, Code: "retired-emt", EntityID: &emt},
	})

	tests := []struct {
		name string
		sub  models.FormSubmission
		want string
	}{
		{"campaign owned by the submission entity", models.FormSubmission{FormID: form, EntityID: &local, UtmCampaign: "local-spring"}, AttributionExactMatch},
		{"campaign owned by EMT", models.FormSubmission{FormID: form, EntityID: &local, UtmCampaign: "emt-push"}, AttributionEMTFallback},
		{"EMT campaign on unallocated row", models.FormSubmission{FormID: form, UtmCampaign: "emt-push"}, AttributionEMTFallback},
		{"no utm at all", models.FormSubmission{FormID: form, EntityID: &local}, AttributionOrganic},
		{"campaign owned by another entity", models.FormSubmission{FormID: form, EntityID: &other, UtmCampaign: "local-spring"}, AttributionOtherSource},
		{"unowned campaign", models.FormSubmission{FormID: form, EntityID: &local, UtmCampaign: "orphan"}, AttributionOtherSource},
		{"unknown campaign", models.FormSubmission{FormID: form, EntityID: &local, UtmCampaign: "nope"}, AttributionOtherSource},
		{"source only", models.FormSubmission{FormID: form, UtmSource: "instagram"}, AttributionOtherSource},
		{"campaign of another form", models.FormSubmission{FormID: form, EntityID: &local, UtmCampaign: "other-form"}, AttributionOtherSource},
		{"inactive campaign owned by the submission entity", models.FormSubmission{FormID: form, EntityID: &local, UtmCampaign: "retired"}, AttributionOtherSource},
		{"inactive EMT campaign", models.FormSubmission{FormID: form, EntityID: &local, UtmCampaign: "retired-emt"}, AttributionOtherSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Attribute(&tt.sub, index, &emt))
		})
	}

	t.Run("no EMT entity", func(t *testing.T) {
		sub := models.FormSubmission{FormID: form, UtmCampaign: "emt-push"}
		assert.Equal(t, AttributionOtherSource, Attribute(&sub, index, nil))
	})
}

func TestAgeBucket(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		want string
	}{
		{"2010", "<18"},
		{"2008-06-16", "<18"},
		{"2008-06-15", "18-20"},
		{"2004", "21-23"},
		{"25/12/2001", "24-26"},
		{"12/25/2001", "24-26"},
		{"1996-01-01", "27-30"},
		{"1995-06-16", "27-30"},
		{"1995-06-14", "30+"},
		{"1980", "30+"},
		{"", "unknown"},
		{"next year", "unknown"},
		{"2030", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ageBucket(tt.raw, now))
		})
	}
}

func TestWeeklyTrend_ZeroFillsGaps(t *testing.T) {
	// 2026-10-05 and 2026-10-19 are Mondays
	weeks := []repository.WeekCount{
		{WeekStart: "2026-10-05", Count: 2},
		{WeekStart: "2026-10-19", Count: 1},
	}
	points, err := weeklyTrend(weeks, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []dto.TrendPoint{
		{WeekStart: "2026-10-05", Count: 2},
		{WeekStart: "2026-10-12", Count: 0},
		{WeekStart: "2026-10-19", Count: 1},
	}, points)

	from := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)
	ranged, err := weeklyTrend(weeks, &from, &to)
	require.NoError(t, err)
	require.Len(t, ranged, 4)
	assert.Equal(t, "2026-09-28", ranged[0].WeekStart)
	assert.Equal(t, "2026-10-19", ranged[3].WeekStart)

	empty, err := weeklyTrend(nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = weeklyTrend([]repository.WeekCount{{WeekStart: "week 41", Count: 1}}, nil, nil)
	assert.Error(t, err)
}

func TestAnalyticsFlow_CountsInDatabase(t *testing.T) {
	admin := Actor{UserID: 1, Role: models.RoleAdmin}

	t.Run("funnel is one aggregate query", func(t *testing.T) {
		db, mock := newMockGorm(t)
		flow := NewAnalyticsFlow(repository.NewAnalyticsRepository(db), nil, nil, nil, zaptest.NewLogger(t))
		mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) AS total,.*SUM\(CASE WHEN form_submissions\.duplicated.*AS with_utm FROM "form_submissions" WHERE form_submissions\.duplicated = \$1`).
			WithArgs(false).
			WillReturnRows(sqlmock.NewRows([]string{"total", "duplicates", "allocated", "with_utm"}).AddRow(10, 0, 6, 4))

		funnel, err := flow.Funnel(context.Background(), admin, &dto.AnalyticsRequest{})
		require.NoError(t, err)
		assert.Equal(t, dto.FunnelResponse{Total: 10, Unique: 10, Allocated: 6, Unallocated: 4, Organic: 6, WithUTM: 4}, *funnel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("trend groups by week", func(t *testing.T) {
		db, mock := newMockGorm(t)
		flow := NewAnalyticsFlow(repository.NewAnalyticsRepository(db), nil, nil, nil, zaptest.NewLogger(t))
		mock.ExpectQuery(`(?s)SELECT to_char\(date_trunc\('week'.*AS week_start, COUNT\(\*\) AS count FROM "form_submissions".*GROUP BY to_char`).
			WithArgs(false).
			WillReturnRows(sqlmock.NewRows([]string{"week_start", "count"}).
				AddRow("2026-10-05", 3).
				AddRow("2026-10-19", 1))

		trend, err := flow.Trend(context.Background(), admin, &dto.AnalyticsRequest{})
		require.NoError(t, err)
		assert.Equal(t, []dto.TrendPoint{
			{WeekStart: "2026-10-05", Count: 3},
			{WeekStart: "2026-10-12", Count: 0},
			{WeekStart: "2026-10-19", Count: 1},
		}, trend.Points)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

type analyticsFixture struct {
	fx     *testingutil.TestFixtures
	flow   *AnalyticsFlowImpl
	admin  Actor
	local  *models.Entity
	emt    *models.Entity
	form   *models.Form
	fields map[string]*models.FormField
}

func newAnalyticsFixture(t *testing.T, cache services.ResultCache) *analyticsFixture {
	t.Helper()
	tdb, fx := setupTestDB(t)
	db := tdb.DB
	flow := NewAnalyticsFlow(
		repository.NewAnalyticsRepository(db),
		repository.NewUniMappingRepository(db),
		repository.NewEntityRepository(db),
		cache,
		zaptest.NewLogger(t),
	).(*AnalyticsFlowImpl)
	flow.now = func() time.Time { return time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC) }

	form, fields, err := fx.CreateForm("ANALYTICS", models.FormTypeOGV,
		testingutil.FieldSpec{Name: "uni", Type: models.FieldTypeText},
		testingutil.FieldSpec{Name: "otheruni", Type: models.FieldTypeText},
		testingutil.FieldSpec{Name: "dob", Type: models.FieldTypeDate},
		testingutil.FieldSpec{Name: "major", Type: models.FieldTypeText},
		testingutil.FieldSpec{Name: "cohort", Type: models.FieldTypeText},
	)
	require.NoError(t, err)
	byName := make(map[string]*models.FormField, len(fields))
	for _, f := range fields {
		byName[f.FieldName] = f
	}
	emt, err := fx.NationalEntity(utils.EntityNameEMT)
	require.NoError(t, err)

	return &analyticsFixture{
		fx:     fx,
		flow:   flow,
		admin:  adminActor(t, fx),
		local:  mustEntity(t, fx, "Analytics Local"),
		emt:    emt,
		form:   form,
		fields: byName,
	}
}

type seededRow struct {
	email     string
	at        time.Time
	entityID  *uint
	campaign  string
	source    string
	medium    string
	responses map[string]string
}

func (af *analyticsFixture) seed(t *testing.T, rows ...seededRow) []*models.FormSubmission {
	t.Helper()
	out := make([]*models.FormSubmission, 0, len(rows))
	for _, r := range rows {
		s, err := af.fx.CreateSubmission(af.form.ID, r.email, "", r.at)
		require.NoError(t, err)
		updates := map[string]any{"utm_campaign": r.campaign, "utm_source": r.source, "utm_medium": r.medium}
		if r.entityID != nil {
			updates["entity_id"] = *r.entityID
		}
		require.NoError(t, af.fx.DB.DB.Model(s).Updates(updates).Error)
		for name, value := range r.responses {
			require.NoError(t, af.fx.CreateResponse(s.ID, af.fields[name].ID, value))
		}
		out = append(out, s)
	}
	return out
}

func TestAnalyticsFlow_FunnelBreakdownsAttribution(t *testing.T) {
	af := newAnalyticsFixture(t, nil)
	ctx := context.Background()
	_, err := af.fx.CreateUniMapping(101, "Alpha University", af.local.ID)
	require.NoError(t, err)

	_, err = af.fx.CreateUTMVocab(af.form.ID, &af.local.ID, "local-spring")
	require.NoError(t, err)
	_, err = af.fx.CreateUTMVocab(af.form.ID, &af.emt.ID, "emt-push")
	require.NoError(t, err)

	week1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rows := af.seed(t,
		seededRow{email: "a@x.org", at: week1, entityID: &af.local.ID, campaign: "local-spring", source: "instagram", medium: "story",
			responses: map[string]string{"uni": "101", "dob": "2004-01-01", "major": "CS", "cohort": "2027"}},
		seededRow{email: "b@x.org", at: week1.Add(time.Hour), entityID: &af.local.ID, campaign: "emt-push", source: "instagram", medium: "story",
			responses: map[string]string{"uni": "Unknown College", "dob": "1990", "major": "cs"}},
		seededRow{email: "c@x.org", at: week1.AddDate(0, 0, 14),
			responses: map[string]string{"otheruni": "Beta Poly"}},
		seededRow{email: "a@x.org", at: week1.AddDate(0, 0, 15), entityID: &af.local.ID, source: "telegram"},
	)
	require.NoError(t, af.fx.DB.DB.Model(rows[0]).Update("duplicated", true).Error)

	funnel, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{})
	require.NoError(t, err)
	assert.Equal(t, dto.FunnelResponse{Total: 3, Unique: 3, Duplicates: 0, Allocated: 2, Unallocated: 1, Organic: 1, WithUTM: 2}, *funnel)

	withDupes, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{IncludeDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, int64(4), withDupes.Total)
	assert.Equal(t, int64(1), withDupes.Duplicates)

	b, err := af.flow.Breakdowns(ctx, af.admin, &dto.AnalyticsRequest{IncludeDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, dto.BreakdownRow{Key: "instagram/story", Label: "instagram / story", Count: 2}, b.Channel[0])
	assert.Contains(t, b.Channel, dto.BreakdownRow{Key: "(none)/(none)", Label: "(none) / (none)", Count: 1})
	assert.Contains(t, b.Channel, dto.BreakdownRow{Key: "telegram/(none)", Label: "telegram / (none)", Count: 1})
	assert.Len(t, b.UTMCombination, 3)
	assert.Contains(t, b.University, dto.BreakdownRow{Key: "uni:101", Label: "Alpha University", Count: 1})
	assert.Contains(t, b.University, dto.BreakdownRow{Key: "raw:unknown college", Label: "Unknown College", Count: 1})
	assert.Contains(t, b.University, dto.BreakdownRow{Key: "raw:beta poly", Label: "Beta Poly", Count: 1})
	assert.Contains(t, b.AgeBucket, dto.BreakdownRow{Key: "21-23", Label: "21-23", Count: 1})
	assert.Contains(t, b.AgeBucket, dto.BreakdownRow{Key: "30+", Label: "30+", Count: 1})
	assert.Equal(t, dto.BreakdownRow{Key: "cs", Label: "CS", Count: 2}, b.Major[0])
	assert.Contains(t, b.Cohort, dto.BreakdownRow{Key: "2027", Label: "2027", Count: 1})
	assert.Contains(t, b.Cohort, dto.BreakdownRow{Key: "2026", Label: "2026", Count: 3})

	attr, err := af.flow.Attribution(ctx, af.admin, &dto.AnalyticsRequest{IncludeDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, dto.AttributionResponse{Total: 4, ExactMatch: 1, EMTFallback: 1, Organic: 1, OtherSource: 1}, *attr)

	trend, err := af.flow.Trend(ctx, af.admin, &dto.AnalyticsRequest{IncludeDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, []dto.TrendPoint{
		{WeekStart: "2026-03-02", Count: 2},
		{WeekStart: "2026-03-09", Count: 0},
		{WeekStart: "2026-03-16", Count: 2},
	}, trend.Points)
}

func TestAnalyticsFlow_Scoping(t *testing.T) {
	af := newAnalyticsFixture(t, nil)
	ctx := context.Background()
	other := mustEntity(t, af.fx, "Analytics Other")
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	af.seed(t,
		seededRow{email: "l@x.org", at: at, entityID: &af.local.ID},
		seededRow{email: "o@x.org", at: at, entityID: &other.ID},
		seededRow{email: "u@x.org", at: at},
	)

	lead := leadActor(t, af.fx, af.local.ID)
	funnel, err := af.flow.Funnel(ctx, lead, &dto.AnalyticsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), funnel.Total)

	_, err = af.flow.Funnel(ctx, lead, &dto.AnalyticsRequest{EntityID: &other.ID})
	assert.True(t, IsForbidden(err))

	all, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)

	otherOnly, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{EntityID: uintPtr(other.ID)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), otherOnly.Total)

	from, to := at, at.Add(-time.Hour)
	_, err = af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{From: &from, To: &to})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestAnalyticsFlow_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := services.NewRedisResultCache(client, "test:", time.Minute, zaptest.NewLogger(t))

	af := newAnalyticsFixture(t, cache)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	af.seed(t, seededRow{email: "one@x.org", at: at})

	first, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Total)

	af.seed(t, seededRow{email: "two@x.org", at: at})
	cached, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Total, "served from cache within the TTL")

	mr.FastForward(2 * time.Minute)
	fresh, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Total)

	mr.Close()
	down, err := af.flow.Funnel(ctx, af.admin, &dto.AnalyticsRequest{})
	require.NoError(t, err, "cache failures fall through to the database")
	assert.Equal(t, int64(2), down.Total)
}
