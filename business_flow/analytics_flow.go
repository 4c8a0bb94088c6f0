package businessflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"go.uber.org/zap"
)

// Attribution classes in priority order
const (
	AttributionExactMatch  = "exact_match"
	AttributionEMTFallback = "emt_fallback"
	AttributionOrganic     = "organic"
	AttributionOtherSource = "other_source"
)

const (
	bucketNone    = "(none)"
	bucketUnknown = "unknown"
)

// Response field names read by the breakdowns
var (
	birthDateFields = []string{"dob", "birth_date", "birthdate"}
	cohortFields    = []string{"cohort", "graduation_year"}
	majorField      = "major"
)

var birthDateLayouts = []string{"2006-01-02", "02/01/2006", "01/02/2006"}

// AnalyticsFlow serves the read-only dashboard aggregations
type AnalyticsFlow interface {
	Funnel(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.FunnelResponse, error)
	Breakdowns(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.BreakdownsResponse, error)
	Trend(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.TrendResponse, error)
	Attribution(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.AttributionResponse, error)
}

// AnalyticsFlowImpl implements AnalyticsFlow
type AnalyticsFlowImpl struct {
	analyticsRepo repository.AnalyticsRepository
	uniRepo       repository.UniMappingRepository
	entityRepo    repository.EntityRepository
	cache         services.ResultCache
	now           func() time.Time
	logger        *zap.Logger
}

func NewAnalyticsFlow(
	analyticsRepo repository.AnalyticsRepository,
	uniRepo repository.UniMappingRepository,
	entityRepo repository.EntityRepository,
	cache services.ResultCache,
	logger *zap.Logger,
) AnalyticsFlow {
	if cache == nil {
		cache = services.NoopResultCache{}
	}
	return &AnalyticsFlowImpl{
		analyticsRepo: analyticsRepo,
		uniRepo:       uniRepo,
		entityRepo:    entityRepo,
		cache:         cache,
		now:           utils.UTCNow,
		logger:        logger.Named("analytics_flow"),
	}
}

func (f *AnalyticsFlowImpl) Funnel(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.FunnelResponse, error) {
	filter, err := analyticsFilter(actor, req)
	if err != nil {
		return nil, err
	}
	return cachedResult(ctx, f.cache, services.CacheKey("funnel", filter), func() (*dto.FunnelResponse, error) {
		c, err := f.analyticsRepo.Funnel(ctx, filter)
		if err != nil {
			return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to count submissions", err)
		}
		return &dto.FunnelResponse{
			Total:       c.Total,
			Unique:      c.Total - c.Duplicates,
			Duplicates:  c.Duplicates,
			Allocated:   c.Allocated,
			Unallocated: c.Total - c.Allocated,
			Organic:     c.Total - c.WithUTM,
			WithUTM:     c.WithUTM,
		}, nil
	})
}

func (f *AnalyticsFlowImpl) Breakdowns(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.BreakdownsResponse, error) {
	filter, err := analyticsFilter(actor, req)
	if err != nil {
		return nil, err
	}
	return cachedResult(ctx, f.cache, services.CacheKey("breakdowns", filter), func() (*dto.BreakdownsResponse, error) {
		fail := func(what string, err error) error {
			return NewBusinessError("ANALYTICS_FAILED", "Failed to count "+what, err)
		}

		channels, err := f.analyticsRepo.ChannelCounts(ctx, filter)
		if err != nil {
			return nil, fail("channels", err)
		}
		channel := newTally()
		for _, g := range channels {
			source, medium := orNone(g.Source), orNone(g.Medium)
			channel.add(source+"/"+medium, source+" / "+medium, g.Count)
		}

		combos, err := f.analyticsRepo.UTMCombinationCounts(ctx, filter)
		if err != nil {
			return nil, fail("utm combinations", err)
		}
		combo := newTally()
		for _, g := range combos {
			campaign, source, medium := orNone(g.Campaign), orNone(g.Source), orNone(g.Medium)
			combo.add(campaign+"|"+source+"|"+medium, campaign+" / "+source+" / "+medium, g.Count)
		}

		unis, err := f.analyticsRepo.ResponseValueCounts(ctx, filter, models.FieldNameUni, models.FieldNameOtherUni)
		if err != nil {
			return nil, fail("universities", err)
		}
		uniNames, err := f.uniNames(ctx, unis)
		if err != nil {
			return nil, err
		}
		uni := newTally()
		for _, v := range unis {
			key, label := universityBucket(v, uniNames)
			uni.add(key, label, v.Count)
		}

		births, err := f.analyticsRepo.ResponseValueCounts(ctx, filter, birthDateFields...)
		if err != nil {
			return nil, fail("birth dates", err)
		}
		now := f.now()
		age := newTally()
		for _, v := range births {
			bucket := ageBucket(v.Label, now)
			age.add(bucket, bucket, v.Count)
		}

		majors, err := f.analyticsRepo.ResponseValueCounts(ctx, filter, majorField)
		if err != nil {
			return nil, fail("majors", err)
		}
		major := newTally()
		for _, v := range majors {
			if v.ValueKey == "" {
				major.add(bucketUnknown, bucketUnknown, v.Count)
				continue
			}
			major.add(v.ValueKey, v.Label, v.Count)
		}

		cohorts, err := f.analyticsRepo.CohortCounts(ctx, filter, cohortFields...)
		if err != nil {
			return nil, fail("cohorts", err)
		}
		cohort := newTally()
		for _, v := range cohorts {
			if v.ValueKey == "" {
				cohort.add(bucketUnknown, bucketUnknown, v.Count)
				continue
			}
			cohort.add(v.ValueKey, v.Label, v.Count)
		}

		return &dto.BreakdownsResponse{
			Channel:        channel.rows(),
			UTMCombination: combo.rows(),
			University:     uni.rows(),
			AgeBucket:      age.rows(),
			Major:          major.rows(),
			Cohort:         cohort.rows(),
		}, nil
	})
}

// Trend counts submissions per ISO week (Monday, UTC). Weeks without
// submissions inside the covered range are reported with zero.
func (f *AnalyticsFlowImpl) Trend(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.TrendResponse, error) {
	filter, err := analyticsFilter(actor, req)
	if err != nil {
		return nil, err
	}
	return cachedResult(ctx, f.cache, services.CacheKey("trend", filter), func() (*dto.TrendResponse, error) {
		weeks, err := f.analyticsRepo.WeeklyCounts(ctx, filter)
		if err != nil {
			return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to count weekly submissions", err)
		}
		points, err := weeklyTrend(weeks, filter.From, filter.To)
		if err != nil {
			return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to build weekly trend", err)
		}
		return &dto.TrendResponse{Points: points}, nil
	})
}

func (f *AnalyticsFlowImpl) Attribution(ctx context.Context, actor Actor, req *dto.AnalyticsRequest) (*dto.AttributionResponse, error) {
	filter, err := analyticsFilter(actor, req)
	if err != nil {
		return nil, err
	}
	return cachedResult(ctx, f.cache, services.CacheKey("attribution", filter), func() (*dto.AttributionResponse, error) {
		groups, err := f.analyticsRepo.AttributionGroups(ctx, filter)
		if err != nil {
			return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to group submissions", err)
		}
		out := &dto.AttributionResponse{}
		if len(groups) == 0 {
			return out, nil
		}

		formIDs := make([]uint, 0)
		seen := make(map[uint]bool)
		for _, g := range groups {
			if !seen[g.FormID] {
				seen[g.FormID] = true
				formIDs = append(formIDs, g.FormID)
			}
		}
		campaigns, err := f.analyticsRepo.Campaigns(ctx, formIDs)
		if err != nil {
			return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to load campaigns", err)
		}
		emt, err := f.entityRepo.ByName(ctx, utils.EntityNameEMT)
		if err != nil {
			return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to load EMT entity", err)
		}
		var emtID *uint
		if emt != nil {
			emtID = &emt.ID
		}

		index := NewCampaignIndex(campaigns)
		for _, g := range groups {
			out.Total += g.Count
			switch classifyAttribution(g.FormID, g.EntityID, g.Campaign, g.UTMTagged > 0, index, emtID) {
			case AttributionExactMatch:
				out.ExactMatch += g.Count
			case AttributionEMTFallback:
				out.EMTFallback += g.Count
			case AttributionOrganic:
				out.Organic += g.Count
			default:
				out.OtherSource += g.Count
			}
		}
		return out, nil
	})
}

// CampaignIndex looks up active campaigns by form and case-insensitive code
type CampaignIndex map[campaignKey]*models.UtmCampaign

type campaignKey struct {
	formID uint
	code   string
}

func NewCampaignIndex(campaigns []*models.UtmCampaign) CampaignIndex {
	idx := make(CampaignIndex, len(campaigns))
	for _, c := range campaigns {
		if !c.IsActive {
			continue
		}
		idx[campaignKey{c.FormID, strings.ToLower(strings.TrimSpace(c.Code))}] = c
	}
	return idx
}

func (idx CampaignIndex) lookup(formID uint, code string) *models.UtmCampaign {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	return idx[campaignKey{formID, code}]
}

// Attribute classifies a submission: its campaign is owned by the submission's
// entity, else by the national EMT entity, else the row is organic when it
// carries no UTM parameter at all, else it came from some other source.
func Attribute(sub *models.FormSubmission, campaigns CampaignIndex, emtEntityID *uint) string {
	return classifyAttribution(sub.FormID, sub.EntityID, sub.UtmCampaign, sub.HasUTM(), campaigns, emtEntityID)
}

func classifyAttribution(formID uint, entityID *uint, code string, hasUTM bool, campaigns CampaignIndex, emtEntityID *uint) string {
	campaign := campaigns.lookup(formID, code)
	if campaign != nil && campaign.EntityID != nil {
		if entityID != nil && *campaign.EntityID == *entityID {
			return AttributionExactMatch
		}
		if emtEntityID != nil && *campaign.EntityID == *emtEntityID {
			return AttributionEMTFallback
		}
	}
	if !hasUTM {
		return AttributionOrganic
	}
	return AttributionOtherSource
}

// analyticsFilter validates the request and narrows it to what the actor may see
func analyticsFilter(actor Actor, req *dto.AnalyticsRequest) (repository.AnalyticsFilter, error) {
	if err := requireUser(actor); err != nil {
		return repository.AnalyticsFilter{}, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return repository.AnalyticsFilter{}, NewBusinessError("INVALID_DATE_RANGE", "from must be before to", ErrInvalidDateRange)
	}
	entityID, err := scopeEntity(actor, req.EntityID)
	if err != nil {
		return repository.AnalyticsFilter{}, NewBusinessError("ENTITY_SCOPE_DENIED", "Cannot read analytics of another entity", err)
	}
	return repository.AnalyticsFilter{
		FormID:            req.FormID,
		FormType:          req.FormType,
		EntityID:          entityID,
		UniID:             req.UniID,
		From:              utils.TimeToUTCPtr(req.From),
		To:                utils.TimeToUTCPtr(req.To),
		IncludeDuplicates: req.IncludeDuplicates,
	}, nil
}

func cachedResult[T any](ctx context.Context, cache services.ResultCache, key string, compute func() (*T, error)) (*T, error) {
	var hit T
	if cache.Get(ctx, key, &hit) {
		return &hit, nil
	}
	out, err := compute()
	if err != nil {
		return nil, err
	}
	cache.Set(ctx, key, out)
	return out, nil
}

// uniNames resolves the numeric uni values to university names
func (f *AnalyticsFlowImpl) uniNames(ctx context.Context, values []repository.ValueCount) (map[int64]string, error) {
	var ids []int64
	for _, v := range values {
		if id, err := strconv.ParseInt(v.ValueKey, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := f.uniRepo.ByFilter(ctx, models.UniMappingFilter{UniIDs: ids}, "", 0, 0)
	if err != nil {
		return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to load university names", err)
	}
	for _, m := range rows {
		out[m.UniID] = m.UniName
	}
	return out, nil
}

func universityBucket(v repository.ValueCount, names map[int64]string) (string, string) {
	if v.ValueKey == "" {
		return bucketUnknown, bucketUnknown
	}
	if id, err := strconv.ParseInt(v.ValueKey, 10, 64); err == nil {
		if name, ok := names[id]; ok {
			return "uni:" + v.ValueKey, name
		}
	}
	return "raw:" + v.ValueKey, v.Label
}

// ageBucket groups a birth date into the dashboard age ranges
func ageBucket(raw string, now time.Time) string {
	dob, ok := parseBirthDate(raw)
	if !ok {
		return bucketUnknown
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	switch {
	case age < 0 || age > 120:
		return bucketUnknown
	case age < 18:
		return "<18"
	case age <= 20:
		return "18-20"
	case age <= 23:
		return "21-23"
	case age <= 26:
		return "24-26"
	case age <= 30:
		return "27-30"
	default:
		return "30+"
	}
}

// parseBirthDate accepts YYYY, YYYY-MM-DD, DD/MM/YYYY and MM/DD/YYYY. A bare
// year is read as January 1st.
func parseBirthDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if len(raw) == 4 {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return time.Time{}, false
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), true
	}
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// weeklyTrend expands the per-week counts into a gap-free series. The range
// is widened to from and to when given.
func weeklyTrend(weeks []repository.WeekCount, from, to *time.Time) ([]dto.TrendPoint, error) {
	counts := make(map[time.Time]int64, len(weeks))
	var first, last time.Time
	for i, w := range weeks {
		day, err := time.Parse("2006-01-02", w.WeekStart)
		if err != nil {
			return nil, fmt.Errorf("invalid week start %q: %w", w.WeekStart, err)
		}
		week := utils.WeekStart(day)
		counts[week] += w.Count
		if i == 0 || week.Before(first) {
			first = week
		}
		if i == 0 || week.After(last) {
			last = week
		}
	}
	if from != nil {
		first = utils.WeekStart(*from)
	}
	if to != nil {
		last = utils.WeekStart(to.Add(-time.Nanosecond))
	}
	if len(weeks) == 0 && (from == nil || to == nil) {
		return []dto.TrendPoint{}, nil
	}

	points := make([]dto.TrendPoint, 0)
	for w := first; !w.After(last); w = w.AddDate(0, 0, 7) {
		points = append(points, dto.TrendPoint{WeekStart: utils.DayKey(w), Count: counts[w]})
	}
	return points, nil
}

type tally struct {
	counts map[string]int64
	labels map[string]string
}

func newTally() *tally {
	return &tally{counts: make(map[string]int64), labels: make(map[string]string)}
}

func (t *tally) add(key, label string, n int64) {
	if _, ok := t.labels[key]; !ok {
		t.labels[key] = label
	}
	t.counts[key] += n
}

// rows returns the buckets by count descending, then key
func (t *tally) rows() []dto.BreakdownRow {
	out := make([]dto.BreakdownRow, 0, len(t.counts))
	for k, c := range t.counts {
		out = append(out, dto.BreakdownRow{Key: k, Label: t.labels[k], Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return bucketNone
	}
	return s
}
