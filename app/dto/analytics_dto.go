package dto

import "time"

// AnalyticsRequest is the common filter of every analytics endpoint
type AnalyticsRequest struct {
	FormID            *uint      `query:"form_id" json:"form_id,omitempty"`
	FormType          *string    `query:"form_type" json:"form_type,omitempty" validate:"omitempty,oneof=oGV TMR EWA"`
	EntityID          *uint      `query:"entity_id" json:"entity_id,omitempty"`
	UniID             *int64     `query:"uni_id" json:"uni_id,omitempty"`
	From              *time.Time `query:"from" json:"from,omitempty"`
	To                *time.Time `query:"to" json:"to,omitempty"`
	IncludeDuplicates bool       `query:"include_duplicates" json:"include_duplicates"`
}

type FunnelResponse struct {
	Total       int64 `json:"total"`
	Unique      int64 `json:"unique"`
	Duplicates  int64 `json:"duplicates"`
	Allocated   int64 `json:"allocated"`
	Unallocated int64 `json:"unallocated"`
	Organic     int64 `json:"organic"`
	WithUTM     int64 `json:"with_utm"`
}

// BreakdownRow is one bucket of a breakdown, sorted by count descending
type BreakdownRow struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type BreakdownsResponse struct {
	Channel        []BreakdownRow `json:"channel"`
	UTMCombination []BreakdownRow `json:"utm_combination"`
	University     []BreakdownRow `json:"university"`
	AgeBucket      []BreakdownRow `json:"age_bucket"`
	Major          []BreakdownRow `json:"major"`
	Cohort         []BreakdownRow `json:"cohort"`
}

type TrendPoint struct {
	WeekStart string `json:"week_start" example:"2026-10-12"`
	Count     int64  `json:"count"`
}

type TrendResponse struct {
	Points []TrendPoint `json:"points"`
}

type AttributionResponse struct {
	Total       int64 `json:"total"`
	ExactMatch  int64 `json:"exact_match"`
	EMTFallback int64 `json:"emt_fallback"`
	Organic     int64 `json:"organic"`
	OtherSource int64 `json:"other_source"`
}
