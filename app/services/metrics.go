package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain counters exported on /metrics next to the HTTP metrics
var (
	SubmissionsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kagutsuchi_submissions_ingested_total",
			Help: "Form submissions accepted, partitioned by form type and intake path",
		},
		[]string{"form_type", "path"},
	)

	DuplicatesMarked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kagutsuchi_submissions_marked_duplicated_total",
			Help: "Submissions flagged as duplicated by the deduplicator",
		},
	)

	ClicksTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kagutsuchi_utm_clicks_tracked_total",
			Help: "Tracked UTM link events, partitioned by click type and uniqueness",
		},
		[]string{"click_type", "unique"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kagutsuchi_background_tasks_total",
			Help: "Best-effort background tasks by name and outcome",
		},
		[]string{"task", "outcome"},
	)

	AnalyticsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kagutsuchi_analytics_cache_lookups_total",
			Help: "Analytics cache lookups by result",
		},
		[]string{"result"},
	)
)
