package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+84 912-345-678", "+84912345678"},
		{" 0912 345 678 ", "0912345678"},
		{"+", ""},
		{"", ""},
		{"12+34", "1234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), tt.in)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@x.com", NormalizeEmail("  A@X.com "))
}

func TestWeekStart(t *testing.T) {
	// Sunday belongs to the week starting the previous Monday
	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WeekStart(sunday))

	monday := time.Date(2026, 10, 12, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WeekStart(monday))
}

func TestDayKey(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	// 01:00 local on the 15th is still the 14th in UTC
	assert.Equal(t, "2026-10-14", DayKey(time.Date(2026, 10, 15, 1, 0, 0, 0, loc)))
}
