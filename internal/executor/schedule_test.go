package executor

import (
	"testing"
	"time"

	"github.com/ksred/autopilot/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestNextRunTimeFixedFrequencies(t *testing.T) {
	from := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		order types.StandingOrder
		want  time.Time
	}{
		{"hourly", types.StandingOrder{Frequency: types.FrequencyHourly}, from.Add(time.Hour)},
		{"daily", types.StandingOrder{Frequency: types.FrequencyDaily}, from.Add(24 * time.Hour)},
		{"weekly", types.StandingOrder{Frequency: types.FrequencyWeekly}, from.Add(7 * 24 * time.Hour)},
		{"custom 90m", types.StandingOrder{Frequency: types.FrequencyCustom, CustomIntervalMs: 90 * 60 * 1000}, from.Add(90 * time.Minute)},
		{"custom without interval", types.StandingOrder{Frequency: types.FrequencyCustom}, from.Add(24 * time.Hour)},
		{"unknown falls back to daily", types.StandingOrder{Frequency: "SOMETIMES"}, from.Add(24 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRunTime(&tt.order, from)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(from))
		})
	}
}

func TestNextRunTimeMonthlyClamps(t *testing.T) {
	order := &types.StandingOrder{Frequency: types.FrequencyMonthly}

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			"jan 31 clamps to feb 28",
			time.Date(2025, time.January, 31, 8, 0, 0, 0, time.UTC),
			time.Date(2025, time.February, 28, 8, 0, 0, 0, time.UTC),
		},
		{
			"jan 31 leap year clamps to feb 29",
			time.Date(2024, time.January, 31, 8, 0, 0, 0, time.UTC),
			time.Date(2024, time.February, 29, 8, 0, 0, 0, time.UTC),
		},
		{
			"may 31 clamps to jun 30",
			time.Date(2025, time.May, 31, 8, 0, 0, 0, time.UTC),
			time.Date(2025, time.June, 30, 8, 0, 0, 0, time.UTC),
		},
		{
			"mid-month keeps its day",
			time.Date(2025, time.February, 15, 8, 0, 0, 0, time.UTC),
			time.Date(2025, time.March, 15, 8, 0, 0, 0, time.UTC),
		},
		{
			"december rolls into january",
			time.Date(2025, time.December, 31, 8, 0, 0, 0, time.UTC),
			time.Date(2026, time.January, 31, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRunTime(order, tt.from))
		})
	}
}
