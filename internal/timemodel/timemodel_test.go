package timemodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shadowgen/internal/config"
)

func testEnterprise(t *testing.T) *config.Enterprise {
	t.Helper()
	ent, err := config.LoadEnterpriseBytes([]byte(`
name: Acme
domain: acme.com
users:
  total_count: 10
  profiles:
    - {name: normal, percentage: 1.0, services_per_day: {mean: 5}}
traffic:
  working_hours:
    start: "08:00"
    end: "18:00"
    timezone: UTC
  peak_hours: [10, 14]
`))
	require.NoError(t, err)
	return ent
}

func TestMultiplier(t *testing.T) {
	m := New(testEnterprise(t))

	// Monday 2026-03-02
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		hour int
		want float64
	}{
		{name: "off hours before work", hour: 6, want: 0.3},
		{name: "plain working hour", hour: 9, want: 1.0},
		{name: "peak hour", hour: 10, want: 2.0},
		{name: "lunch dip", hour: 12, want: 0.5},
		{name: "afternoon peak", hour: 14, want: 2.0},
		{name: "off hours after work", hour: 22, want: 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Multiplier(day.Add(time.Duration(tt.hour) * time.Hour))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestMultiplierWeekend(t *testing.T) {
	m := New(testEnterprise(t))

	// Saturday 2026-03-07, peak hour still gets the weekend scale
	sat := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	assert.InDelta(t, 2.0*0.1, m.Multiplier(sat), 1e-9)

	sun := time.Date(2026, 3, 8, 22, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0.3*0.1, m.Multiplier(sun), 1e-9)
}

func TestMultiplierTimezone(t *testing.T) {
	ent, err := config.LoadEnterpriseBytes([]byte(`
name: Acme
domain: acme.com
users:
  total_count: 10
  profiles:
    - {name: normal, percentage: 1.0, services_per_day: {mean: 5}}
traffic:
  working_hours:
    start: "09:00"
    end: "17:00"
    timezone: America/New_York
`))
	require.NoError(t, err)
	m := New(ent)

	// 15:00 UTC on a March Monday is 10:00 in New York (EST, UTC-5)
	inWork := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	assert.InDelta(t, 1.0, m.Multiplier(inWork), 1e-9)

	// 09:00 UTC is 04:00 in New York
	offWork := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0.3, m.Multiplier(offWork), 1e-9)
}

func TestDay(t *testing.T) {
	ent := testEnterprise(t)
	ent.Traffic.WorkingHours.Timezone = "America/New_York"
	m := New(ent)

	// 02:00 UTC is still the previous day in New York
	assert.Equal(t, "2026-03-01", m.Day(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-03-02", m.Day(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)))
}

func TestDayMultiplierSum(t *testing.T) {
	m := New(testEnterprise(t))

	day := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	sum := m.DayMultiplierSum(day)

	// 14 off hours at 0.3, 2 peak at 2.0, lunch at 0.5, 7 plain at 1.0
	want := 14*0.3 + 2*2.0 + 0.5 + 7*1.0
	assert.InDelta(t, want, sum, 1e-9)

	// Every hour of the same day sees the same sum
	assert.InDelta(t, sum, m.DayMultiplierSum(day.Add(9*time.Hour)), 1e-9)
}
