// Package timemodel converts the enterprise time policy (working hours,
// peak hours, lunch dip, weekend factor) into a per-hour activity
// multiplier. The multiplier composes multiplicatively; out-of-range
// configuration is a validation concern upstream, so no clamping happens
// here.
package timemodel

import (
	"time"

	"github.com/example/shadowgen/internal/config"
)

// Model evaluates the enterprise time policy for arbitrary hours.
// It is immutable and safe for concurrent use.
type Model struct {
	loc        *time.Location
	startHour  int
	endHour    int
	peak       map[int]bool
	lunchDip   bool
	lunchHour  int
	weekend    float64
	peakMult   float64
	lunchMult  float64
	offMult    float64
	baseActive float64
}

// New builds a model from a validated enterprise document.
func New(cfg *config.Enterprise) *Model {
	peak := make(map[int]bool, len(cfg.Traffic.PeakHours))
	for _, h := range cfg.Traffic.PeakHours {
		peak[h] = true
	}
	return &Model{
		loc:        cfg.Traffic.WorkingHours.Location(),
		startHour:  cfg.Traffic.WorkingHours.StartHour(),
		endHour:    cfg.Traffic.WorkingHours.EndHour(),
		peak:       peak,
		lunchDip:   cfg.Traffic.LunchDip == nil || *cfg.Traffic.LunchDip,
		lunchHour:  cfg.Traffic.LunchHour,
		weekend:    cfg.Traffic.WeekendActivity,
		peakMult:   cfg.Traffic.PeakMultiplier,
		lunchMult:  cfg.Traffic.LunchMultiplier,
		offMult:    cfg.Traffic.OffHoursMultiplier,
		baseActive: cfg.Traffic.BaseActiveRatio,
	}
}

// Multiplier returns the activity multiplier for the hour containing t.
// Base 1.0, boosted in peak hours, dipped at lunch and outside working
// hours, scaled by the weekend factor on Saturday and Sunday.
func (m *Model) Multiplier(t time.Time) float64 {
	local := t.In(m.loc)
	hour := local.Hour()

	mult := 1.0
	switch {
	case !m.working(hour):
		mult *= m.offMult
	case m.lunchDip && hour == m.lunchHour:
		mult *= m.lunchMult
	case m.peak[hour]:
		mult *= m.peakMult
	}

	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		mult *= m.weekend
	}
	return mult
}

// BaseActiveRatio returns the neutral-hour active fraction of the
// population.
func (m *Model) BaseActiveRatio() float64 { return m.baseActive }

// Location returns the policy's timezone.
func (m *Model) Location() *time.Location { return m.loc }

// Day returns t's calendar day key ("2006-01-02") in the policy timezone.
// Attempt budgets and quotas reset on these boundaries.
func (m *Model) Day(t time.Time) string {
	return t.In(m.loc).Format("2006-01-02")
}

// DayMultiplierSum sums the multipliers over the 24 local hours of t's
// day. Daily quotas are spread across hours proportionally to
// Multiplier(hour)/DayMultiplierSum so usage is neither front- nor
// back-loaded.
func (m *Model) DayMultiplierSum(t time.Time) float64 {
	local := t.In(m.loc)
	sum := 0.0
	for h := range 24 {
		cursor := time.Date(local.Year(), local.Month(), local.Day(), h, 0, 0, 0, m.loc)
		sum += m.Multiplier(cursor)
	}
	return sum
}

func (m *Model) working(hour int) bool {
	return hour >= m.startHour && hour < m.endHour
}
