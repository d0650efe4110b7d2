// Package selector picks, for a given hour, the active subset of users
// and the services each active user touches, weighted by adoption rate,
// the hourly activity multiplier, and profile risk preference. All draws
// are keyed on stable identifiers so the selection reproduces under any
// execution order.
package selector

import (
	"math"
	"time"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/population"
	"github.com/example/shadowgen/internal/rng"
	"github.com/example/shadowgen/internal/timemodel"
)

// hourKey formats an hour into a stable RNG key.
const hourKeyFormat = "2006-01-02T15"

// Selector implements the hourly user and service selection.
// Immutable after construction; safe for concurrent use because every
// method derives its own generator.
type Selector struct {
	cfg      *config.Enterprise
	model    *timemodel.Model
	services []*config.Service
	seeder   *rng.Seeder
}

// New creates a selector over a name-sorted service catalog.
func New(cfg *config.Enterprise, model *timemodel.Model, services []*config.Service, seeder *rng.Seeder) *Selector {
	return &Selector{cfg: cfg, model: model, services: services, seeder: seeder}
}

// ActiveUsers returns the users active in the given hour:
// round(total * base_active_ratio * multiplier) users, clamped to the
// population, drawn uniformly without replacement in a deterministic
// order (partial Fisher-Yates keyed on the hour).
func (s *Selector) ActiveUsers(pop *population.Population, hour time.Time) []*population.User {
	mult := s.model.Multiplier(hour)
	count := int(math.Round(float64(pop.Size()) * s.model.BaseActiveRatio() * mult))
	if count <= 0 {
		return nil
	}
	if count > pop.Size() {
		count = pop.Size()
	}

	r := s.seeder.Derive("selector", "active", hour.UTC().Format(hourKeyFormat))
	idx := make([]int, pop.Size())
	for i := range idx {
		idx[i] = i
	}
	active := make([]*population.User, count)
	for i := 0; i < count; i++ {
		j := i + r.Intn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
		active[i] = pop.Users[idx[i]]
	}
	return active
}

// HourlyQuota computes the user's service budget for the hour: the daily
// quota drawn from the profile class (mean ± variance, truncated at zero)
// spread across the day's hours proportionally to the activity
// multiplier, with stochastic rounding so expectation survives.
func (s *Selector) HourlyQuota(u *population.User, hour time.Time) int {
	day := s.model.Day(hour)
	daily := rng.PositiveCount(
		s.seeder.Derive("selector", "quota", u.ID, day),
		u.Class.ServicesPerDay.Mean,
		u.Class.ServicesPerDay.StdDev,
	)
	if daily == 0 {
		return 0
	}

	daySum := s.model.DayMultiplierSum(hour)
	if daySum <= 0 {
		return 0
	}
	share := float64(daily) * s.model.Multiplier(hour) / daySum
	return rng.RoundStochastic(
		s.seeder.Derive("selector", "quota", u.ID, day, hour.UTC().Format(hourKeyFormat)),
		share,
	)
}

// SelectServices draws the services the user touches this hour. Each
// catalog entry is accepted independently with probability
//
//	p = adoption_rate × hour_multiplier × risk_boost
//
// capped at 1, until the hourly quota or the catalog is exhausted.
// Quota exhaustion is not an error; the hour simply yields fewer
// sessions.
func (s *Selector) SelectServices(u *population.User, hour time.Time) []*config.Service {
	quota := s.HourlyQuota(u, hour)
	if quota == 0 {
		return nil
	}

	mult := s.model.Multiplier(hour)
	r := s.seeder.Derive("selector", "services", u.ID, hour.UTC().Format(hourKeyFormat))

	var picked []*config.Service
	for _, svc := range s.services {
		boost := 1.0
		if svc.Status() != config.StatusSanctioned && rng.Bernoulli(r, u.Class.RiskyAppPreference) {
			boost = s.cfg.Traffic.RiskBoost
		}
		p := svc.Activity.UserAdoptionRate * mult * boost
		if p > 1 {
			p = 1
		}
		if r.Float64() < p {
			picked = append(picked, svc)
			if len(picked) == quota {
				break
			}
		}
	}
	return picked
}
