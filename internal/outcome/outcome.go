// Package outcome classifies synthesized events against a service's
// security posture: attempt budgets for blocked services, block-rate
// draws for permitted ones, and DLP trigger evaluation. The resolver
// keeps per-day attempt counters so repeated visits to a blocked
// service stay within the configured budget.
package outcome

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/population"
	"github.com/example/shadowgen/internal/rng"
)

// attemptShards spreads the counter map across independent locks.
const attemptShards = 16

var alertNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("shadowgen/alert"))

// Decision is the resolver's verdict for one event.
type Decision struct {
	// Drop indicates the event must not be emitted at all. Set when a
	// user's daily attempt budget against a blocked service is spent.
	Drop bool

	// Alerts are side-channel alerts raised while classifying the event.
	Alerts []event.Alert
}

// attemptState tracks one user's attempts against one blocked service
// for the current day.
type attemptState struct {
	day    string
	count  int
	recent []time.Time
}

type shard struct {
	mu     sync.Mutex
	states map[string]*attemptState
}

// Resolver applies a service's security configuration to events. Safe
// for concurrent use; counters are sharded by user and service.
type Resolver struct {
	seeder *rng.Seeder
	shards [attemptShards]*shard
}

// NewResolver builds a resolver backed by the run's seed derivation.
func NewResolver(seeder *rng.Seeder) *Resolver {
	r := &Resolver{seeder: seeder}
	for i := range r.shards {
		r.shards[i] = &shard{states: make(map[string]*attemptState)}
	}
	return r
}

// Resolve classifies ev in place and reports whether to emit it. The
// caller's generator covers the stochastic draws so a session's events
// resolve in a reproducible order.
func (rv *Resolver) Resolve(r *rand.Rand, ev *event.Event, svc *config.Service, u *population.User, day string) Decision {
	if svc.Status() == config.StatusBlocked {
		return rv.resolveBlocked(ev, svc, u, day)
	}
	return rv.resolvePermitted(r, ev, svc)
}

// resolveBlocked charges the event against the user's daily attempt
// budget. Persistent users keep retrying up to the configured maximum;
// everyone else gives up after a single attempt.
func (rv *Resolver) resolveBlocked(ev *event.Event, svc *config.Service, u *population.User, day string) Decision {
	budget := 1
	if rv.persistent(u, svc, day) {
		budget = svc.SecurityEvents.AttemptPatterns.MaxAttemptsPerDay
		if budget < 1 {
			budget = 1
		}
	}

	key := u.ID + "\x00" + svc.Name()
	sh := rv.shardFor(key)

	sh.mu.Lock()
	st := sh.states[key]
	if st == nil || st.day != day {
		st = &attemptState{day: day}
		sh.states[key] = st
	}
	if st.count >= budget {
		sh.mu.Unlock()
		return Decision{Drop: true}
	}
	st.count++

	cfg := svc.SecurityEvents.Alerts.RepeatedAttempts
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	cutoff := ev.Timestamp.Add(-window)
	kept := st.recent[:0]
	for _, t := range st.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.recent = append(kept, ev.Timestamp)
	inWindow := len(st.recent)
	sh.mu.Unlock()

	ev.Outcome = event.OutcomeBlockedPolicy
	ev.StatusCode = 403
	ev.BlockReason = blockReason(svc)

	var alerts []event.Alert
	if cfg.Threshold > 0 && inWindow > cfg.Threshold {
		alerts = append(alerts, event.Alert{
			ID:        alertID("repeated", u.ID, svc.Name(), ev.Timestamp),
			Timestamp: ev.Timestamp,
			UserEmail: u.Email,
			Service:   svc.Name(),
			Kind:      event.AlertRepeatedAttempts,
			Severity:  cfg.Severity,
			Count:     inWindow,
			Window:    window,
		})
	}
	return Decision{Alerts: alerts}
}

// resolvePermitted applies the block rate and then the DLP triggers. A
// block-action trigger escalates an allowed event; an alert-action
// trigger leaves the event untouched and raises a side-channel alert.
func (rv *Resolver) resolvePermitted(r *rand.Rand, ev *event.Event, svc *config.Service) Decision {
	sec := svc.SecurityEvents
	if rng.Bernoulli(r, sec.BlockRate) {
		ev.Outcome = event.OutcomeBlockedPolicy
		ev.StatusCode = 403
		ev.BlockReason = blockReason(svc)
	}

	var alerts []event.Alert
	for _, trig := range sec.DLPTriggers {
		if !rng.Bernoulli(r, trig.Rate) {
			continue
		}
		switch trig.Action {
		case config.DLPActionBlock:
			if ev.Outcome == event.OutcomeAllowed {
				ev.Outcome = event.OutcomeBlockedDLP
				ev.StatusCode = 403
				ev.BlockReason = fmt.Sprintf("DLP policy violation: %s", trig.Pattern)
			}
		case config.DLPActionAlert:
			alerts = append(alerts, event.Alert{
				ID:        alertID("dlp", ev.UserEmail, svc.Name(), ev.Timestamp),
				Timestamp: ev.Timestamp,
				UserEmail: ev.UserEmail,
				Service:   svc.Name(),
				Kind:      event.AlertDLP,
				Severity:  "high",
				Pattern:   trig.Pattern,
			})
		}
	}
	return Decision{Alerts: alerts}
}

// persistent reports whether the user keeps retrying this blocked
// service today. The draw is keyed on user, service and day so the
// answer is stable across the whole day regardless of evaluation order.
func (rv *Resolver) persistent(u *population.User, svc *config.Service, day string) bool {
	r := rv.seeder.Derive("outcome", "persistent", u.ID, svc.Name(), day)
	return rng.Bernoulli(r, svc.SecurityEvents.AttemptPatterns.PersistentUsers)
}

// Prune drops counters from days other than the one given. Long runs
// call it at day boundaries to keep the store bounded.
func (rv *Resolver) Prune(day string) {
	for _, sh := range rv.shards {
		sh.mu.Lock()
		for key, st := range sh.states {
			if st.day != day {
				delete(sh.states, key)
			}
		}
		sh.mu.Unlock()
	}
}

func (rv *Resolver) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return rv.shards[h.Sum32()%attemptShards]
}

// blockReason picks a human-readable reason matching the service's
// classification.
func blockReason(svc *config.Service) string {
	if svc.Status() == config.StatusBlocked {
		switch svc.Meta.RiskLevel {
		case "critical", "high":
			return "High risk application blocked by security policy"
		default:
			return "Application blocked by corporate policy"
		}
	}
	switch svc.Meta.Category {
	case "file_sharing", "cloud_storage":
		return "Unsanctioned file sharing blocked"
	case "social_media":
		return "Social media access restricted"
	default:
		return "Blocked by corporate policy"
	}
}

// alertID derives a stable identifier from the alert's key fields.
func alertID(kind, who, svc string, ts time.Time) string {
	key := kind + "\x00" + who + "\x00" + svc + "\x00" + ts.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(alertNamespace, []byte(key)).String()
}
