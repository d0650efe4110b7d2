// Package session instantiates user-service sessions for an hour and
// places event timestamps inside each session window using a
// naturalistic (bursty or smooth) temporal pattern.
package session

import (
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/population"
	"github.com/example/shadowgen/internal/rng"
)

const (
	// defaultEventsPerHour sizes sessions for services that declare no
	// per-action rates.
	defaultEventsPerHour = 30.0

	// minSessionDuration is one action's worth of time; sessions never
	// shrink below it.
	minSessionDuration = 30 * time.Second

	// burstJitterFraction is the gaussian jitter sigma relative to the
	// session duration in burst mode.
	burstJitterFraction = 0.05

	hourKeyFormat = "2006-01-02T15"
)

// sessionNamespace keys deterministic session ids.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("shadowgen/session"))

// Session is one user's continuous interaction with a service. Event
// offsets are sorted and lie within [0, Duration].
type Session struct {
	// ID is a deterministic UUID derived from the session's key.
	ID string

	// User is the acting user.
	User *population.User

	// Service is the touched service.
	Service *config.Service

	// Start is the session start, inside the generation hour.
	Start time.Time

	// Duration is the session length.
	Duration time.Duration

	// Device is the session's device class.
	Device event.DeviceClass

	// SourceIP is the network identity for every event in the session.
	SourceIP string

	// UserAgent is the client agent for every event in the session.
	UserAgent string

	// Offsets are the event positions inside the window, non-decreasing.
	Offsets []time.Duration

	// AuthLeadIn marks the first event as an authentication action.
	AuthLeadIn bool
}

// End returns the end of the session window.
func (s *Session) End() time.Time { return s.Start.Add(s.Duration) }

// Builder builds sessions for selected (user, service) pairs.
// Immutable and safe for concurrent use.
type Builder struct {
	cfg    *config.Enterprise
	seeder *rng.Seeder
}

// NewBuilder creates a session builder.
func NewBuilder(cfg *config.Enterprise, seeder *rng.Seeder) *Builder {
	return &Builder{cfg: cfg, seeder: seeder}
}

// Build instantiates the session for a selected pair within the given
// hour. The session window is clamped to the hour: every event timestamp
// lands in [hour, hour+1h), so completed hours are final and the merged
// stream stays chronological. A session whose target event count comes
// out zero is omitted: Build returns nil and the hour simply records
// nothing for the pair.
func (b *Builder) Build(u *population.User, svc *config.Service, hour time.Time) *Session {
	r := b.seeder.Derive("session", u.ID, svc.Name(), hour.UTC().Format(hourKeyFormat))

	start := hour.Add(time.Duration(r.Int63n(int64(time.Hour))))
	duration := b.drawDuration(r, svc)
	if hourEnd := hour.Add(time.Hour); !start.Add(duration).Before(hourEnd) {
		duration = hourEnd.Sub(start) - time.Nanosecond
	}

	n := b.targetEventCount(r, svc, duration)
	if n == 0 {
		return nil
	}

	device := event.DeviceDesktop
	agent := u.UserAgent
	if rng.Bernoulli(r, u.MobileProbability) {
		device = event.DeviceMobile
		agent = u.MobileAgent
	}
	if len(svc.TrafficPatterns.UserAgents) > 0 {
		agent = svc.TrafficPatterns.UserAgents[r.Intn(len(svc.TrafficPatterns.UserAgents))]
	}

	// Long-running VPN identities rotate per reconnect; workstation
	// addresses stay fixed.
	sourceIP := u.SourceIP
	if len(u.VPNPool) > 0 && rng.Bernoulli(r, b.cfg.Network.VPNProbability) {
		sourceIP = u.VPNPool[r.Intn(len(u.VPNPool))]
	}

	authLead := svc.Status() != config.StatusBlocked &&
		rng.Bernoulli(r, b.cfg.Sessions.AuthProbability)

	key := u.ID + "|" + svc.Name() + "|" + start.UTC().Format(time.RFC3339)
	return &Session{
		ID:         uuid.NewSHA1(sessionNamespace, []byte(key)).String(),
		User:       u,
		Service:    svc,
		Start:      start,
		Duration:   duration,
		Device:     device,
		SourceIP:   sourceIP,
		UserAgent:  agent,
		Offsets:    Distribute(r, n, duration, b.cfg.Sessions.BurstProbability),
		AuthLeadIn: authLead,
	}
}

// drawDuration draws the session length, clipped to a minimum of one
// action's worth of time. Blocked services get very short sessions.
func (b *Builder) drawDuration(r *rand.Rand, svc *config.Service) time.Duration {
	if svc.Status() == config.StatusBlocked {
		return minSessionDuration + time.Duration(r.Int63n(int64(90*time.Second)))
	}
	seconds := rng.TruncatedNormal(r,
		b.cfg.Sessions.DurationMinutes.Mean*60,
		b.cfg.Sessions.DurationMinutes.StdDev*60,
		minSessionDuration.Seconds(),
	)
	return time.Duration(seconds * float64(time.Second))
}

// targetEventCount derives the session's event budget from the service's
// per-hour action rates scaled by the session duration.
func (b *Builder) targetEventCount(r *rand.Rand, svc *config.Service, d time.Duration) int {
	if svc.Status() == config.StatusBlocked {
		// A handful of attempts; the outcome resolver enforces the
		// per-day attempt budget on top.
		return 1 + r.Intn(3)
	}

	rate := 0.0
	for _, a := range svc.Activity.Actions {
		rate += a.AvgPerHour
	}
	if rate == 0 {
		rate = defaultEventsPerHour
	}
	return rng.RoundStochastic(r, rate*d.Hours())
}

// Distribute places n event offsets inside a window of length d.
// A Bernoulli draw against burstProb picks the mode: bursty clusters
// events around 1-3 anchors with gaussian jitter; smooth spreads
// exponential inter-arrival gaps rescaled to fit the window. The result
// is sorted and every offset lies in [0, d].
func Distribute(r *rand.Rand, n int, d time.Duration, burstProb float64) []time.Duration {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []time.Duration{time.Duration(r.Int63n(int64(d) + 1))}
	}

	var offsets []time.Duration
	if rng.Bernoulli(r, burstProb) {
		offsets = distributeBursty(r, n, d)
	} else {
		offsets = distributeSmooth(r, n, d)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func distributeBursty(r *rand.Rand, n int, d time.Duration) []time.Duration {
	k := 1 + r.Intn(3)
	if k > n {
		k = n
	}
	anchors := make([]float64, k)
	for i := range anchors {
		anchors[i] = r.Float64() * d.Seconds()
	}

	sigma := d.Seconds() * burstJitterFraction
	offsets := make([]time.Duration, n)
	for i := range offsets {
		pos := anchors[i%k] + sigma*r.NormFloat64()
		if pos < 0 {
			pos = 0
		}
		if pos > d.Seconds() {
			pos = d.Seconds()
		}
		offsets[i] = time.Duration(pos * float64(time.Second))
	}
	return offsets
}

func distributeSmooth(r *rand.Rand, n int, d time.Duration) []time.Duration {
	gaps := make([]float64, n)
	total := 0.0
	for i := range gaps {
		gaps[i] = r.ExpFloat64()
		total += gaps[i]
	}

	// Rescale the cumulative sum so the last event lands inside the
	// window rather than exactly on its edge.
	span := d.Seconds() * (0.85 + 0.15*r.Float64())
	scale := span / total

	offsets := make([]time.Duration, n)
	cum := 0.0
	for i, g := range gaps {
		cum += g * scale
		offsets[i] = time.Duration(cum * float64(time.Second))
	}
	return offsets
}
