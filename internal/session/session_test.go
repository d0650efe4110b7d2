package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/population"
	"github.com/example/shadowgen/internal/rng"
)

func testEnterprise(t *testing.T) *config.Enterprise {
	t.Helper()
	ent, err := config.LoadEnterpriseBytes([]byte(`
name: Acme
domain: acme.com
users:
  total_count: 20
  profiles:
    - {name: normal, percentage: 1.0, services_per_day: {mean: 8, std_dev: 3}}
network:
  internal_subnets: [10.20.0.0/16]
  vpn_subnets: [172.16.0.0/20]
traffic:
  working_hours: {start: "08:00", end: "18:00"}
`))
	require.NoError(t, err)
	return ent
}

func testService(t *testing.T, yaml string) *config.Service {
	t.Helper()
	svc, err := config.LoadServiceBytes([]byte(yaml))
	require.NoError(t, err)
	return svc
}

func testBuilder(t *testing.T, seed int64) (*Builder, *population.Population) {
	t.Helper()
	ent := testEnterprise(t)
	seeder, err := rng.NewSeeder(seed)
	require.NoError(t, err)
	pop, err := population.New(ent, seeder)
	require.NoError(t, err)
	return NewBuilder(ent, seeder), pop
}

func TestBuildBasics(t *testing.T) {
	b, pop := testBuilder(t, 42)
	svc := testService(t, `
service: {name: Slack, status: sanctioned}
activity:
  user_adoption_rate: 0.8
  actions:
    page_view: {weight: 1, avg_per_hour: 30}
`)
	hour := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Some sessions come out nil when the event draw lands on zero;
	// scan users until one materializes.
	var sess *Session
	for _, u := range pop.Users {
		if sess = b.Build(u, svc, hour); sess != nil {
			break
		}
	}
	require.NotNil(t, sess)

	assert.NotEmpty(t, sess.ID)
	assert.True(t, !sess.Start.Before(hour))
	assert.True(t, sess.Start.Before(hour.Add(time.Hour)))
	assert.GreaterOrEqual(t, sess.Duration, time.Duration(0))
	assert.True(t, sess.End().Before(hour.Add(time.Hour)))
	require.NotEmpty(t, sess.Offsets)

	last := time.Duration(-1)
	for _, off := range sess.Offsets {
		assert.GreaterOrEqual(t, off, time.Duration(0))
		assert.LessOrEqual(t, off, sess.Duration)
		assert.GreaterOrEqual(t, off, last, "offsets not sorted")
		last = off
	}
}

func TestBuildStaysInsideHour(t *testing.T) {
	b, pop := testBuilder(t, 42)
	svc := testService(t, `
service: {name: Slack, status: sanctioned}
activity:
  user_adoption_rate: 0.8
  actions:
    page_view: {weight: 1, avg_per_hour: 30}
`)

	// Across many hours and users, no session window reaches the next
	// hour: the stream is final once its hour is emitted.
	for h := 0; h < 24; h++ {
		hour := time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC)
		hourEnd := hour.Add(time.Hour)
		for _, u := range pop.Users {
			sess := b.Build(u, svc, hour)
			if sess == nil {
				continue
			}
			require.True(t, sess.End().Before(hourEnd),
				"session [%s, %s] spills past %s", sess.Start, sess.End(), hourEnd)
			for _, off := range sess.Offsets {
				ts := sess.Start.Add(off)
				require.True(t, ts.Before(hourEnd), "event at %s past %s", ts, hourEnd)
			}
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	b1, pop1 := testBuilder(t, 42)
	b2, pop2 := testBuilder(t, 42)
	svc := testService(t, `
service: {name: Slack, status: sanctioned}
activity:
  user_adoption_rate: 0.8
  actions:
    page_view: {weight: 1, avg_per_hour: 30}
`)
	hour := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := range pop1.Users {
		s1 := b1.Build(pop1.Users[i], svc, hour)
		s2 := b2.Build(pop2.Users[i], svc, hour)
		if s1 == nil {
			require.Nil(t, s2)
			continue
		}
		require.NotNil(t, s2)
		assert.Equal(t, s1.ID, s2.ID)
		assert.Equal(t, s1.Start, s2.Start)
		assert.Equal(t, s1.Duration, s2.Duration)
		assert.Equal(t, s1.Offsets, s2.Offsets)
		assert.Equal(t, s1.SourceIP, s2.SourceIP)
		assert.Equal(t, s1.AuthLeadIn, s2.AuthLeadIn)
	}
}

func TestBuildBlockedServiceShortSessions(t *testing.T) {
	b, pop := testBuilder(t, 42)
	svc := testService(t, `
service: {name: TorrentHub, status: blocked, risk_level: high}
activity: {user_adoption_rate: 0.05}
`)
	hour := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for _, u := range pop.Users {
		sess := b.Build(u, svc, hour)
		require.NotNil(t, sess)
		assert.LessOrEqual(t, sess.Duration, 2*time.Minute)
		assert.GreaterOrEqual(t, len(sess.Offsets), 1)
		assert.LessOrEqual(t, len(sess.Offsets), 3)
		assert.False(t, sess.AuthLeadIn, "blocked sessions never authenticate")
	}
}

func TestBuildDeviceClass(t *testing.T) {
	b, pop := testBuilder(t, 42)
	svc := testService(t, `
service: {name: Slack, status: sanctioned}
activity:
  user_adoption_rate: 0.8
  actions:
    page_view: {weight: 1, avg_per_hour: 30}
`)

	mobile, desktop := 0, 0
	for d := 0; d < 30; d++ {
		hour := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).AddDate(0, 0, d)
		for _, u := range pop.Users {
			sess := b.Build(u, svc, hour)
			if sess == nil {
				continue
			}
			switch sess.Device {
			case event.DeviceMobile:
				mobile++
				assert.Equal(t, u.MobileAgent, sess.UserAgent)
			case event.DeviceDesktop:
				desktop++
			}
		}
	}
	// Default mobile probability is 0.2
	assert.Greater(t, mobile, 0)
	assert.Greater(t, desktop, mobile)
}

func TestDistribute(t *testing.T) {
	seeder, err := rng.NewSeeder(7)
	require.NoError(t, err)

	tests := []struct {
		name      string
		n         int
		d         time.Duration
		burstProb float64
	}{
		{name: "single event", n: 1, d: 10 * time.Minute},
		{name: "smooth", n: 50, d: 20 * time.Minute, burstProb: 0},
		{name: "bursty", n: 50, d: 20 * time.Minute, burstProb: 1},
		{name: "mixed", n: 10, d: time.Minute, burstProb: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := seeder.Derive("test", "distribute", tt.name)
			offsets := Distribute(r, tt.n, tt.d, tt.burstProb)
			require.Len(t, offsets, tt.n)

			last := time.Duration(-1)
			for _, off := range offsets {
				assert.GreaterOrEqual(t, off, time.Duration(0))
				assert.LessOrEqual(t, off, tt.d)
				assert.GreaterOrEqual(t, off, last)
				last = off
			}
		})
	}
}

func TestDistributeZero(t *testing.T) {
	seeder, err := rng.NewSeeder(7)
	require.NoError(t, err)
	r := seeder.Derive("test", "distribute", "zero")
	assert.Nil(t, Distribute(r, 0, time.Minute, 0.3))
}
