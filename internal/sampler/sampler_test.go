package sampler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/population"
	"github.com/example/shadowgen/internal/rng"
	"github.com/example/shadowgen/internal/session"
)

func testService(t *testing.T) *config.Service {
	t.Helper()
	svc, err := config.LoadServiceBytes([]byte(`
service:
  name: Dropbox
  category: cloud_storage
  status: unsanctioned
  risk_level: medium
network:
  domains: [dropbox.com]
traffic_patterns:
  web_paths: ["/home", "/recents"]
  api_endpoints: ["/2/files/list_folder"]
activity:
  user_adoption_rate: 0.3
  actions:
    page_view: {weight: 0.6, avg_per_hour: 20}
    file_upload: {weight: 0.3, avg_per_hour: 5, avg_size_mb: 10, size_std_dev: 5}
    api_call: {weight: 0.1, avg_per_hour: 10}
`))
	require.NoError(t, err)
	return svc
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	u := &population.User{
		ID:        "u00001",
		Email:     "jane.doe@acme.com",
		SourceIP:  "10.20.1.15",
		UserAgent: "Mozilla/5.0",
	}
	return &session.Session{
		ID:        "3f2504e0-4f89-11d3-9a0c-0305e82c3301",
		User:      u,
		Start:     time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC),
		Duration:  20 * time.Minute,
		Device:    event.DeviceDesktop,
		SourceIP:  u.SourceIP,
		UserAgent: u.UserAgent,
	}
}

func TestSampleBasics(t *testing.T) {
	s := New(testService(t))
	sess := testSession(t)

	seeder, err := rng.NewSeeder(42)
	require.NoError(t, err)
	r := seeder.Derive("test", "sampler")

	ts := sess.Start.Add(time.Minute)
	for i := 0; i < 200; i++ {
		ev := s.Sample(r, sess, ts)

		assert.Equal(t, ts, ev.Timestamp)
		assert.Equal(t, sess.ID, ev.SessionID)
		assert.Equal(t, "jane.doe@acme.com", ev.UserEmail)
		assert.Equal(t, "jane.doe", ev.Username)
		assert.Equal(t, "Dropbox", ev.Service)
		assert.Equal(t, "cloud_storage", ev.Category)
		assert.Equal(t, event.OutcomeAllowed, ev.Outcome)
		assert.True(t, strings.HasPrefix(ev.URL, "https://dropbox.com/"), "url %s", ev.URL)
		assert.NotZero(t, ev.StatusCode)
		assert.Greater(t, ev.DurationMS, int64(0))
		assert.Contains(t, []string{"page_view", "file_upload", "api_call"}, ev.Action)
	}
}

func TestSampleActionFrequencies(t *testing.T) {
	s := New(testService(t))
	sess := testSession(t)

	seeder, err := rng.NewSeeder(42)
	require.NoError(t, err)
	r := seeder.Derive("test", "frequencies")

	counts := make(map[string]int)
	const n = 20000
	ts := sess.Start
	for i := 0; i < n; i++ {
		ev := s.Sample(r, sess, ts)
		counts[ev.Action]++
	}

	assert.InDelta(t, 0.6, float64(counts["page_view"])/n, 0.02)
	assert.InDelta(t, 0.3, float64(counts["file_upload"])/n, 0.02)
	assert.InDelta(t, 0.1, float64(counts["api_call"])/n, 0.02)
}

func TestSampleActionShapes(t *testing.T) {
	s := New(testService(t))
	sess := testSession(t)

	seeder, err := rng.NewSeeder(42)
	require.NoError(t, err)
	r := seeder.Derive("test", "shapes")

	sawUpload, sawAPI := false, false
	for i := 0; i < 500; i++ {
		ev := s.Sample(r, sess, sess.Start)
		switch ev.Action {
		case "file_upload":
			sawUpload = true
			assert.Equal(t, "POST", ev.Method)
			// 10MB mean, 5MB stddev, floored at the epsilon
			assert.Greater(t, ev.BytesOut, int64(1000))
		case "api_call":
			sawAPI = true
			assert.Contains(t, []string{"GET", "POST", "PUT", "DELETE"}, ev.Method)
			assert.Contains(t, ev.URL, "/2/files/list_folder")
		case "page_view":
			assert.Equal(t, "GET", ev.Method)
		}
	}
	assert.True(t, sawUpload)
	assert.True(t, sawAPI)
}

func TestSampleNoActionsFallsBack(t *testing.T) {
	svc, err := config.LoadServiceBytes([]byte(`
service: {name: Mystery, status: sanctioned}
activity: {user_adoption_rate: 0.1}
`))
	require.NoError(t, err)

	s := New(svc)
	sess := testSession(t)

	seeder, err := rng.NewSeeder(42)
	require.NoError(t, err)
	r := seeder.Derive("test", "fallback")

	ev := s.Sample(r, sess, sess.Start)
	assert.Equal(t, "page_view", ev.Action)
	assert.Equal(t, "GET", ev.Method)
	assert.True(t, strings.HasPrefix(ev.URL, "https://mystery.com/"), "url %s", ev.URL)
}

func TestAuthEvent(t *testing.T) {
	s := New(testService(t))
	sess := testSession(t)

	seeder, err := rng.NewSeeder(42)
	require.NoError(t, err)
	r := seeder.Derive("test", "auth")

	ev := s.AuthEvent(r, sess, sess.Start)
	assert.Equal(t, "auth", ev.Action)
	assert.Equal(t, "POST", ev.Method)
	assert.Equal(t, 200, ev.StatusCode)
	assert.Equal(t, event.OutcomeAllowed, ev.Outcome)
}

func TestAttemptEvent(t *testing.T) {
	s := New(testService(t))
	sess := testSession(t)

	seeder, err := rng.NewSeeder(42)
	require.NoError(t, err)
	r := seeder.Derive("test", "attempt")

	ev := s.AttemptEvent(r, sess, sess.Start)
	assert.Equal(t, "page_view", ev.Action)
	assert.Equal(t, 403, ev.StatusCode)
}
