package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shadowgen/internal/event"
)

func TestNewPrometheusExporter(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		exporter := NewPrometheusExporter(PrometheusExporterConfig{})

		assert.Equal(t, "http://localhost:9090/metrics", exporter.GetAddress())
		assert.NotNil(t, exporter.Registry())
		assert.False(t, exporter.IsRunning())
	})

	t.Run("custom config", func(t *testing.T) {
		exporter := NewPrometheusExporter(PrometheusExporterConfig{
			Port: 8080,
			Path: "/custom-metrics",
		})

		assert.Equal(t, "http://localhost:8080/custom-metrics", exporter.GetAddress())
	})
}

func TestPrometheusExporter_StartStop(t *testing.T) {
	// Use a random high port to avoid conflicts
	config := PrometheusExporterConfig{
		Port: 19090 + int(time.Now().UnixNano()%1000),
		Path: "/metrics",
	}
	exporter := NewPrometheusExporter(config)

	err := exporter.Start()
	require.NoError(t, err)
	assert.True(t, exporter.IsRunning())

	// Starting again should be idempotent
	err = exporter.Start()
	require.NoError(t, err)

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(exporter.GetAddress())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthURL := fmt.Sprintf("http://localhost:%d/health", config.Port)
	resp, err = http.Get(healthURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, exporter.Stop(ctx))
	assert.False(t, exporter.IsRunning())

	// Stopping again should be idempotent
	require.NoError(t, exporter.Stop(ctx))
}

func TestPrometheusExporter_RecordEvent(t *testing.T) {
	exporter := NewPrometheusExporter(PrometheusExporterConfig{})

	exporter.RecordEvent(&event.Event{
		Outcome:  event.OutcomeAllowed,
		BytesIn:  1000,
		BytesOut: 200,
	})
	exporter.RecordEvent(&event.Event{
		Outcome:  event.OutcomeBlockedPolicy,
		BytesIn:  500,
		BytesOut: 100,
	})
	exporter.RecordEvent(&event.Event{
		Outcome: event.OutcomeAllowed,
		Junk:    true,
		BytesIn: 300,
	})

	families, err := exporter.Gather()
	require.NoError(t, err)

	events := findFamily(families, MetricEventsTotal)
	require.NotNil(t, events)
	assert.Equal(t, 2.0, counterFor(events, "outcome", "allowed"))
	assert.Equal(t, 1.0, counterFor(events, "outcome", "blocked_policy"))

	junk := findFamily(families, MetricJunkEventsTotal)
	require.NotNil(t, junk)
	assert.Equal(t, 1.0, junk.GetMetric()[0].GetCounter().GetValue())

	bytes := findFamily(families, MetricBytesTotal)
	require.NotNil(t, bytes)
	assert.Equal(t, 1800.0, counterFor(bytes, "direction", "in"))
	assert.Equal(t, 300.0, counterFor(bytes, "direction", "out"))
}

func TestPrometheusExporter_RecordAlert(t *testing.T) {
	exporter := NewPrometheusExporter(PrometheusExporterConfig{})

	exporter.RecordAlert(&event.Alert{Kind: event.AlertRepeatedAttempts})
	exporter.RecordAlert(&event.Alert{Kind: event.AlertRepeatedAttempts})
	exporter.RecordAlert(&event.Alert{Kind: event.AlertDLP})

	families, err := exporter.Gather()
	require.NoError(t, err)

	alerts := findFamily(families, MetricAlertsTotal)
	require.NotNil(t, alerts)
	assert.Equal(t, 2.0, counterFor(alerts, "kind", "repeated_attempts"))
	assert.Equal(t, 1.0, counterFor(alerts, "kind", "dlp"))
}

func TestPrometheusExporter_Counters(t *testing.T) {
	exporter := NewPrometheusExporter(PrometheusExporterConfig{})

	exporter.RecordSessions(12)
	exporter.RecordSessions(8)
	exporter.UpdateActiveUsers(37)
	exporter.ObserveHourGeneration(250 * time.Millisecond)

	families, err := exporter.Gather()
	require.NoError(t, err)

	sessions := findFamily(families, MetricSessionsTotal)
	require.NotNil(t, sessions)
	assert.Equal(t, 20.0, sessions.GetMetric()[0].GetCounter().GetValue())

	active := findFamily(families, MetricActiveUsers)
	require.NotNil(t, active)
	assert.Equal(t, 37.0, active.GetMetric()[0].GetGauge().GetValue())

	hist := findFamily(families, MetricHourGenerationSeconds)
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestPrometheusExporter_Endpoint(t *testing.T) {
	config := PrometheusExporterConfig{
		Port: 20090 + int(time.Now().UnixNano()%1000),
	}
	exporter := NewPrometheusExporter(config)
	require.NoError(t, exporter.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		exporter.Stop(ctx)
	}()
	time.Sleep(50 * time.Millisecond)

	exporter.RecordEvent(&event.Event{Outcome: event.OutcomeAllowed})

	resp, err := http.Get(exporter.GetAddress())
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), MetricEventsTotal), "metrics output missing %s", MetricEventsTotal)
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func counterFor(f *dto.MetricFamily, label, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == label && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
