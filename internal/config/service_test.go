package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validServiceYAML = `
service:
  name: Dropbox
  category: cloud_storage
  status: unsanctioned
  risk_level: medium
network:
  domains:
    - dropbox.com
    - dl.dropboxusercontent.com
traffic_patterns:
  web_paths: ["/home", "/recents", "/shared"]
  api_endpoints: ["/2/files/list_folder"]
activity:
  user_adoption_rate: 0.25
  actions:
    page_view:
      weight: 0.5
      avg_per_hour: 20
    file_upload:
      weight: 0.3
      avg_per_hour: 5
      avg_size_mb: 10
      size_std_dev: 5
    file_download:
      weight: 0.2
      avg_per_hour: 8
      avg_size_mb: 25
      size_std_dev: 10
security_events:
  block_rate: 0.05
  dlp_triggers:
    - pattern: ssn
      action: block
      rate: 0.01
    - pattern: credit_card
      action: alert
      rate: 0.02
`

const blockedServiceYAML = `
service:
  name: TorrentHub
  status: blocked
  risk_level: high
activity:
  user_adoption_rate: 0.05
security_events:
  attempt_patterns:
    persistent_users: 0.3
  alerts:
    repeated_attempts:
      threshold: 3
`

func TestLoadServiceBytes(t *testing.T) {
	svc, err := LoadServiceBytes([]byte(validServiceYAML))
	require.NoError(t, err)

	assert.Equal(t, "Dropbox", svc.Name())
	assert.Equal(t, StatusUnsanctioned, svc.Status())
	assert.Equal(t, "dropbox.com", svc.PrimaryDomain())
	assert.Equal(t, 0.25, svc.Activity.UserAdoptionRate)
	assert.Len(t, svc.Activity.Actions, 3)
	assert.Len(t, svc.SecurityEvents.DLPTriggers, 2)
}

func TestLoadServiceDefaults(t *testing.T) {
	svc, err := LoadServiceBytes([]byte(blockedServiceYAML))
	require.NoError(t, err)

	assert.Equal(t, "other", svc.Meta.Category)
	assert.Equal(t, 3, svc.SecurityEvents.AttemptPatterns.MaxAttemptsPerDay)

	ra := svc.SecurityEvents.Alerts.RepeatedAttempts
	assert.Equal(t, 60, ra.WindowMinutes)
	assert.Equal(t, "medium", ra.Severity)
}

func TestPrimaryDomainFallback(t *testing.T) {
	svc, err := LoadServiceBytes([]byte(blockedServiceYAML))
	require.NoError(t, err)
	assert.Equal(t, "torrenthub.com", svc.PrimaryDomain())
}

func TestLoadServiceBytesInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing name",
			yaml: `
service: {status: sanctioned}
activity: {user_adoption_rate: 0.5}
`,
		},
		{
			name: "unknown status",
			yaml: `
service: {name: X, status: banned}
activity: {user_adoption_rate: 0.5}
`,
		},
		{
			name: "adoption out of range",
			yaml: `
service: {name: X, status: sanctioned}
activity: {user_adoption_rate: 1.5}
`,
		},
		{
			name: "non-positive action weight",
			yaml: `
service: {name: X, status: sanctioned}
activity:
  user_adoption_rate: 0.5
  actions:
    page_view: {weight: 0}
`,
		},
		{
			name: "bad dlp action",
			yaml: `
service: {name: X, status: sanctioned}
activity: {user_adoption_rate: 0.5}
security_events:
  dlp_triggers:
    - {pattern: ssn, action: quarantine, rate: 0.1}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServiceBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadServicesDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropbox.yaml"), []byte(validServiceYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "torrenthub.yml"), []byte(blockedServiceYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not yaml"), 0o644))

	services, err := LoadServicesDir(dir)
	require.NoError(t, err)
	require.Len(t, services, 2)

	// Sorted by service name
	assert.Equal(t, "Dropbox", services[0].Name())
	assert.Equal(t, "TorrentHub", services[1].Name())
}

func TestLoadServicesDirDuplicateName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(validServiceYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(validServiceYAML), 0o644))

	_, err := LoadServicesDir(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
