package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServiceStatus classifies a service under enterprise policy.
type ServiceStatus string

// Supported service statuses.
const (
	StatusSanctioned   ServiceStatus = "sanctioned"
	StatusUnsanctioned ServiceStatus = "unsanctioned"
	StatusBlocked      ServiceStatus = "blocked"
)

// Valid reports whether the status is one of the supported values.
func (s ServiceStatus) Valid() bool {
	switch s {
	case StatusSanctioned, StatusUnsanctioned, StatusBlocked:
		return true
	}
	return false
}

// DLP trigger actions.
const (
	DLPActionBlock = "block"
	DLPActionAlert = "alert"
)

// Service is a per-service statistical profile. The engine only reads it.
type Service struct {
	// Meta identifies the service.
	Meta ServiceMeta `yaml:"service" json:"service"`

	// Network lists the service's domains and address ranges.
	Network ServiceNetwork `yaml:"network,omitempty" json:"network,omitempty"`

	// TrafficPatterns hold URL and client material for event synthesis.
	TrafficPatterns TrafficPatterns `yaml:"traffic_patterns,omitempty" json:"traffic_patterns,omitempty"`

	// Activity configures adoption and the weighted action set.
	Activity Activity `yaml:"activity" json:"activity"`

	// SecurityEvents configures blocking, DLP, and attempt policies.
	SecurityEvents SecurityEvents `yaml:"security_events,omitempty" json:"security_events,omitempty"`
}

// Name returns the service's display name.
func (s *Service) Name() string { return s.Meta.Name }

// Status returns the service's policy status.
func (s *Service) Status() ServiceStatus { return s.Meta.Status }

// PrimaryDomain returns the first configured domain, or a slug-derived one.
func (s *Service) PrimaryDomain() string {
	if len(s.Network.Domains) > 0 {
		return s.Network.Domains[0]
	}
	slug := strings.ToLower(strings.ReplaceAll(s.Meta.Name, " ", ""))
	return slug + ".com"
}

// ServiceMeta identifies a service.
type ServiceMeta struct {
	// Name is the unique service name.
	Name string `yaml:"name" json:"name"`

	// Category groups the service (collaboration, cloud_storage, ...).
	Category string `yaml:"category,omitempty" json:"category,omitempty"`

	// Status is the enterprise policy status.
	Status ServiceStatus `yaml:"status" json:"status"`

	// RiskLevel is low, medium, or high.
	RiskLevel string `yaml:"risk_level,omitempty" json:"risk_level,omitempty"`
}

// ServiceNetwork lists the service's network identity.
type ServiceNetwork struct {
	Domains  []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	IPRanges []string `yaml:"ip_ranges,omitempty" json:"ip_ranges,omitempty"`
}

// TrafficPatterns hold request-shaping material.
type TrafficPatterns struct {
	// WebPaths are candidate URL paths for browse-style actions.
	WebPaths []string `yaml:"web_paths,omitempty" json:"web_paths,omitempty"`

	// UserAgents optionally override the population's agent pool.
	UserAgents []string `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`

	// APIEndpoints are candidate paths for api_call actions.
	APIEndpoints []string `yaml:"api_endpoints,omitempty" json:"api_endpoints,omitempty"`
}

// Activity configures how often and how the service is used.
type Activity struct {
	// UserAdoptionRate is the fraction of the population that ever uses
	// this service, in [0, 1].
	UserAdoptionRate float64 `yaml:"user_adoption_rate" json:"user_adoption_rate"`

	// Actions is the weighted action set. Keys are action names
	// (page_view, file_upload, file_download, api_call, message_send, ...).
	Actions map[string]Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Action is one weighted action with its numeric-attribute distribution.
// Exactly which distribution fields apply depends on the action; the
// sampler validates and tags the variant once at construction.
type Action struct {
	// Weight is the action's relative selection weight. Treated as
	// relative and normalized at use time.
	Weight float64 `yaml:"weight" json:"weight"`

	// AvgDurationSeconds is the mean duration for dwell-style actions.
	AvgDurationSeconds float64 `yaml:"avg_duration_seconds,omitempty" json:"avg_duration_seconds,omitempty"`

	// AvgPerHour is the action's nominal event rate, used to size
	// sessions.
	AvgPerHour float64 `yaml:"avg_per_hour,omitempty" json:"avg_per_hour,omitempty"`

	// AvgSizeMB is the mean transfer size for file-style actions.
	AvgSizeMB float64 `yaml:"avg_size_mb,omitempty" json:"avg_size_mb,omitempty"`

	// SizeStdDev is the transfer-size standard deviation in MB.
	SizeStdDev float64 `yaml:"size_std_dev,omitempty" json:"size_std_dev,omitempty"`
}

// SecurityEvents configures blocking and alerting behavior.
type SecurityEvents struct {
	// BlockRate is the base probability an event on a non-blocked
	// service is denied.
	BlockRate float64 `yaml:"block_rate,omitempty" json:"block_rate,omitempty"`

	// DLPTriggers are pattern rules that can escalate allowed events.
	DLPTriggers []DLPTrigger `yaml:"dlp_triggers,omitempty" json:"dlp_triggers,omitempty"`

	// AttemptPatterns governs access attempts against blocked services.
	AttemptPatterns AttemptPatterns `yaml:"attempt_patterns,omitempty" json:"attempt_patterns,omitempty"`

	// Alerts configures side-channel alerting.
	Alerts AlertsConfig `yaml:"alerts,omitempty" json:"alerts,omitempty"`
}

// DLPTrigger is one data-loss-prevention rule.
type DLPTrigger struct {
	// Pattern names what the rule matches (ssn, credit_card, ...).
	Pattern string `yaml:"pattern" json:"pattern"`

	// Action is "block" or "alert".
	Action string `yaml:"action" json:"action"`

	// Rate is the per-event trigger probability.
	Rate float64 `yaml:"rate" json:"rate"`
}

// AttemptPatterns caps repeated access to blocked services.
type AttemptPatterns struct {
	// PersistentUsers is the probability a given user keeps retrying a
	// blocked service rather than giving up after one attempt.
	PersistentUsers float64 `yaml:"persistent_users,omitempty" json:"persistent_users,omitempty"`

	// MaxAttemptsPerDay is the per-user daily attempt budget.
	// Default: 3.
	MaxAttemptsPerDay int `yaml:"max_attempts_per_day,omitempty" json:"max_attempts_per_day,omitempty"`
}

// AlertsConfig configures side-channel alert policies.
type AlertsConfig struct {
	// RepeatedAttempts alerts when blocked-service attempts pile up.
	RepeatedAttempts RepeatedAttempts `yaml:"repeated_attempts,omitempty" json:"repeated_attempts,omitempty"`
}

// RepeatedAttempts is the repeated-attempt alert policy.
type RepeatedAttempts struct {
	// Threshold is the attempt count inside the window that trips the
	// alert. Zero disables the policy.
	Threshold int `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// WindowMinutes is the sliding window size. Default: 60.
	WindowMinutes int `yaml:"window_minutes,omitempty" json:"window_minutes,omitempty"`

	// Severity is carried onto emitted alerts. Default: "medium".
	Severity string `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// LoadService loads and validates one service profile from a YAML file.
func LoadService(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading service config: %w", err)
	}
	svc, err := LoadServiceBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return svc, nil
}

// LoadServiceBytes loads one service profile from YAML bytes.
func LoadServiceBytes(data []byte) (*Service, error) {
	var svc Service
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return nil, fmt.Errorf("parsing service config: %w", err)
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	svc.ApplyDefaults()
	return &svc, nil
}

// LoadServicesDir loads every *.yaml / *.yml profile in a directory,
// sorted by service name so catalog iteration order is stable.
func LoadServicesDir(dir string) ([]*Service, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading services dir: %w", err)
	}

	var services []*Service
	names := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		svc, err := LoadService(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if prev, dup := names[svc.Name()]; dup {
			return nil, fmt.Errorf("%w: service %q defined in both %s and %s",
				ErrInvalidConfig, svc.Name(), prev, entry.Name())
		}
		names[svc.Name()] = entry.Name()
		services = append(services, svc)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: no service profiles in %s", ErrInvalidConfig, dir)
	}

	slices.SortFunc(services, func(a, b *Service) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return services, nil
}

// Validate checks the profile's invariants.
func (s *Service) Validate() error {
	if s.Meta.Name == "" {
		return fmt.Errorf("%w: service.name is required", ErrInvalidConfig)
	}
	if !s.Meta.Status.Valid() {
		return fmt.Errorf("%w: service %s: unknown status %q", ErrInvalidConfig, s.Meta.Name, s.Meta.Status)
	}
	if r := s.Activity.UserAdoptionRate; r < 0 || r > 1 {
		return fmt.Errorf("%w: service %s: user_adoption_rate must be in [0,1]", ErrInvalidConfig, s.Meta.Name)
	}
	for name, a := range s.Activity.Actions {
		if a.Weight <= 0 {
			return fmt.Errorf("%w: service %s: action %s: weight must be positive", ErrInvalidConfig, s.Meta.Name, name)
		}
		if a.AvgDurationSeconds < 0 || a.AvgPerHour < 0 || a.AvgSizeMB < 0 || a.SizeStdDev < 0 {
			return fmt.Errorf("%w: service %s: action %s: distribution fields must be non-negative", ErrInvalidConfig, s.Meta.Name, name)
		}
	}
	if r := s.SecurityEvents.BlockRate; r < 0 || r > 1 {
		return fmt.Errorf("%w: service %s: block_rate must be in [0,1]", ErrInvalidConfig, s.Meta.Name)
	}
	for i, t := range s.SecurityEvents.DLPTriggers {
		if t.Pattern == "" {
			return fmt.Errorf("%w: service %s: dlp_triggers[%d].pattern is required", ErrInvalidConfig, s.Meta.Name, i)
		}
		if t.Action != DLPActionBlock && t.Action != DLPActionAlert {
			return fmt.Errorf("%w: service %s: dlp_triggers[%d].action must be block or alert", ErrInvalidConfig, s.Meta.Name, i)
		}
		if t.Rate < 0 || t.Rate > 1 {
			return fmt.Errorf("%w: service %s: dlp_triggers[%d].rate must be in [0,1]", ErrInvalidConfig, s.Meta.Name, i)
		}
	}
	if p := s.SecurityEvents.AttemptPatterns.PersistentUsers; p < 0 || p > 1 {
		return fmt.Errorf("%w: service %s: attempt_patterns.persistent_users must be in [0,1]", ErrInvalidConfig, s.Meta.Name)
	}
	if n := s.SecurityEvents.AttemptPatterns.MaxAttemptsPerDay; n < 0 {
		return fmt.Errorf("%w: service %s: attempt_patterns.max_attempts_per_day must be non-negative", ErrInvalidConfig, s.Meta.Name)
	}
	return nil
}

// ApplyDefaults fills unset fields.
func (s *Service) ApplyDefaults() {
	if s.Meta.Category == "" {
		s.Meta.Category = "other"
	}
	if s.Meta.RiskLevel == "" {
		s.Meta.RiskLevel = "low"
	}
	if s.Meta.Status == StatusBlocked && s.SecurityEvents.AttemptPatterns.MaxAttemptsPerDay == 0 {
		s.SecurityEvents.AttemptPatterns.MaxAttemptsPerDay = 3
	}
	ra := &s.SecurityEvents.Alerts.RepeatedAttempts
	if ra.Threshold > 0 {
		if ra.WindowMinutes == 0 {
			ra.WindowMinutes = 60
		}
		if ra.Severity == "" {
			ra.Severity = "medium"
		}
	}
}
