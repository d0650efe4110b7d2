// Package config provides the validated configuration documents the
// generation engine consumes: one enterprise-wide profile and one profile
// per cloud service. Configuration errors are fatal before generation
// starts; the engine assumes it only ever receives validated profiles.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Errors returned by the config package.
var (
	// ErrInvalidConfig is returned when a configuration document is invalid.
	ErrInvalidConfig = errors.New("config: invalid configuration")
	// ErrConfigNotFound is returned when a configuration file is missing.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)

// profile-share drift tolerated when checking percentages sum to 1.
const shareTolerance = 0.01

// Enterprise is the enterprise-wide configuration document.
type Enterprise struct {
	// Name is the enterprise display name.
	Name string `yaml:"name" json:"name"`

	// Domain is the email domain suffix for generated users.
	Domain string `yaml:"domain" json:"domain"`

	// Seed is the run-level seed. All randomness derives from it.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	// Users configures the simulated population.
	Users UsersConfig `yaml:"users" json:"users"`

	// Network configures the address pools users draw identities from.
	Network NetworkConfig `yaml:"network,omitempty" json:"network,omitempty"`

	// Traffic configures the enterprise time policy.
	Traffic TrafficConfig `yaml:"traffic" json:"traffic"`

	// Sessions configures session shape defaults.
	Sessions SessionsConfig `yaml:"sessions,omitempty" json:"sessions,omitempty"`

	// JunkTraffic configures background noise traffic.
	JunkTraffic JunkConfig `yaml:"junk_traffic,omitempty" json:"junk_traffic,omitempty"`
}

// UsersConfig configures the simulated user population.
type UsersConfig struct {
	// TotalCount is the number of users to simulate.
	TotalCount int `yaml:"total_count" json:"total_count"`

	// Profiles partitions the population into behavioral classes.
	Profiles []ProfileClass `yaml:"profiles" json:"profiles"`
}

// ProfileClass is a named cohort of users sharing behavioral parameters.
type ProfileClass struct {
	// Name identifies the cohort (normal, power, risky).
	Name string `yaml:"name" json:"name"`

	// Percentage is this cohort's share of the population. All shares
	// must sum to 1.
	Percentage float64 `yaml:"percentage" json:"percentage"`

	// ServicesPerDay is the daily service-access quota distribution.
	ServicesPerDay Distribution `yaml:"services_per_day" json:"services_per_day"`

	// RiskyAppPreference is the probability this cohort prefers
	// unsanctioned or blocked services when selecting.
	RiskyAppPreference float64 `yaml:"risky_app_preference,omitempty" json:"risky_app_preference,omitempty"`

	// MobileProbability is the chance a session runs on a mobile device.
	// Default: 0.2
	MobileProbability float64 `yaml:"mobile_probability,omitempty" json:"mobile_probability,omitempty"`
}

// Distribution is a mean/standard-deviation pair used throughout the
// configuration documents.
type Distribution struct {
	Mean   float64 `yaml:"mean" json:"mean"`
	StdDev float64 `yaml:"std_dev,omitempty" json:"std_dev,omitempty"`
}

// NetworkConfig holds the enterprise address pools.
type NetworkConfig struct {
	// InternalSubnets are CIDR blocks user workstation addresses come from.
	// Default: 10.0.0.0/16
	InternalSubnets []string `yaml:"internal_subnets,omitempty" json:"internal_subnets,omitempty"`

	// VPNSubnets are CIDR blocks for rotating VPN identities.
	VPNSubnets []string `yaml:"vpn_subnets,omitempty" json:"vpn_subnets,omitempty"`

	// VPNProbability is the chance a session originates from a VPN
	// address instead of the user's fixed workstation address.
	// Default: 0.1
	VPNProbability float64 `yaml:"vpn_probability,omitempty" json:"vpn_probability,omitempty"`
}

// TrafficConfig is the enterprise time policy.
type TrafficConfig struct {
	// WorkingHours is the daily working window.
	WorkingHours WorkingHours `yaml:"working_hours" json:"working_hours"`

	// PeakHours lists local hours (0-23) with boosted activity.
	PeakHours []int `yaml:"peak_hours,omitempty" json:"peak_hours,omitempty"`

	// LunchDip enables the lunch-hour activity dip. Default: true.
	LunchDip *bool `yaml:"lunch_dip,omitempty" json:"lunch_dip,omitempty"`

	// LunchHour is the local lunch hour. Default: 12.
	LunchHour int `yaml:"lunch_hour,omitempty" json:"lunch_hour,omitempty"`

	// WeekendActivity scales activity on Saturday and Sunday.
	// Default: 0.1
	WeekendActivity float64 `yaml:"weekend_activity,omitempty" json:"weekend_activity,omitempty"`

	// BaseActiveRatio is the fraction of users active in a neutral hour
	// before the hourly multiplier applies. Default: 0.6
	BaseActiveRatio float64 `yaml:"base_active_ratio,omitempty" json:"base_active_ratio,omitempty"`

	// PeakMultiplier boosts peak hours. Default: 2.0
	PeakMultiplier float64 `yaml:"peak_multiplier,omitempty" json:"peak_multiplier,omitempty"`

	// LunchMultiplier dips the lunch hour. Default: 0.5
	LunchMultiplier float64 `yaml:"lunch_multiplier,omitempty" json:"lunch_multiplier,omitempty"`

	// OffHoursMultiplier dips hours outside the working window.
	// Default: 0.3
	OffHoursMultiplier float64 `yaml:"offhours_multiplier,omitempty" json:"offhours_multiplier,omitempty"`

	// RiskBoost multiplies selection probability of unsanctioned and
	// blocked services when a user's risky-app preference triggers.
	// Default: 2.5
	RiskBoost float64 `yaml:"risk_boost,omitempty" json:"risk_boost,omitempty"`
}

// WorkingHours is a local-time daily window.
type WorkingHours struct {
	// Start is the window start in "HH:MM" format. Default: "08:00"
	Start string `yaml:"start" json:"start"`

	// End is the window end in "HH:MM" format. Default: "18:00"
	End string `yaml:"end" json:"end"`

	// Timezone is the IANA zone the window is expressed in.
	// Default: "UTC"
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// StartHour returns the window's starting hour of day.
func (w WorkingHours) StartHour() int { return parseHour(w.Start, 8) }

// EndHour returns the window's ending hour of day (exclusive).
func (w WorkingHours) EndHour() int { return parseHour(w.End, 18) }

// Location resolves the configured timezone. Validation guarantees it loads.
func (w WorkingHours) Location() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseHour(s string, fallback int) int {
	h, _, ok := strings.Cut(s, ":")
	if !ok {
		h = s
	}
	n, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || n < 0 || n > 23 {
		return fallback
	}
	return n
}

// SessionsConfig holds session shape defaults.
type SessionsConfig struct {
	// DurationMinutes is the session duration distribution.
	// Default: mean 20, std_dev 10.
	DurationMinutes Distribution `yaml:"duration_minutes,omitempty" json:"duration_minutes,omitempty"`

	// BurstProbability is the chance a session's events cluster in
	// bursts rather than spreading smoothly. Default: 0.3
	BurstProbability float64 `yaml:"burst_probability,omitempty" json:"burst_probability,omitempty"`

	// AuthProbability is the chance a session opens with an
	// authentication event. Default: 0.8
	AuthProbability float64 `yaml:"auth_probability,omitempty" json:"auth_probability,omitempty"`
}

// JunkConfig configures background noise traffic against generic,
// non-enterprise sites.
type JunkConfig struct {
	// Enabled turns the junk mixer on. Default: false.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// PercentageOfTotal is the junk share of total traffic, in [0, 1).
	PercentageOfTotal float64 `yaml:"percentage_of_total,omitempty" json:"percentage_of_total,omitempty"`

	// Categories distributes junk traffic across site categories.
	// Key: category name (news, shopping, forums, ...).
	Categories map[string]JunkCategory `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// JunkCategory is one junk site category's behavior.
type JunkCategory struct {
	// Share is this category's relative share of junk traffic.
	Share float64 `yaml:"share" json:"share"`

	// AllowRate is the fraction of this category's requests that pass.
	// Default: 0.95
	AllowRate *float64 `yaml:"allow_rate,omitempty" json:"allow_rate,omitempty"`

	// Domains optionally overrides the built-in site list.
	Domains []string `yaml:"domains,omitempty" json:"domains,omitempty"`
}

// LoadEnterprise loads and validates an enterprise document from a YAML file.
func LoadEnterprise(path string) (*Enterprise, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading enterprise config: %w", err)
	}
	return LoadEnterpriseBytes(data)
}

// LoadEnterpriseBytes loads an enterprise document from YAML bytes.
func LoadEnterpriseBytes(data []byte) (*Enterprise, error) {
	var cfg Enterprise
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing enterprise config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Validate checks the document's invariants. Called once before generation;
// after it passes the engine treats the document as trusted.
func (c *Enterprise) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidConfig)
	}
	if c.Users.TotalCount <= 0 {
		return fmt.Errorf("%w: users.total_count must be positive", ErrInvalidConfig)
	}
	if len(c.Users.Profiles) == 0 {
		return fmt.Errorf("%w: at least one user profile is required", ErrInvalidConfig)
	}

	sum := 0.0
	names := make(map[string]bool)
	for i, p := range c.Users.Profiles {
		if p.Name == "" {
			return fmt.Errorf("%w: users.profiles[%d].name is required", ErrInvalidConfig, i)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate profile name: %s", ErrInvalidConfig, p.Name)
		}
		names[p.Name] = true
		if p.Percentage < 0 || p.Percentage > 1 {
			return fmt.Errorf("%w: profile %s: percentage must be in [0,1]", ErrInvalidConfig, p.Name)
		}
		if p.RiskyAppPreference < 0 || p.RiskyAppPreference > 1 {
			return fmt.Errorf("%w: profile %s: risky_app_preference must be in [0,1]", ErrInvalidConfig, p.Name)
		}
		if p.MobileProbability < 0 || p.MobileProbability > 1 {
			return fmt.Errorf("%w: profile %s: mobile_probability must be in [0,1]", ErrInvalidConfig, p.Name)
		}
		if p.ServicesPerDay.Mean < 0 || p.ServicesPerDay.StdDev < 0 {
			return fmt.Errorf("%w: profile %s: services_per_day must be non-negative", ErrInvalidConfig, p.Name)
		}
		sum += p.Percentage
	}
	if math.Abs(sum-1.0) > shareTolerance {
		return fmt.Errorf("%w: profile percentages sum to %.3f, want 1.0", ErrInvalidConfig, sum)
	}

	if tz := c.Traffic.WorkingHours.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, tz)
		}
	}
	for _, h := range c.Traffic.PeakHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("%w: peak hour %d out of range", ErrInvalidConfig, h)
		}
	}
	for name, val := range map[string]float64{
		"traffic.weekend_activity":  c.Traffic.WeekendActivity,
		"traffic.base_active_ratio": c.Traffic.BaseActiveRatio,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%w: %s must be in [0,1]", ErrInvalidConfig, name)
		}
	}

	if p := c.JunkTraffic.PercentageOfTotal; p < 0 || p >= 1 {
		return fmt.Errorf("%w: junk_traffic.percentage_of_total must be in [0,1)", ErrInvalidConfig)
	}
	for name, cat := range c.JunkTraffic.Categories {
		if cat.Share < 0 {
			return fmt.Errorf("%w: junk category %s: share must be non-negative", ErrInvalidConfig, name)
		}
		if cat.AllowRate != nil && (*cat.AllowRate < 0 || *cat.AllowRate > 1) {
			return fmt.Errorf("%w: junk category %s: allow_rate must be in [0,1]", ErrInvalidConfig, name)
		}
	}

	if p := c.Network.VPNProbability; p < 0 || p > 1 {
		return fmt.Errorf("%w: network.vpn_probability must be in [0,1]", ErrInvalidConfig)
	}
	if p := c.Sessions.BurstProbability; p < 0 || p > 1 {
		return fmt.Errorf("%w: sessions.burst_probability must be in [0,1]", ErrInvalidConfig)
	}
	if p := c.Sessions.AuthProbability; p < 0 || p > 1 {
		return fmt.Errorf("%w: sessions.auth_probability must be in [0,1]", ErrInvalidConfig)
	}

	return nil
}

// ApplyDefaults fills unset fields. After this the document is immutable.
func (c *Enterprise) ApplyDefaults() {
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Traffic.WorkingHours.Start == "" {
		c.Traffic.WorkingHours.Start = "08:00"
	}
	if c.Traffic.WorkingHours.End == "" {
		c.Traffic.WorkingHours.End = "18:00"
	}
	if c.Traffic.WorkingHours.Timezone == "" {
		c.Traffic.WorkingHours.Timezone = "UTC"
	}
	if c.Traffic.LunchDip == nil {
		dip := true
		c.Traffic.LunchDip = &dip
	}
	if c.Traffic.LunchHour == 0 {
		c.Traffic.LunchHour = 12
	}
	if c.Traffic.WeekendActivity == 0 {
		c.Traffic.WeekendActivity = 0.1
	}
	if c.Traffic.BaseActiveRatio == 0 {
		c.Traffic.BaseActiveRatio = 0.6
	}
	if c.Traffic.PeakMultiplier == 0 {
		c.Traffic.PeakMultiplier = 2.0
	}
	if c.Traffic.LunchMultiplier == 0 {
		c.Traffic.LunchMultiplier = 0.5
	}
	if c.Traffic.OffHoursMultiplier == 0 {
		c.Traffic.OffHoursMultiplier = 0.3
	}
	if c.Traffic.RiskBoost == 0 {
		c.Traffic.RiskBoost = 2.5
	}

	for i := range c.Users.Profiles {
		if c.Users.Profiles[i].MobileProbability == 0 {
			c.Users.Profiles[i].MobileProbability = 0.2
		}
	}

	if len(c.Network.InternalSubnets) == 0 {
		c.Network.InternalSubnets = []string{"10.0.0.0/16"}
	}
	if c.Network.VPNProbability == 0 && len(c.Network.VPNSubnets) > 0 {
		c.Network.VPNProbability = 0.1
	}

	if c.Sessions.DurationMinutes.Mean == 0 {
		c.Sessions.DurationMinutes = Distribution{Mean: 20, StdDev: 10}
	}
	if c.Sessions.BurstProbability == 0 {
		c.Sessions.BurstProbability = 0.3
	}
	if c.Sessions.AuthProbability == 0 {
		c.Sessions.AuthProbability = 0.8
	}

	for name, cat := range c.JunkTraffic.Categories {
		if cat.AllowRate == nil {
			allow := 0.95
			cat.AllowRate = &allow
			c.JunkTraffic.Categories[name] = cat
		}
	}
}

// ProfileByName returns the profile class with the given name, or nil.
func (c *Enterprise) ProfileByName(name string) *ProfileClass {
	for i := range c.Users.Profiles {
		if c.Users.Profiles[i].Name == name {
			return &c.Users.Profiles[i]
		}
	}
	return nil
}
