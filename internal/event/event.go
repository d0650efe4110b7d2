// Package event defines the record shapes the generation engine hands to
// downstream formatting and output collaborators.
package event

import (
	"time"
)

// Outcome is the access decision recorded on an event.
type Outcome string

// Supported outcomes.
const (
	// OutcomeAllowed marks traffic that passed the gateway.
	OutcomeAllowed Outcome = "allowed"
	// OutcomeBlockedPolicy marks traffic blocked by service status or block rate.
	OutcomeBlockedPolicy Outcome = "blocked_policy"
	// OutcomeBlockedDLP marks traffic blocked by a DLP trigger.
	OutcomeBlockedDLP Outcome = "blocked_dlp"
)

// Blocked reports whether the outcome denied the request.
func (o Outcome) Blocked() bool {
	return o == OutcomeBlockedPolicy || o == OutcomeBlockedDLP
}

// DeviceClass identifies the device a session ran on.
type DeviceClass string

// Supported device classes.
const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
)

// Event is a single web-access record observed by the simulated gateway.
// Events are produced in chronological order per hour and are not retained
// by the engine after hand-off.
type Event struct {
	// Timestamp is when the access happened.
	Timestamp time.Time

	// SessionID ties the event to the session that produced it. Junk
	// traffic has no session and carries a synthesized per-event
	// identifier instead.
	SessionID string

	// UserEmail is the acting user's email address.
	UserEmail string

	// Username is the local part of the user's email.
	Username string

	// SourceIP is the client address the gateway saw.
	SourceIP string

	// Service is the cloud service name, or "Internet-<category>" for junk.
	Service string

	// Category is the service category (collaboration, cloud_storage, ...).
	Category string

	// RiskLevel is the service's configured risk level.
	RiskLevel string

	// Action is the sampled action type (page_view, file_upload, ...).
	Action string

	// Method is the HTTP method implied by the action.
	Method string

	// URL is the full request URL.
	URL string

	// StatusCode is the HTTP status the gateway recorded.
	StatusCode int

	// BytesIn is bytes received by the client. Zero when not applicable.
	BytesIn int64

	// BytesOut is bytes sent by the client. Zero when not applicable.
	BytesOut int64

	// DurationMS is the request duration in milliseconds.
	DurationMS int64

	// UserAgent is the client user agent string.
	UserAgent string

	// Device is the device class of the originating session.
	Device DeviceClass

	// Outcome is the access decision.
	Outcome Outcome

	// BlockReason is set only when Outcome is a blocked variant.
	BlockReason string

	// Junk marks background noise traffic from the junk mixer.
	Junk bool
}

// AlertKind identifies the policy that raised an alert.
type AlertKind string

// Supported alert kinds.
const (
	// AlertRepeatedAttempts fires when a user keeps hammering a blocked service.
	AlertRepeatedAttempts AlertKind = "repeated_attempts"
	// AlertDLP fires when a DLP trigger with an alert action matches.
	AlertDLP AlertKind = "dlp"
)

// Alert is the engine's only secondary artifact: a side-channel record
// emitted by the access outcome resolver.
type Alert struct {
	// ID is a stable identifier derived from the alert's key fields.
	ID string

	// Timestamp is the event time that tripped the alert.
	Timestamp time.Time

	// UserEmail is the user the alert concerns.
	UserEmail string

	// Service is the service the alert concerns.
	Service string

	// Kind is the alerting policy.
	Kind AlertKind

	// Severity comes from the service's alert configuration.
	Severity string

	// Pattern is the DLP trigger pattern, for DLP alerts.
	Pattern string

	// Count is the number of attempts inside the window, for
	// repeated-attempt alerts.
	Count int

	// Window is the repeated-attempt window.
	Window time.Duration
}
