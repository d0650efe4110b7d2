// Package format renders events into secure web gateway log formats.
// LEEF and CEF mirror the McAfee Web Gateway dialect; JSON is a plain
// line-delimited rendering for downstream tooling.
package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"

	"github.com/example/shadowgen/internal/event"
)

// ErrUnknownFormat is returned for format names New does not recognize.
var ErrUnknownFormat = errors.New("format: unknown format")

// Emulated gateway identity carried in LEEF and CEF headers.
const (
	vendor         = "McAfee"
	product        = "Web Gateway"
	productVersion = "8.2.9"
)

// Formatter renders one event as a single log line without the trailing
// newline.
type Formatter interface {
	// Name is the format's canonical name (leef, cef, json).
	Name() string

	// Format renders the event.
	Format(ev *event.Event) string
}

// New returns the formatter for the given name.
func New(name string) (Formatter, error) {
	switch strings.ToLower(name) {
	case "leef":
		return LEEF{}, nil
	case "cef":
		return CEF{}, nil
	case "json":
		return JSON{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// LEEF renders events in LEEF 1.0:
//
//	LEEF:1.0|Vendor|Product|Version|EventID|key1=value1|key2=value2|...
type LEEF struct{}

// Name implements Formatter.
func (LEEF) Name() string { return "leef" }

// Format implements Formatter.
func (LEEF) Format(ev *event.Event) string {
	var b strings.Builder
	b.Grow(512)

	fmt.Fprintf(&b, "LEEF:1.0|%s|%s|%s|%s", vendor, product, productVersion, leefEventID(ev))

	host := urlHost(ev.URL)
	pair(&b, "devTime", fmt.Sprintf("%d", ev.Timestamp.UnixMilli()))
	pair(&b, "src", ev.SourceIP)
	pair(&b, "dst", destinationIP(host))
	pair(&b, "srcPort", fmt.Sprintf("%d", sourcePort(ev)))
	pair(&b, "dstPort", "443")
	pair(&b, "usrName", leefEscape(ev.Username))
	pair(&b, "domain", leefEscape(emailDomain(ev.UserEmail)))
	pair(&b, "url", leefEscape(ev.URL))
	pair(&b, "method", ev.Method)
	pair(&b, "proto", "https")
	pair(&b, "status", fmt.Sprintf("%d", ev.StatusCode))
	pair(&b, "bytesIn", fmt.Sprintf("%d", ev.BytesIn))
	pair(&b, "bytesOut", fmt.Sprintf("%d", ev.BytesOut))
	pair(&b, "responseTime", fmt.Sprintf("%d", ev.DurationMS))
	pair(&b, "userAgent", leefEscape(ev.UserAgent))
	pair(&b, "category", leefEscape(ev.Category))
	pair(&b, "riskLevel", ev.RiskLevel)
	pair(&b, "action", gatewayAction(ev.Outcome))
	pair(&b, "application", leefEscape(ev.Service))
	if ev.BlockReason != "" {
		pair(&b, "reason", leefEscape(ev.BlockReason))
	}
	return b.String()
}

func pair(b *strings.Builder, key, value string) {
	b.WriteByte('|')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}

// leefEventID maps the event onto the gateway's event taxonomy: 0 for
// allowed traffic, 1 for blocks, 2 for authentication, 4 for DLP.
func leefEventID(ev *event.Event) string {
	switch {
	case ev.Outcome == event.OutcomeBlockedDLP:
		return "4"
	case ev.Outcome.Blocked():
		return "1"
	case ev.Action == "auth":
		return "2"
	}
	return "0"
}

// leefEscape escapes backslash, pipe and line breaks in LEEF values.
func leefEscape(v string) string {
	r := strings.NewReplacer(`\`, `\\`, "|", `\|`, "\n", `\n`, "\r", `\r`)
	return r.Replace(v)
}

// CEF renders events in ArcSight CEF:
//
//	CEF:0|Vendor|Product|Version|EventClassID|Name|Severity|ext
type CEF struct{}

// Name implements Formatter.
func (CEF) Name() string { return "cef" }

// Format implements Formatter.
func (CEF) Format(ev *event.Event) string {
	var b strings.Builder
	b.Grow(512)

	fmt.Fprintf(&b, "CEF:0|%s|%s|%s|%s|%s|%d|",
		cefHeaderEscape(vendor),
		cefHeaderEscape(product),
		cefHeaderEscape(productVersion),
		cefEventClassID(ev),
		cefHeaderEscape(cefEventName(ev)),
		cefSeverity(ev),
	)

	host := urlHost(ev.URL)
	ext := []string{
		"rt=" + fmt.Sprintf("%d", ev.Timestamp.UnixMilli()),
		"src=" + ev.SourceIP,
		"dst=" + destinationIP(host),
		"spt=" + fmt.Sprintf("%d", sourcePort(ev)),
		"dpt=443",
		"suser=" + cefExtEscape(ev.Username),
		"sntdom=" + cefExtEscape(emailDomain(ev.UserEmail)),
		"request=" + cefExtEscape(ev.URL),
		"requestMethod=" + ev.Method,
		"app=HTTPS",
		"flexNumber1=" + fmt.Sprintf("%d", ev.StatusCode),
		"flexNumber1Label=HTTPStatus",
		"in=" + fmt.Sprintf("%d", ev.BytesIn),
		"out=" + fmt.Sprintf("%d", ev.BytesOut),
		"cn1=" + fmt.Sprintf("%d", ev.DurationMS),
		"cn1Label=ResponseTime",
		"requestClientApplication=" + cefExtEscape(ev.UserAgent),
		"cat=" + cefExtEscape(ev.Category),
		"act=" + gatewayAction(ev.Outcome),
		"flexString1=" + ev.RiskLevel,
		"flexString1Label=RiskLevel",
		"destinationServiceName=" + cefExtEscape(ev.Service),
	}
	if ev.BlockReason != "" {
		ext = append(ext, "reason="+cefExtEscape(ev.BlockReason))
	}
	b.WriteString(strings.Join(ext, " "))
	return b.String()
}

// cefEventClassID maps events onto the gateway's class taxonomy: 100
// allowed, 101 blocked, 102 authentication, 104 DLP.
func cefEventClassID(ev *event.Event) string {
	switch {
	case ev.Outcome == event.OutcomeBlockedDLP:
		return "104"
	case ev.Outcome.Blocked():
		return "101"
	case ev.Action == "auth":
		return "102"
	}
	return "100"
}

func cefEventName(ev *event.Event) string {
	if ev.Outcome.Blocked() {
		return "Blocked access to " + ev.Service
	}
	return "Web request to " + ev.Service
}

// cefSeverity maps outcome and risk level onto the 0..10 scale.
func cefSeverity(ev *event.Event) int {
	if ev.Outcome.Blocked() {
		switch ev.RiskLevel {
		case "critical", "high":
			return 8
		case "medium":
			return 6
		}
		return 5
	}
	switch ev.RiskLevel {
	case "critical", "high":
		return 4
	case "medium":
		return 3
	}
	return 1
}

func cefHeaderEscape(v string) string {
	r := strings.NewReplacer(`\`, `\\`, "|", `\|`)
	return r.Replace(v)
}

func cefExtEscape(v string) string {
	r := strings.NewReplacer(`\`, `\\`, "=", `\=`, "\n", `\n`, "\r", `\r`)
	return r.Replace(v)
}

// JSON renders events as line-delimited JSON with a stable field set.
type JSON struct{}

// Name implements Formatter.
func (JSON) Name() string { return "json" }

// jsonEvent is the wire shape of a JSON-rendered event.
type jsonEvent struct {
	Timestamp   string `json:"timestamp"`
	SessionID   string `json:"session_id,omitempty"`
	UserEmail   string `json:"user_email"`
	Username    string `json:"username"`
	SourceIP    string `json:"source_ip"`
	Service     string `json:"service"`
	Category    string `json:"category"`
	RiskLevel   string `json:"risk_level"`
	Action      string `json:"action"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	BytesIn     int64  `json:"bytes_in"`
	BytesOut    int64  `json:"bytes_out"`
	DurationMS  int64  `json:"duration_ms"`
	UserAgent   string `json:"user_agent"`
	Device      string `json:"device"`
	Outcome     string `json:"outcome"`
	BlockReason string `json:"block_reason,omitempty"`
	Junk        bool   `json:"junk,omitempty"`
}

// Format implements Formatter.
func (JSON) Format(ev *event.Event) string {
	out, err := json.Marshal(jsonEvent{
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID:   ev.SessionID,
		UserEmail:   ev.UserEmail,
		Username:    ev.Username,
		SourceIP:    ev.SourceIP,
		Service:     ev.Service,
		Category:    ev.Category,
		RiskLevel:   ev.RiskLevel,
		Action:      ev.Action,
		Method:      ev.Method,
		URL:         ev.URL,
		StatusCode:  ev.StatusCode,
		BytesIn:     ev.BytesIn,
		BytesOut:    ev.BytesOut,
		DurationMS:  ev.DurationMS,
		UserAgent:   ev.UserAgent,
		Device:      string(ev.Device),
		Outcome:     string(ev.Outcome),
		BlockReason: ev.BlockReason,
		Junk:        ev.Junk,
	})
	if err != nil {
		// Only unmarshalable types reach here; the wire struct has none.
		return ""
	}
	return string(out)
}

// jsonAlert is the wire shape of a JSON-rendered alert.
type jsonAlert struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	UserEmail     string `json:"user_email"`
	Service       string `json:"service"`
	Kind          string `json:"kind"`
	Severity      string `json:"severity"`
	Pattern       string `json:"pattern,omitempty"`
	Count         int    `json:"count,omitempty"`
	WindowMinutes int    `json:"window_minutes,omitempty"`
}

// FormatAlert renders an alert as a JSON line. Alerts use JSON in every
// output format; they feed detection pipelines, not gateway log parsers.
func FormatAlert(a *event.Alert) string {
	out, err := json.Marshal(jsonAlert{
		ID:            a.ID,
		Timestamp:     a.Timestamp.UTC().Format(time.RFC3339Nano),
		UserEmail:     a.UserEmail,
		Service:       a.Service,
		Kind:          string(a.Kind),
		Severity:      a.Severity,
		Pattern:       a.Pattern,
		Count:         a.Count,
		WindowMinutes: int(a.Window / time.Minute),
	})
	if err != nil {
		return ""
	}
	return string(out)
}

// gatewayAction renders the outcome the way gateway logs label it.
func gatewayAction(o event.Outcome) string {
	if o.Blocked() {
		return "blocked"
	}
	return "allowed"
}

func urlHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func emailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return email
}

// destinationIP synthesizes a stable public-looking address for a host.
// The generator never resolves DNS; logs only need a consistent value
// per destination.
func destinationIP(host string) string {
	h := fnv.New32a()
	h.Write([]byte(host))
	s := h.Sum32()
	return fmt.Sprintf("104.18.%d.%d", (s>>8)&0xff, s&0xff)
}

// sourcePort synthesizes a stable ephemeral port for the event.
func sourcePort(ev *event.Event) int {
	h := fnv.New32a()
	h.Write([]byte(ev.SessionID))
	h.Write([]byte(ev.Timestamp.UTC().Format(time.RFC3339Nano)))
	return 49152 + int(h.Sum32()%16384)
}
