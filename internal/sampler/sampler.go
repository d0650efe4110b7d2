// Package sampler chooses an action type per event from a service's
// weighted action set and synthesizes the event's numeric attributes
// (duration, byte sizes) from the configured distributions. The weighted
// set is validated and tagged once at construction, then resolved
// through the variant table instead of per-event map lookups.
package sampler

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/rng"
	"github.com/example/shadowgen/internal/session"
)

// actionKind tags the shape of an action's synthesized attributes.
type actionKind int

const (
	kindBrowse actionKind = iota
	kindUpload
	kindDownload
	kindMessage
	kindAPI
)

const (
	megabyte = 1 << 20

	// sizeEpsilonMB floors truncated size draws; no negative or zero
	// transfers.
	sizeEpsilonMB = 0.001

	// durationEpsilon floors truncated duration draws, in seconds.
	durationEpsilon = 0.1
)

// actionSpec is one validated entry of the weighted action set.
type actionSpec struct {
	name      string
	kind      actionKind
	cumWeight float64

	durMean   float64 // seconds; zero when undeclared
	sizeMean  float64 // MB; zero when undeclared
	sizeStd   float64 // MB
	perHour   float64
}

// Sampler synthesizes events for one service. Immutable and safe for
// concurrent use; callers pass their own generator per draw.
type Sampler struct {
	svc     *config.Service
	domain  string
	actions []actionSpec
	total   float64
}

// New builds a sampler from a validated service profile. Services with
// no declared actions fall back to a single page_view action.
func New(svc *config.Service) *Sampler {
	s := &Sampler{svc: svc, domain: svc.PrimaryDomain()}

	names := make([]string, 0, len(svc.Activity.Actions))
	for name := range svc.Activity.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	cum := 0.0
	for _, name := range names {
		a := svc.Activity.Actions[name]
		cum += a.Weight
		s.actions = append(s.actions, actionSpec{
			name:      name,
			kind:      classifyAction(name),
			cumWeight: cum,
			durMean:   a.AvgDurationSeconds,
			sizeMean:  a.AvgSizeMB,
			sizeStd:   a.SizeStdDev,
			perHour:   a.AvgPerHour,
		})
	}
	if len(s.actions) == 0 {
		cum = 1
		s.actions = append(s.actions, actionSpec{name: "page_view", kind: kindBrowse, cumWeight: 1})
	}
	s.total = cum
	return s
}

// classifyAction maps an action name onto its attribute shape.
func classifyAction(name string) actionKind {
	switch name {
	case "file_upload", "upload":
		return kindUpload
	case "file_download", "download":
		return kindDownload
	case "message_send", "email_send", "message", "chat":
		return kindMessage
	case "api_call":
		return kindAPI
	default:
		return kindBrowse
	}
}

// Sample synthesizes one event for the session at the given timestamp.
// The outcome fields are left at their allowed defaults; the access
// outcome resolver classifies the event afterwards.
func (s *Sampler) Sample(r *rand.Rand, sess *session.Session, ts time.Time) event.Event {
	spec := s.pick(r)
	ev := s.base(sess, ts)
	ev.Action = spec.name

	switch spec.kind {
	case kindUpload:
		size := s.transferBytes(r, spec)
		ev.Method = "POST"
		ev.URL = s.url(s.apiPath(r, "/api/upload"))
		ev.BytesOut = size
		ev.BytesIn = int64(200 + r.Intn(800))
	case kindDownload:
		size := s.transferBytes(r, spec)
		ev.Method = "GET"
		ev.URL = s.url(fmt.Sprintf("/files/%d/download", 1000+r.Intn(9000)))
		ev.BytesOut = int64(200 + r.Intn(300))
		ev.BytesIn = size
	case kindMessage:
		ev.Method = "POST"
		ev.URL = s.url(s.apiPath(r, "/api/messages"))
		ev.BytesOut = int64(800 + r.Intn(400))
		ev.BytesIn = int64(200 + r.Intn(300))
	case kindAPI:
		ev.Method = [4]string{"GET", "POST", "PUT", "DELETE"}[r.Intn(4)]
		ev.URL = s.url(s.apiPath(r, "/api/v1/data"))
		ev.BytesOut = int64(100 + r.Intn(1900))
		ev.BytesIn = int64(500 + r.Intn(49500))
	default:
		ev.Method = "GET"
		ev.URL = s.url(s.webPath(r))
		ev.BytesOut = int64(200 + r.Intn(600))
		ev.BytesIn = int64(5000 + r.Intn(95000))
	}

	ev.DurationMS = s.durationMS(r, spec)
	ev.StatusCode = statusCode(r)
	return ev
}

// AuthEvent synthesizes the authentication lead-in most sessions open
// with.
func (s *Sampler) AuthEvent(r *rand.Rand, sess *session.Session, ts time.Time) event.Event {
	ev := s.base(sess, ts)
	ev.Action = "auth"
	ev.Method = "POST"
	paths := [4]string{"/login", "/api/auth", "/oauth/authorize", "/saml/sso"}
	ev.URL = s.url(paths[r.Intn(4)])
	ev.StatusCode = 200
	ev.BytesOut = int64(200 + r.Intn(300))
	ev.BytesIn = int64(1000 + r.Intn(4000))
	ev.DurationMS = int64(100 + r.Intn(400))
	return ev
}

// AttemptEvent synthesizes an access attempt against a blocked service.
// The resolver stamps the outcome and status.
func (s *Sampler) AttemptEvent(r *rand.Rand, sess *session.Session, ts time.Time) event.Event {
	ev := s.base(sess, ts)
	ev.Action = "page_view"
	ev.Method = "GET"
	ev.URL = s.url(s.webPath(r))
	ev.StatusCode = 403
	ev.BytesOut = int64(100 + r.Intn(200))
	ev.BytesIn = int64(500 + r.Intn(1000)) // block page
	ev.DurationMS = int64(10 + r.Intn(40))
	return ev
}

func (s *Sampler) base(sess *session.Session, ts time.Time) event.Event {
	return event.Event{
		Timestamp: ts,
		SessionID: sess.ID,
		UserEmail: sess.User.Email,
		Username:  sess.User.Username(),
		SourceIP:  sess.SourceIP,
		Service:   s.svc.Name(),
		Category:  s.svc.Meta.Category,
		RiskLevel: s.svc.Meta.RiskLevel,
		UserAgent: sess.UserAgent,
		Device:    sess.Device,
		Outcome:   event.OutcomeAllowed,
	}
}

// pick draws an action from the cumulative weight table. Weights are
// relative; the table renormalizes by construction.
func (s *Sampler) pick(r *rand.Rand) *actionSpec {
	draw := r.Float64() * s.total
	i := sort.Search(len(s.actions), func(i int) bool {
		return s.actions[i].cumWeight > draw
	})
	if i == len(s.actions) {
		i = len(s.actions) - 1
	}
	return &s.actions[i]
}

// transferBytes draws a file transfer size from the declared mean/stddev
// truncated to a small positive epsilon, or a generic size when no
// distribution is declared.
func (s *Sampler) transferBytes(r *rand.Rand, spec *actionSpec) int64 {
	if spec.sizeMean <= 0 {
		return int64(1024 + r.Intn(10*megabyte-1024))
	}
	std := spec.sizeStd
	if std == 0 {
		std = spec.sizeMean * 0.25
	}
	mb := rng.TruncatedNormal(r, spec.sizeMean, std, sizeEpsilonMB)
	return int64(mb * megabyte)
}

// durationMS draws the request duration from the declared distribution or
// a kind-typical range.
func (s *Sampler) durationMS(r *rand.Rand, spec *actionSpec) int64 {
	if spec.durMean > 0 {
		sec := rng.TruncatedNormal(r, spec.durMean, spec.durMean*0.3, durationEpsilon)
		return int64(sec * 1000)
	}
	switch spec.kind {
	case kindUpload, kindDownload:
		return int64(500 + r.Intn(4500))
	case kindAPI:
		return int64(50 + r.Intn(450))
	default:
		return int64(100 + r.Intn(900))
	}
}

func (s *Sampler) url(path string) string {
	return "https://" + s.domain + path
}

func (s *Sampler) webPath(r *rand.Rand) string {
	if paths := s.svc.TrafficPatterns.WebPaths; len(paths) > 0 {
		return paths[r.Intn(len(paths))]
	}
	return "/"
}

func (s *Sampler) apiPath(r *rand.Rand, fallback string) string {
	if paths := s.svc.TrafficPatterns.APIEndpoints; len(paths) > 0 {
		return paths[r.Intn(len(paths))]
	}
	return fallback
}

// statusCode draws the HTTP status for an allowed event: mostly 200/304
// with occasional client and server errors.
func statusCode(r *rand.Rand) int {
	if r.Float64() < 0.95 {
		if r.Float64() < 0.8 {
			return 200
		}
		return 304
	}
	codes := [5]int{400, 401, 404, 500, 503}
	return codes[r.Intn(5)]
}
