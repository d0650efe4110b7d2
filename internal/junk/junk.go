// Package junk synthesizes the background noise traffic that surrounds
// enterprise activity: ad beacons, CDN fetches, trackers and casual
// browsing against sites outside the modelled service catalog. Volume
// is tied to whatever the engine produced for the hour so the noise
// ratio holds across quiet nights and busy mornings.
package junk

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/population"
	"github.com/example/shadowgen/internal/rng"
)

const hourKeyFormat = "2006-01-02T15"

var junkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("shadowgen/junk"))

// site holds one category's built-in browsing material.
type site struct {
	domains []string
	paths   []string
}

// builtinSites covers the common noise categories when the
// configuration does not override the domain list.
var builtinSites = map[string]site{
	"advertising": {
		domains: []string{"ads.doubleclick.net", "adservice.google.com", "pixel.adsafeprotected.com", "cdn.taboola.com"},
		paths:   []string{"/pixel", "/impression", "/click", "/ad/banner.js"},
	},
	"cdn": {
		domains: []string{"cdn.jsdelivr.net", "cdnjs.cloudflare.com", "fonts.gstatic.com", "ajax.googleapis.com"},
		paths:   []string{"/lib/jquery.min.js", "/fonts/roboto.woff2", "/css/bootstrap.min.css", "/npm/vue.min.js"},
	},
	"analytics": {
		domains: []string{"www.google-analytics.com", "stats.wp.com", "bat.bing.com", "analytics.tiktok.com"},
		paths:   []string{"/collect", "/g/collect", "/beacon", "/events"},
	},
	"news": {
		domains: []string{"www.reuters.com", "www.bbc.com", "news.ycombinator.com", "www.theguardian.com"},
		paths:   []string{"/", "/world", "/technology", "/business", "/sports"},
	},
	"shopping": {
		domains: []string{"www.amazon.com", "www.ebay.com", "www.etsy.com"},
		paths:   []string{"/", "/s?k=office+chair", "/deals", "/cart"},
	},
	"entertainment": {
		domains: []string{"www.youtube.com", "open.spotify.com", "www.twitch.tv"},
		paths:   []string{"/", "/watch?v=dQw4w9WgXcQ", "/browse", "/trending"},
	},
}

// fallbackPaths serves categories configured with custom domains only.
var fallbackPaths = []string{"/", "/index.html", "/assets/app.js", "/api/ping"}

// category is one resolved noise category with its cumulative share.
type category struct {
	name      string
	cumShare  float64
	allowRate float64
	domains   []string
	paths     []string
}

// Generator synthesizes junk events. Immutable after construction.
type Generator struct {
	cfg        *config.Enterprise
	seeder     *rng.Seeder
	categories []category
	total      float64
}

// New builds a junk generator from the enterprise policy. When no
// categories are configured the built-in set is used with the default
// allow rate.
func New(cfg *config.Enterprise, seeder *rng.Seeder) *Generator {
	g := &Generator{cfg: cfg, seeder: seeder}

	specs := cfg.JunkTraffic.Categories
	if len(specs) == 0 {
		specs = make(map[string]config.JunkCategory, len(builtinSites))
		allow := 0.95
		for name := range builtinSites {
			specs[name] = config.JunkCategory{Share: 1, AllowRate: &allow}
		}
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	cum := 0.0
	for _, name := range names {
		spec := specs[name]
		if spec.Share <= 0 {
			continue
		}
		cum += spec.Share
		c := category{name: name, cumShare: cum, allowRate: 0.95}
		if spec.AllowRate != nil {
			c.allowRate = *spec.AllowRate
		}
		if b, ok := builtinSites[name]; ok {
			c.domains, c.paths = b.domains, b.paths
		}
		if len(spec.Domains) > 0 {
			c.domains = spec.Domains
		}
		if len(c.domains) == 0 {
			c.domains = []string{name + ".example.net"}
		}
		if len(c.paths) == 0 {
			c.paths = fallbackPaths
		}
		g.categories = append(g.categories, c)
	}
	g.total = cum
	return g
}

// Count returns the number of junk events that keeps the configured
// share of total traffic, given the enterprise event count for the same
// window. With share p and enterprise count n, junk contributes
// p/(1-p) * n so that junk/(junk+n) = p.
func (g *Generator) Count(enterpriseCount int) int {
	p := g.cfg.JunkTraffic.PercentageOfTotal
	if !g.cfg.JunkTraffic.Enabled || p <= 0 || enterpriseCount <= 0 || len(g.categories) == 0 {
		return 0
	}
	return int(p / (1 - p) * float64(enterpriseCount))
}

// Events synthesizes the hour's junk traffic, attributed to the hour's
// active users. enterpriseCount is the number of catalog events the
// engine produced for the same hour.
func (g *Generator) Events(hour time.Time, active []*population.User, enterpriseCount int) []event.Event {
	n := g.Count(enterpriseCount)
	if n == 0 || len(active) == 0 {
		return nil
	}

	hourKey := hour.UTC().Format(hourKeyFormat)
	r := g.seeder.Derive("junk", hourKey)

	events := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		u := active[r.Intn(len(active))]
		c := g.pick(r)
		ts := hour.Add(time.Duration(r.Int63n(int64(time.Hour))))

		ev := event.Event{
			Timestamp: ts,
			SessionID: junkID(hourKey, i),
			UserEmail: u.Email,
			Username:  u.Username(),
			SourceIP:  u.SourceIP,
			Service:   "Internet-" + c.name,
			Category:  c.name,
			RiskLevel: "low",
			Action:    "page_view",
			Method:    "GET",
			URL:       fmt.Sprintf("https://%s%s", c.domains[r.Intn(len(c.domains))], c.paths[r.Intn(len(c.paths))]),
			UserAgent: u.UserAgent,
			Device:    event.DeviceDesktop,
			Outcome:   event.OutcomeAllowed,
			Junk:      true,
		}
		if rng.Bernoulli(r, c.allowRate) {
			ev.StatusCode = 200
			ev.BytesOut = int64(100 + r.Intn(400))
			ev.BytesIn = int64(500 + r.Intn(49500))
		} else {
			ev.Outcome = event.OutcomeBlockedPolicy
			ev.StatusCode = 403
			ev.BlockReason = "URL category blocked"
			ev.BytesOut = int64(100 + r.Intn(200))
			ev.BytesIn = int64(500 + r.Intn(1000))
		}
		ev.DurationMS = int64(20 + r.Intn(480))
		events = append(events, ev)
	}
	return events
}

func (g *Generator) pick(r *rand.Rand) *category {
	draw := r.Float64() * g.total
	i := sort.Search(len(g.categories), func(i int) bool {
		return g.categories[i].cumShare > draw
	})
	if i == len(g.categories) {
		i = len(g.categories) - 1
	}
	return &g.categories[i]
}

// junkID derives a stable per-event session identifier; junk requests
// carry no real session.
func junkID(hourKey string, i int) string {
	return uuid.NewSHA1(junkNamespace, []byte(fmt.Sprintf("%s/%d", hourKey, i))).String()
}
