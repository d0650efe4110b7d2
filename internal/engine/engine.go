// Package engine orchestrates the generation pipeline: per hour it
// selects the active population, instantiates sessions, samples and
// classifies events, mixes in junk traffic and hands one chronologically
// ordered stream to the caller's sink.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/junk"
	"github.com/example/shadowgen/internal/metrics"
	"github.com/example/shadowgen/internal/outcome"
	"github.com/example/shadowgen/internal/population"
	"github.com/example/shadowgen/internal/rng"
	"github.com/example/shadowgen/internal/sampler"
	"github.com/example/shadowgen/internal/selector"
	"github.com/example/shadowgen/internal/session"
	"github.com/example/shadowgen/internal/timemodel"
)

const hourKeyFormat = "2006-01-02T15"

// Sink consumes the engine's ordered output. output.Writer satisfies it.
type Sink interface {
	WriteEvent(ctx context.Context, ev *event.Event) error
	WriteAlert(a *event.Alert) error
	Flush() error
}

// Options tune engine construction.
type Options struct {
	// Seed overrides the enterprise configuration seed when non-zero.
	Seed int64

	// Workers caps concurrent per-user generation.
	// Default: runtime.GOMAXPROCS(0).
	Workers int

	// Logger receives progress logs. Default: zap.NewNop().
	Logger *zap.Logger

	// Exporter optionally records generation metrics.
	Exporter *metrics.PrometheusExporter
}

// Engine generates the event stream for one enterprise. Construction is
// deterministic for a given configuration and seed.
type Engine struct {
	ent      *config.Enterprise
	services []*config.Service

	seeder   *rng.Seeder
	model    *timemodel.Model
	pop      *population.Population
	sel      *selector.Selector
	builder  *session.Builder
	samplers map[string]*sampler.Sampler
	resolver *outcome.Resolver
	junk     *junk.Generator

	workers  int
	log      *zap.Logger
	exporter *metrics.PrometheusExporter
}

// New builds an engine over a validated enterprise policy and service
// catalog.
func New(ent *config.Enterprise, services []*config.Service, opts Options) (*Engine, error) {
	seed := ent.Seed
	if opts.Seed != 0 {
		seed = opts.Seed
	}
	seeder, err := rng.NewSeeder(seed)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	model := timemodel.New(ent)
	pop, err := population.New(ent, seeder)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	samplers := make(map[string]*sampler.Sampler, len(services))
	for _, svc := range services {
		samplers[svc.Name()] = sampler.New(svc)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		ent:      ent,
		services: services,
		seeder:   seeder,
		model:    model,
		pop:      pop,
		sel:      selector.New(ent, model, services, seeder),
		builder:  session.NewBuilder(ent, seeder),
		samplers: samplers,
		resolver: outcome.NewResolver(seeder),
		junk:     junk.New(ent, seeder),
		workers:  workers,
		log:      log,
		exporter: opts.Exporter,
	}, nil
}

// Population exposes the generated roster, for inspection and dry runs.
func (e *Engine) Population() *population.Population { return e.pop }

// HourResult is one generated hour: events and alerts in chronological
// order plus counters for logging.
type HourResult struct {
	Hour        time.Time
	Events      []event.Event
	Alerts      []event.Alert
	Sessions    int
	ActiveUsers int
}

// userOutput is one user's share of an hour, produced concurrently and
// merged in roster order so concurrency never changes the stream.
type userOutput struct {
	events   []event.Event
	alerts   []event.Alert
	sessions int
}

// GenerateHour produces all traffic with timestamps in [hour, hour+1h).
// Hours must be generated in chronological order; attempt budgets carry
// state across hours of the same day.
func (e *Engine) GenerateHour(ctx context.Context, hour time.Time) (*HourResult, error) {
	hour = hour.Truncate(time.Hour)
	active := e.sel.ActiveUsers(e.pop, hour)

	outputs := make([]userOutput, len(active))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, u := range active {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outputs[i] = e.generateUser(u, hour)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &HourResult{Hour: hour, ActiveUsers: len(active)}
	for i := range outputs {
		res.Events = append(res.Events, outputs[i].events...)
		res.Alerts = append(res.Alerts, outputs[i].alerts...)
		res.Sessions += outputs[i].sessions
	}

	res.Events = append(res.Events, e.junk.Events(hour, active, len(res.Events))...)

	sort.SliceStable(res.Events, func(i, j int) bool {
		return lessEvent(&res.Events[i], &res.Events[j])
	})
	sort.SliceStable(res.Alerts, func(i, j int) bool {
		a, b := &res.Alerts[i], &res.Alerts[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return res, nil
}

// generateUser produces one user's sessions and events for the hour.
func (e *Engine) generateUser(u *population.User, hour time.Time) userOutput {
	var out userOutput
	hourKey := hour.UTC().Format(hourKeyFormat)

	for _, svc := range e.sel.SelectServices(u, hour) {
		sess := e.builder.Build(u, svc, hour)
		if sess == nil {
			continue
		}
		out.sessions++

		sm := e.samplers[svc.Name()]
		r := e.seeder.Derive("events", u.ID, svc.Name(), hourKey)
		blocked := svc.Status() == config.StatusBlocked

		if sess.AuthLeadIn {
			ev := sm.AuthEvent(r, sess, sess.Start)
			out.events = append(out.events, ev)
		}

		for _, off := range sess.Offsets {
			ts := sess.Start.Add(off)
			var ev event.Event
			if blocked {
				ev = sm.AttemptEvent(r, sess, ts)
			} else {
				ev = sm.Sample(r, sess, ts)
			}

			dec := e.resolver.Resolve(r, &ev, svc, u, e.model.Day(ts))
			if dec.Drop {
				continue
			}
			out.events = append(out.events, ev)
			out.alerts = append(out.alerts, dec.Alerts...)
		}
	}
	return out
}

// Run generates every hour in [start, end) and forwards the ordered
// stream to the sink, flushing at each hour boundary. Attempt counters
// are pruned when the simulated day changes.
func (e *Engine) Run(ctx context.Context, start, end time.Time, sink Sink) error {
	start = start.Truncate(time.Hour)
	end = end.Truncate(time.Hour)
	if !start.Before(end) {
		return fmt.Errorf("engine: empty time range [%s, %s)", start, end)
	}

	e.log.Info("starting generation",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("users", e.pop.Size()),
		zap.Int("services", len(e.services)),
		zap.Int("workers", e.workers),
	)

	day := ""
	for hour := start; hour.Before(end); hour = hour.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if d := e.model.Day(hour); d != day {
			if day != "" {
				e.resolver.Prune(d)
			}
			day = d
		}

		began := time.Now()
		res, err := e.GenerateHour(ctx, hour)
		if err != nil {
			return err
		}

		for i := range res.Events {
			if err := sink.WriteEvent(ctx, &res.Events[i]); err != nil {
				return err
			}
			if e.exporter != nil {
				e.exporter.RecordEvent(&res.Events[i])
			}
		}
		for i := range res.Alerts {
			if err := sink.WriteAlert(&res.Alerts[i]); err != nil {
				return err
			}
			if e.exporter != nil {
				e.exporter.RecordAlert(&res.Alerts[i])
			}
		}
		if err := sink.Flush(); err != nil {
			return err
		}

		if e.exporter != nil {
			e.exporter.RecordSessions(res.Sessions)
			e.exporter.UpdateActiveUsers(res.ActiveUsers)
			e.exporter.ObserveHourGeneration(time.Since(began))
		}
		e.log.Debug("hour generated",
			zap.Time("hour", hour),
			zap.Int("activeUsers", res.ActiveUsers),
			zap.Int("sessions", res.Sessions),
			zap.Int("events", len(res.Events)),
			zap.Int("alerts", len(res.Alerts)),
			zap.Duration("took", time.Since(began)),
		)
	}

	e.log.Info("generation complete", zap.Time("start", start), zap.Time("end", end))
	return nil
}

// lessEvent orders the hour's stream: by timestamp, with stable
// tie-breaks so concurrent generation and map-free sorting cannot
// reorder equal-time events between runs.
func lessEvent(a, b *event.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.SessionID != b.SessionID {
		return a.SessionID < b.SessionID
	}
	if a.URL != b.URL {
		return a.URL < b.URL
	}
	return strings.Compare(a.Action, b.Action) < 0
}
