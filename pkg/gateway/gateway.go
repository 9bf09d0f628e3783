// Package gateway wires the detection pipeline together. Each captured
// request traverses it exactly once: classified against the host trust
// registry, short-circuited if trusted or ignored, otherwise matched and
// profiled, scored, and enforced.
package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/glancesec/glance/pkg/config"
	"github.com/glancesec/glance/pkg/enforce"
	"github.com/glancesec/glance/pkg/export"
	"github.com/glancesec/glance/pkg/flow"
	"github.com/glancesec/glance/pkg/inspect"
	"github.com/glancesec/glance/pkg/patterns"
	"github.com/glancesec/glance/pkg/profile"
	"github.com/glancesec/glance/pkg/score"
	"github.com/glancesec/glance/pkg/trust"
)

// Gateway is the interception core. Construct it once at startup; Inspect is
// safe for concurrent use from any number of connection handlers.
type Gateway struct {
	cfg      *config.Config
	trust    *trust.Registry
	matcher  *inspect.Matcher
	profiler *profile.Profiler
	scorer   *score.Scorer
	enforcer *enforce.Enforcer
	slots    *inspectionSlots
	sink     export.Sink
	logger   zerolog.Logger

	captured atomic.Int64
	allowed  atomic.Int64
	blocked  atomic.Int64
	flagged  atomic.Int64
	bypassed atomic.Int64
	trusted  atomic.Int64
}

// New builds the pipeline. A pattern that fails to compile is fatal here:
// the core never runs with a partially loaded rule set.
func New(cfg *config.Config, sink export.Sink, logger zerolog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	registry, err := patterns.NewRegistry(cfg.AllPatterns())
	if err != nil {
		return nil, fmt.Errorf("pattern registry: %w", err)
	}
	return &Gateway{
		cfg:      cfg,
		trust:    trust.NewRegistry(cfg.KnownHosts, cfg.IgnoreHosts, cfg.StrictMode),
		matcher:  inspect.NewMatcher(registry, cfg.BodyInspectionCeiling),
		profiler: profile.NewProfiler(cfg),
		scorer:   score.NewScorer(cfg),
		enforcer: enforce.NewEnforcer(sink, logger),
		slots:    newInspectionSlots(cfg.MaxConcurrentInspections),
		sink:     sink,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// Inspect runs one request through the pipeline and returns the enforcement
// outcome plus the assessment it was derived from. The assessment is nil for
// ignored-host requests, which are never scored. A non-nil error means the
// request was never assessed (connection aborted mid-inspection) and the
// caller should drop it without forwarding.
func (g *Gateway) Inspect(ctx context.Context, req *flow.Request) (enforce.Outcome, *flow.Assessment, error) {
	g.captured.Add(1)
	start := time.Now()

	switch g.trust.Classify(req.Host) {
	case trust.Ignored:
		g.bypassed.Add(1)
		return g.enforcer.Bypass(req), nil, nil
	case trust.Trusted:
		// Allow-listed vendor host: no matcher, no profiler, audit only.
		g.trusted.Add(1)
		a := &flow.Assessment{
			Request:  req,
			Decision: flow.DecisionAllow,
			Reason:   "trusted host",
		}
		out := g.enforcer.Apply(a)
		g.allowed.Add(1)
		return out, a, nil
	}

	if err := g.slots.acquire(ctx); err != nil {
		return enforce.Outcome{}, nil, fmt.Errorf("inspection abandoned: %w", err)
	}
	defer g.slots.release()

	indicators, malformed := g.matcher.Scan(req)
	signals, err := g.profiler.Observe(ctx, req, malformed)
	if err != nil {
		// Connection aborted mid-inspection. The profile was not mutated.
		return enforce.Outcome{}, nil, fmt.Errorf("inspection abandoned: %w", err)
	}

	a := g.scorer.Score(req, indicators, signals)
	out := g.enforcer.Apply(a)

	switch a.Decision {
	case flow.DecisionBlock:
		g.blocked.Add(1)
	case flow.DecisionFlag:
		g.flagged.Add(1)
	default:
		g.allowed.Add(1)
	}

	g.logger.Debug().
		Str("host", req.Host).
		Str("decision", string(a.Decision)).
		Float64("score", a.Score).
		Int("indicators", len(a.Indicators)).
		Int("signals", len(a.Signals)).
		Dur("elapsed", time.Since(start)).
		Msg("request inspected")
	return out, a, nil
}

// Hosts returns the profiler's current view of every tracked host.
func (g *Gateway) Hosts() []profile.Snapshot {
	return g.profiler.Snapshot()
}

// Stats is a point-in-time view of pipeline counters for operators.
type Stats struct {
	Captured          int64 `json:"captured"`
	Allowed           int64 `json:"allowed"`
	Blocked           int64 `json:"blocked"`
	Flagged           int64 `json:"flagged"`
	Bypassed          int64 `json:"bypassed"`
	Trusted           int64 `json:"trusted"`
	TrackedHosts      int   `json:"tracked_hosts"`
	SlotsInUse        int   `json:"slots_in_use"`
	SlotCapacity      int   `json:"slot_capacity"`
	AbandonedWaits    int64 `json:"abandoned_waits"`
	PersistenceErrors int64 `json:"persistence_errors,omitempty"`
}

func (g *Gateway) Stats() Stats {
	s := Stats{
		Captured:       g.captured.Load(),
		Allowed:        g.allowed.Load(),
		Blocked:        g.blocked.Load(),
		Flagged:        g.flagged.Load(),
		Bypassed:       g.bypassed.Load(),
		Trusted:        g.trusted.Load(),
		TrackedHosts:   len(g.profiler.Snapshot()),
		SlotsInUse:     g.slots.inUse(),
		SlotCapacity:   g.slots.capacity(),
		AbandonedWaits: g.slots.rejectedCount(),
	}
	if m, ok := g.sink.(*export.Multi); ok {
		s.PersistenceErrors = m.Failures()
	}
	return s
}

// Profiler exposes the behavioral profiler, mainly so tests and the CLI can
// pin its clock or reset a host.
func (g *Gateway) Profiler() *profile.Profiler {
	return g.profiler
}
