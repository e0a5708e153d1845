// Package assess runs one event through the full reasoning pipeline:
// incident correlation, context rules, calibration, decision, cooldown and
// explanation.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/watchpost/internal/calibrate"
	"github.com/opensource-finance/watchpost/internal/decision"
	"github.com/opensource-finance/watchpost/internal/domain"
	"github.com/opensource-finance/watchpost/internal/explain"
	"github.com/opensource-finance/watchpost/internal/incident"
	"github.com/opensource-finance/watchpost/internal/metrics"
	"github.com/opensource-finance/watchpost/internal/rules"
	"github.com/opensource-finance/watchpost/internal/suppression"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "watchpost-1.0"

var tracer = otel.Tracer("watchpost-assess")

// Assessor wires the reasoning components together. It is safe for
// concurrent use.
type Assessor struct {
	cfg      domain.ReasoningConfig
	store    *incident.Store
	decider  *decision.Engine
	cooldown *suppression.Engine
	cal      *calibrate.Calibrator

	rules   *rules.Engine
	metrics *metrics.Metrics
	version string
}

// Option configures optional collaborators.
type Option func(*Assessor)

// WithRules enables context rule evaluation.
func WithRules(e *rules.Engine) Option {
	return func(a *Assessor) { a.rules = e }
}

// WithMetrics records assessment outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assessor) { a.metrics = m }
}

// WithVersion overrides the engine version stamped on assessments.
func WithVersion(v string) Option {
	return func(a *Assessor) { a.version = v }
}

// New creates an Assessor from already constructed engines.
func New(cfg domain.ReasoningConfig, store *incident.Store, decider *decision.Engine, cooldown *suppression.Engine, opts ...Option) (*Assessor, error) {
	if store == nil || decider == nil || cooldown == nil {
		return nil, fmt.Errorf("%w: store, decision engine and cooldown are required", domain.ErrInvalidConfig)
	}
	cal, err := calibrate.New(cfg)
	if err != nil {
		return nil, err
	}

	a := &Assessor{
		cfg:      cfg,
		store:    store,
		decider:  decider,
		cooldown: cooldown,
		cal:      cal,
		version:  EngineVersion,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FromConfig validates cfg and constructs the store, decision engine and
// cooldown engine it describes.
func FromConfig(cfg domain.ReasoningConfig, opts ...Option) (*Assessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := incident.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	decider, err := decision.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	cooldown, err := suppression.NewEngine(cfg.CooldownWindowSeconds)
	if err != nil {
		return nil, err
	}
	return New(cfg, store, decider, cooldown, opts...)
}

// DeviceKey scopes a camera id to its home for cooldown tracking.
func DeviceKey(homeID, camera string) string {
	return homeID + "/" + camera
}

// Assess processes one event. The event's HomeID is required. Errors are
// returned only for events the incident store refuses; every accepted event
// yields an assessment.
func (a *Assessor) Assess(ctx context.Context, ev domain.Event, level domain.ExplainLevel) (*domain.Assessment, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "assess",
		trace.WithAttributes(
			attribute.String("home.id", ev.HomeID),
			attribute.String("event.track", ev.Track),
			attribute.String("event.camera", ev.Camera),
		),
	)
	defer span.End()

	if ev.HomeID == "" {
		a.metrics.EventRejected("invalid")
		return nil, fmt.Errorf("%w: homeId is required", incident.ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		a.metrics.EventRejected("invalid")
		return nil, fmt.Errorf("%w: %v", incident.ErrInvalidEvent, err)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	inc, err := a.store.Upsert(ev.HomeID, ev)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, incident.ErrOutOfOrder) {
			reason = "out_of_order"
		}
		a.metrics.EventRejected(reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return nil, err
	}

	// Context rules may do I/O (sighting counts); no core lock is held here.
	contextStart := time.Now()
	var factors domain.ContextFactors
	if a.rules != nil {
		factors, err = a.rules.Evaluate(ctx, &rules.EvaluateInput{
			HomeID:          ev.HomeID,
			Event:           ev,
			IncidentEvents:  len(inc.Events),
			IncidentCameras: len(inc.Cameras),
		})
		if err != nil {
			slog.Warn("context rule evaluation failed",
				"home_id", ev.HomeID,
				"track", ev.Track,
				"error", err,
			)
			factors = nil
		}
	}
	contextMs := time.Since(contextStart).Milliseconds()

	reasoningStart := time.Now()
	p, raw, d := a.decide(inc.Evidence, factors)
	if !ev.Evidence.IsFinite() {
		p, raw, d = 0, 0, a.decider.Fallback("event evidence is not finite")
	}

	outcome := a.cooldown.Evaluate(DeviceKey(ev.HomeID, ev.Camera), ev.Track, ev.Timestamp, d)
	if outcome.Status == domain.SuppressionSuppressed {
		inc.SuppressedCount = a.store.MarkSuppressed(ev.HomeID, ev.Track, inc.ID)
	}

	assessment := &domain.Assessment{
		ID:          uuid.New().String(),
		EventID:     ev.ID,
		HomeID:      ev.HomeID,
		Track:       ev.Track,
		Camera:      ev.Camera,
		IncidentID:  inc.ID,
		Probability: p,
		RawLogit:    raw,
		Evidence:    inc.Evidence,
		Decision:    d,
		Suppression: outcome,
		Context:     factors,
		Timestamp:   time.Now().UTC(),
	}
	assessment.Explanation = a.explain(&inc, assessment, level)

	assessment.Metadata = domain.AssessmentMetadata{
		EventTs:       ev.Timestamp,
		ContextMs:     contextMs,
		ReasoningUs:   time.Since(reasoningStart).Microseconds(),
		TotalMs:       time.Since(start).Milliseconds(),
		RulesFired:    len(factors),
		EventsInView:  len(inc.Events),
		EngineVersion: a.version,
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		assessment.Metadata.TraceID = sc.TraceID().String()
	}

	span.SetAttributes(
		attribute.String("decision.action", string(d.Action)),
		attribute.String("decision.severity", d.Severity.String()),
		attribute.Float64("decision.probability", p),
		attribute.String("suppression.status", string(outcome.Status)),
	)

	a.metrics.ObserveAssessment(assessment, time.Since(start))
	a.metrics.SetActiveIncidents(a.store.Len())

	slog.Debug("event assessed",
		"home_id", ev.HomeID,
		"track", ev.Track,
		"incident_id", inc.ID,
		"action", d.Action,
		"severity", d.Severity.String(),
		"probability", p,
		"suppression", outcome.Status,
	)

	return assessment, nil
}

// decide calibrates fused evidence and applies the decision engine. Any
// calibration failure resolves to the fallback decision.
func (a *Assessor) decide(fused domain.Evidence, factors domain.ContextFactors) (float64, float64, domain.Decision) {
	if !fused.IsFinite() {
		return 0, 0, a.decider.Fallback("fused evidence is not finite")
	}
	p, raw, err := a.cal.Probability(fused)
	if err != nil {
		return 0, raw, a.decider.Fallback(err.Error())
	}
	return p, raw, a.decider.Decide(p, "", factors)
}

func (a *Assessor) explain(inc *domain.Incident, as *domain.Assessment, level domain.ExplainLevel) *domain.Explanation {
	if level == domain.ExplainNone {
		return nil
	}

	ex := &domain.Explanation{
		Summary: explain.SummarizeIncident(inc, inc.Evidence, as.Probability, inc.SuppressedCount),
	}
	if level != domain.ExplainFull || as.Decision.Fallback {
		return ex
	}

	ex.Questions = explain.GenerateQuestions(inc, inc.Evidence, a.cal, a.cfg.Reasoner)

	// ok is false when tightening pushed the threshold past the calibrated
	// range; every probability then lands on the same side of it.
	target, ok := a.cal.RawFor(as.Decision.AlertThreshold)
	prior := a.cal.Prior()
	ex.Counterfactuals = explain.MinimalChangesToThreshold(inc.Evidence, prior, target, a.cfg.AggregatePosCap, a.cfg.AggregateNegCap)
	if as.Decision.AlertWorthy() {
		ex.ActionPlan = explain.ActionPlan(inc, inc.Evidence, prior, target)
	}
	if !ok {
		ex.Counterfactuals = explain.Unreachable(ex.Counterfactuals)
		ex.ActionPlan = explain.Unreachable(ex.ActionPlan)
	}
	return ex
}

// Incident returns a snapshot of the current incident for a track.
func (a *Assessor) Incident(homeID, track string) (domain.Incident, bool) {
	return a.store.Get(homeID, track)
}

// Cooldown returns the cooldown state of a camera and track at a home.
func (a *Assessor) Cooldown(homeID, camera, track string) (domain.CooldownState, bool) {
	return a.cooldown.State(DeviceKey(homeID, camera), track)
}

// Prune drops incidents that have gone stale relative to each home's newest
// event and returns how many were removed.
func (a *Assessor) Prune() int {
	n := a.store.PruneStale()
	a.metrics.SetActiveIncidents(a.store.Len())
	return n
}

// RunPruner calls Prune every interval until ctx is done. It returns at once
// when interval is not positive.
func (a *Assessor) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Prune(); n > 0 {
				slog.Debug("pruned stale incidents", "count", n)
			}
		}
	}
}

// Config returns the reasoning configuration in effect.
func (a *Assessor) Config() domain.ReasoningConfig {
	return a.cfg
}

// Thresholds describes the decision tiers in effect.
func (a *Assessor) Thresholds() []decision.Tier {
	return a.decider.Describe()
}

// Rules returns the context rule engine, or nil when none is configured.
func (a *Assessor) Rules() *rules.Engine {
	return a.rules
}
