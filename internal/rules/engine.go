// Package rules provides the CEL-Go based context rule engine. Context rules
// describe risky situations (occupants away, unexpected hour, partial face
// match) and feed threshold tightening under the contextual strategy.
package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/watchpost/internal/domain"
)

// Engine is the CEL-based context rule engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledRules  map[string]*CompiledRule
	sightingGetter SightingGetter
	maxWorkers     int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.ContextRule
	Program cel.Program
}

// SightingGetter returns the number of distinct tracks active at a home,
// counting the given track.
type SightingGetter func(ctx context.Context, homeID, track string) (int64, error)

// NewEngine creates a new context rule engine.
func NewEngine(sightingGetter SightingGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("hour", cel.IntType),
		cel.Variable("expected_window", cel.BoolType),
		cel.Variable("away_prob", cel.DoubleType),
		cel.Variable("dwell_seconds", cel.DoubleType),
		cel.Variable("rang_doorbell", cel.BoolType),
		cel.Variable("knocked", cel.BoolType),
		cel.Variable("has_token", cel.BoolType),
		cel.Variable("interior", cel.BoolType),
		cel.Variable("known_identity", cel.StringType),
		cel.Variable("identity_confidence", cel.DoubleType),
		cel.Variable("camera", cel.StringType),
		// Incident and premises context
		cel.Variable("incident_events", cel.IntType),
		cel.Variable("incident_cameras", cel.IntType),
		cel.Variable("sightings", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledRules:  make(map[string]*CompiledRule),
		sightingGetter: sightingGetter,
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.ContextRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.ContextRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[ruleKey(cfg.HomeID, cfg.ID)] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.ContextRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the event and incident context for rule evaluation.
type EvaluateInput struct {
	HomeID          string
	Event           domain.Event
	IncidentEvents  int
	IncidentCameras int
	AdditionalData  map[string]any
}

// Evaluate runs all loaded rules in parallel and returns the ones that fired,
// ordered by rule ID.
func (e *Engine) Evaluate(ctx context.Context, input *EvaluateInput) (domain.ContextFactors, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		if rule.Config.HomeID == "" || rule.Config.HomeID == input.HomeID {
			rules = append(rules, rule)
		}
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	// Sighting count is best effort
	var sightings int64
	if e.sightingGetter != nil {
		count, err := e.sightingGetter(ctx, input.HomeID, input.Event.Track)
		if err == nil {
			sightings = count
		}
	}

	ev := input.Event
	activation := map[string]any{
		"event": map[string]any{
			"id":     ev.ID,
			"ts":     ev.Timestamp,
			"camera": ev.Camera,
			"track":  ev.Track,
		},
		"hour":                int64(math.Mod(math.Floor(ev.Timestamp/3600), 24)),
		"expected_window":     ev.ExpectedWindow,
		"away_prob":           ev.AwayProb,
		"dwell_seconds":       ev.DwellSeconds,
		"rang_doorbell":       ev.RangDoorbell,
		"knocked":             ev.Knocked,
		"has_token":           ev.HasToken(),
		"interior":            ev.Interior,
		"known_identity":      ev.KnownIdentity,
		"identity_confidence": ev.IdentityConfidence,
		"camera":              ev.Camera,
		"incident_events":     int64(input.IncidentEvents),
		"incident_cameras":    int64(input.IncidentCameras),
		"sightings":           sightings,
	}

	for k, v := range input.AdditionalData {
		activation[k] = v
	}

	// Parallel evaluation using worker pool pattern
	results := make([]*domain.ContextFactor, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	var fired domain.ContextFactors
	for _, f := range results {
		if f != nil {
			fired = append(fired, *f)
		}
	}
	sort.Slice(fired, func(i, j int) bool { return fired[i].RuleID < fired[j].RuleID })

	return fired, nil
}

// evaluateRule returns the fired factor, or nil when the rule did not fire
// or failed to evaluate.
func evaluateRule(rule *CompiledRule, activation map[string]any) *domain.ContextFactor {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return nil
	}

	score := toScore(out)
	if score <= 0 {
		return nil
	}

	return &domain.ContextFactor{
		RuleID: rule.Config.ID,
		Reason: rule.Config.Reason,
		Weight: score * rule.Config.Weight,
	}
}

// toScore converts a CEL value to a score in [0, 1].
func toScore(val ref.Val) float64 {
	var score float64
	switch v := val.(type) {
	case types.Bool:
		if v {
			score = 1.0
		}
	case types.Double:
		score = float64(v)
	case types.Int:
		score = float64(v)
	}
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.ContextRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[ruleKey(cfg.HomeID, cfg.ID)] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// ReloadHomeRules replaces the rules scoped to homeID, leaving global rules
// and other homes untouched.
func (e *Engine) ReloadHomeRules(homeID string, configs []*domain.ContextRule) error {
	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if cfg.HomeID != homeID {
			return fmt.Errorf("rule %s belongs to home %q, not %q", cfg.ID, cfg.HomeID, homeID)
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[ruleKey(homeID, cfg.ID)] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for k, r := range e.compiledRules {
		if r.Config.HomeID == homeID {
			delete(e.compiledRules, k)
		}
	}
	for k, r := range newRules {
		e.compiledRules[k] = r
	}
	return nil
}

// RemoveRule unloads a single rule.
func (e *Engine) RemoveRule(homeID, ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiledRules, ruleKey(homeID, ruleID))
}

func ruleKey(homeID, ruleID string) string {
	return homeID + "/" + ruleID
}

// GetLoadedRules returns the currently loaded rule configurations, ordered
// by home then ID.
func (e *Engine) GetLoadedRules() []*domain.ContextRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.ContextRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].HomeID != rules[j].HomeID {
			return rules[i].HomeID < rules[j].HomeID
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.ContextRule) (*CompiledRule, error) {
	if cfg.Weight < 0 || cfg.Weight >= 1 {
		return nil, fmt.Errorf("rule %s: weight must be within [0, 1), got %v", cfg.ID, cfg.Weight)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
