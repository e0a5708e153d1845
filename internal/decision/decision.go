// Package decision maps calibrated threat probabilities to alert decisions.
// One engine produces both the binary action and the severity tier from the
// same effective thresholds.
package decision

import (
	"fmt"
	"math"

	"github.com/opensource-finance/watchpost/internal/calibrate"
	"github.com/opensource-finance/watchpost/internal/domain"
)

// Engine holds the canonical threshold table.
type Engine struct {
	// AlertThreshold is sigmoid(alert_threshold_logit)
	AlertThreshold float64

	// WaitThreshold is half the alert threshold
	WaitThreshold float64

	Severity domain.SeverityTable
	Strategy domain.Strategy
}

// NewEngine builds an engine from a reasoning config.
func NewEngine(cfg domain.ReasoningConfig) (*Engine, error) {
	strategy, err := domain.ParseStrategy(string(cfg.Strategy))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	alert := calibrate.Sigmoid(cfg.AlertThresholdLogit)
	s := cfg.Severity
	if !(alert <= s.Elevated && s.Elevated < s.High && s.High < s.Critical && s.Critical < 1) {
		return nil, fmt.Errorf("%w: thresholds must ascend alert(%.4f) <= elevated < high < critical < 1",
			domain.ErrInvalidConfig, alert)
	}

	return &Engine{
		AlertThreshold: alert,
		WaitThreshold:  alert * 0.5,
		Severity:       s,
		Strategy:       strategy,
	}, nil
}

// thresholds is the effective threshold set after context tightening.
type thresholds struct {
	wait, alert, elevated, high, critical float64
}

func (e *Engine) effective(strategy domain.Strategy, tightening float64) thresholds {
	scale := 1.0
	if strategy == domain.StrategyContextual {
		scale = 1 - tightening
	}
	return thresholds{
		wait:     e.WaitThreshold * scale,
		alert:    e.AlertThreshold * scale,
		elevated: e.Severity.Elevated * scale,
		high:     e.Severity.High * scale,
		critical: e.Severity.Critical * scale,
	}
}

// Decide produces the decision for probability p. An empty strategy uses
// the engine default. Invalid probabilities resolve to the fallback.
func (e *Engine) Decide(p float64, strategy domain.Strategy, factors domain.ContextFactors) domain.Decision {
	if strategy == "" {
		strategy = e.Strategy
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return e.Fallback(fmt.Sprintf("invalid probability %v", p))
	}

	var tightening float64
	if strategy == domain.StrategyContextual {
		tightening = factors.Tightening(e.Severity.MaxTightening)
	}
	th := e.effective(strategy, tightening)

	d := domain.Decision{
		Strategy:       strategy,
		AlertThreshold: th.alert,
		WaitThreshold:  th.wait,
		Tightening:     tightening,
	}

	switch {
	case p < th.wait:
		d.Action = domain.ActionIgnore
	case p < th.alert:
		d.Action = domain.ActionWait
	default:
		d.Action = domain.ActionAlert
	}

	switch {
	case p < th.alert:
		d.Severity = domain.SeverityIgnore
	case p >= th.critical:
		d.Severity = domain.SeverityCritical
	case p >= th.high:
		d.Severity = domain.SeverityHigh
	case p >= th.elevated:
		d.Severity = domain.SeverityElevated
	default:
		d.Severity = domain.SeverityStandard
	}

	return d
}

// Fallback is the conservative decision used when no probability can be
// computed: alert at standard severity.
func (e *Engine) Fallback(reason string) domain.Decision {
	return domain.Decision{
		Action:         domain.ActionAlert,
		Severity:       domain.SeverityStandard,
		Strategy:       e.Strategy,
		AlertThreshold: e.AlertThreshold,
		WaitThreshold:  e.WaitThreshold,
		Fallback:       true,
		Reason:         reason,
	}
}

// Tier describes one row of the threshold table.
type Tier struct {
	Name  string  `json:"name"`
	Floor float64 `json:"floor"`
}

// Describe returns the static threshold table, lowest first.
func (e *Engine) Describe() []Tier {
	return []Tier{
		{Name: string(domain.ActionWait), Floor: e.WaitThreshold},
		{Name: domain.SeverityStandard.String(), Floor: e.AlertThreshold},
		{Name: domain.SeverityElevated.String(), Floor: e.Severity.Elevated},
		{Name: domain.SeverityHigh.String(), Floor: e.Severity.High},
		{Name: domain.SeverityCritical.String(), Floor: e.Severity.Critical},
	}
}
