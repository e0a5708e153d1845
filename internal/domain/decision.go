package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the coarse binary-with-wait decision.
type Action string

const (
	ActionIgnore Action = "ignore"
	ActionWait   Action = "wait"
	ActionAlert  Action = "alert"
)

// Severity is the fine-grained alert tier. Values are ordered.
type Severity int

const (
	SeverityIgnore Severity = iota
	SeverityStandard
	SeverityElevated
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"ignore", "standard", "elevated", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityIgnore || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity converts a tier name back to a Severity.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return SeverityIgnore, fmt.Errorf("unknown severity %q", name)
}

// MarshalJSON encodes the tier by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a tier name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Strategy selects how thresholds respond to context.
type Strategy string

const (
	// StrategyStatic uses the configured thresholds as-is.
	StrategyStatic Strategy = "static"

	// StrategyContextual lowers every threshold by the tightening derived
	// from fired context rules, making alerts easier to reach.
	StrategyContextual Strategy = "contextual"
)

// ParseStrategy validates a strategy name. Empty means static.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(strings.ToLower(name)) {
	case "", StrategyStatic:
		return StrategyStatic, nil
	case StrategyContextual:
		return StrategyContextual, nil
	}
	return "", fmt.Errorf("unknown strategy %q", name)
}

// ContextFactors are the context rules that fired for an event. Each carries
// a tightening weight in [0, 1).
type ContextFactors []ContextFactor

// ContextFactor is one fired context rule.
type ContextFactor struct {
	RuleID string  `json:"ruleId"`
	Reason string  `json:"reason"`
	Weight float64 `json:"weight"`
}

// Tightening sums the factor weights, clamped to [0, max].
func (cf ContextFactors) Tightening(max float64) float64 {
	var total float64
	for _, f := range cf {
		if f.Weight > 0 {
			total += f.Weight
		}
	}
	if total > max {
		return max
	}
	return total
}

// Decision is the single decision type produced for a probability. Action
// and Severity are always derived from the same effective thresholds.
type Decision struct {
	Action         Action   `json:"action"`
	Severity       Severity `json:"severity"`
	Strategy       Strategy `json:"strategy"`
	AlertThreshold float64  `json:"alertThreshold"`
	WaitThreshold  float64  `json:"waitThreshold"`
	Tightening     float64  `json:"tightening,omitempty"`
	Fallback       bool     `json:"fallback,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// AlertWorthy reports whether the decision would notify a human.
func (d Decision) AlertWorthy() bool {
	return d.Action == ActionAlert
}

// SuppressionStatus describes what the cooldown engine did with a decision.
type SuppressionStatus string

const (
	SuppressionNone       SuppressionStatus = "none"
	SuppressionSend       SuppressionStatus = "send"
	SuppressionSuppressed SuppressionStatus = "suppressed"
)

// SuppressionOutcome is the cooldown result for one alert-worthy decision.
type SuppressionOutcome struct {
	Status SuppressionStatus `json:"status"`
	Count  int               `json:"count"`
}

// CooldownState is tracked per (device, entity) pair.
type CooldownState struct {
	Device          string   `json:"device"`
	Entity          string   `json:"entity"`
	LastAlert       *float64 `json:"lastAlert,omitempty"`
	SuppressedCount int      `json:"suppressedCount"`
}
