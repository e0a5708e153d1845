package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when reasoning parameters fail validation.
var ErrInvalidConfig = errors.New("invalid reasoning config")

// ReasoningConfig holds the tunable parameters of the threat reasoning core.
// It is validated once at startup and treated as immutable afterwards.
type ReasoningConfig struct {
	PriorLogit          float64 `json:"priorLogit" mapstructure:"prior_logit"`
	AlertThresholdLogit float64 `json:"alertThresholdLogit" mapstructure:"alert_threshold_logit"`

	// Calibration
	MeanLogit   float64 `json:"meanLogit" mapstructure:"mean_logit"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	OddsCap     float64 `json:"oddsCap" mapstructure:"odds_cap"`

	// Two-stage clamp: PosCap/NegCap bound each event's components,
	// AggregatePosCap/AggregateNegCap bound the fused incident vector.
	PosCap          float64 `json:"posCap" mapstructure:"pos_cap"`
	NegCap          float64 `json:"negCap" mapstructure:"neg_cap"`
	AggregatePosCap float64 `json:"aggregatePosCap" mapstructure:"aggregate_pos_cap"`
	AggregateNegCap float64 `json:"aggregateNegCap" mapstructure:"aggregate_neg_cap"`

	CorrelationWindowSeconds float64 `json:"correlationWindowSeconds" mapstructure:"correlation_window_seconds"`
	CooldownWindowSeconds    float64 `json:"cooldownWindowSeconds" mapstructure:"cooldown_window_seconds"`

	Strategy Strategy       `json:"strategy" mapstructure:"strategy"`
	Severity SeverityTable  `json:"severity" mapstructure:"severity"`
	Ledger   LedgerConfig   `json:"ledger" mapstructure:"ledger"`
	Reasoner ReasonerConfig `json:"reasoner" mapstructure:"reasoner"`
}

// SeverityTable holds the probability floors of each severity tier above
// Standard, plus the cap on contextual threshold tightening.
type SeverityTable struct {
	Elevated      float64 `json:"elevated" mapstructure:"elevated"`
	High          float64 `json:"high" mapstructure:"high"`
	Critical      float64 `json:"critical" mapstructure:"critical"`
	MaxTightening float64 `json:"maxTightening" mapstructure:"max_tightening"`
}

// LedgerConfig controls how a confirmed benign identity explains away the
// rest of an incident's evidence.
type LedgerConfig struct {
	IdentityFloor      float64 `json:"identityFloor" mapstructure:"identity_floor"`
	TimeRetention      float64 `json:"timeRetention" mapstructure:"time_retention"`
	EntryRetention     float64 `json:"entryRetention" mapstructure:"entry_retention"`
	BehaviorRetention  float64 `json:"behaviorRetention" mapstructure:"behavior_retention"`
	InteriorEntryDecay float64 `json:"interiorEntryDecay" mapstructure:"interior_entry_decay"`
}

// ReasonerConfig parameterizes the value-of-information question model.
type ReasonerConfig struct {
	RingLLR           float64 `json:"ringLlr" mapstructure:"ring_llr"`
	TokenLLR          float64 `json:"tokenLlr" mapstructure:"token_llr"`
	FaceGainLLR       float64 `json:"faceGainLlr" mapstructure:"face_gain_llr"`
	PRing             float64 `json:"pRing" mapstructure:"p_ring"`
	PToken            float64 `json:"pToken" mapstructure:"p_token"`
	PSecondAngle      float64 `json:"pSecondAngle" mapstructure:"p_second_angle"`
	PFaceImprovable   float64 `json:"pFaceImprovable" mapstructure:"p_face_improvable"`
	SecondAngleCamera string  `json:"secondAngleCamera" mapstructure:"second_angle_camera"`
}

// DefaultReasoningConfig returns the production defaults.
func DefaultReasoningConfig() ReasoningConfig {
	return ReasoningConfig{
		PriorLogit:               -2.0,
		AlertThresholdLogit:      -1.7346, // logit(0.15)
		MeanLogit:                0.0,
		Temperature:              1.4,
		OddsCap:                  3.0,
		PosCap:                   1.6,
		NegCap:                   3.0,
		AggregatePosCap:          1.6,
		AggregateNegCap:          3.0,
		CorrelationWindowSeconds: 180,
		CooldownWindowSeconds:    60,
		Strategy:                 StrategyStatic,
		Severity: SeverityTable{
			Elevated:      0.30,
			High:          0.60,
			Critical:      0.85,
			MaxTightening: 0.5,
		},
		Ledger: LedgerConfig{
			IdentityFloor:      -3.0,
			TimeRetention:      0.25,
			EntryRetention:     0.25,
			BehaviorRetention:  0.20,
			InteriorEntryDecay: 0.30,
		},
		Reasoner: ReasonerConfig{
			RingLLR:           -1.2,
			TokenLLR:          -2.2,
			FaceGainLLR:       -0.6,
			PRing:             0.25,
			PToken:            0.2,
			PSecondAngle:      0.6,
			PFaceImprovable:   0.5,
			SecondAngleCamera: "adjacent",
		},
	}
}

// Validate reports the first invalid parameter, wrapped in ErrInvalidConfig.
func (c *ReasoningConfig) Validate() error {
	finite := map[string]float64{
		"prior_logit":           c.PriorLogit,
		"alert_threshold_logit": c.AlertThresholdLogit,
		"mean_logit":            c.MeanLogit,
	}
	for name, v := range finite {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidConfig, name)
		}
	}
	if !(c.Temperature > 0) {
		return fmt.Errorf("%w: temperature must be > 0, got %v", ErrInvalidConfig, c.Temperature)
	}
	caps := map[string]float64{
		"odds_cap":          c.OddsCap,
		"pos_cap":           c.PosCap,
		"neg_cap":           c.NegCap,
		"aggregate_pos_cap": c.AggregatePosCap,
		"aggregate_neg_cap": c.AggregateNegCap,
	}
	for name, v := range caps {
		if !(v >= 0) {
			return fmt.Errorf("%w: %s must be >= 0, got %v", ErrInvalidConfig, name, v)
		}
	}
	if !(c.CorrelationWindowSeconds > 0) {
		return fmt.Errorf("%w: correlation_window_seconds must be > 0", ErrInvalidConfig)
	}
	if !(c.CooldownWindowSeconds > 0) {
		return fmt.Errorf("%w: cooldown_window_seconds must be > 0", ErrInvalidConfig)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s := c.Severity
	if !(0 < s.Elevated && s.Elevated < s.High && s.High < s.Critical && s.Critical < 1) {
		return fmt.Errorf("%w: severity table must satisfy 0 < elevated < high < critical < 1", ErrInvalidConfig)
	}
	if !(s.MaxTightening >= 0 && s.MaxTightening < 1) {
		return fmt.Errorf("%w: max_tightening must be within [0, 1)", ErrInvalidConfig)
	}
	l := c.Ledger
	if l.IdentityFloor > 0 {
		return fmt.Errorf("%w: identity_floor must be <= 0", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"time_retention":       l.TimeRetention,
		"entry_retention":      l.EntryRetention,
		"behavior_retention":   l.BehaviorRetention,
		"interior_entry_decay": l.InteriorEntryDecay,
	} {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%w: %s must be within [0, 1]", ErrInvalidConfig, name)
		}
	}
	r := c.Reasoner
	for name, v := range map[string]float64{
		"p_ring":            r.PRing,
		"p_token":           r.PToken,
		"p_second_angle":    r.PSecondAngle,
		"p_face_improvable": r.PFaceImprovable,
	} {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%w: %s must be within [0, 1]", ErrInvalidConfig, name)
		}
	}
	return nil
}
