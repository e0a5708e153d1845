// Package calibrate maps fused log-odds to calibrated probabilities.
package calibrate

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// ErrInvalidTemperature is returned when temperature is not strictly positive.
var ErrInvalidTemperature = errors.New("temperature must be > 0")

// probEpsilon keeps LogitOf away from infinities.
const probEpsilon = 1e-12

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	z := math.Exp(x)
	return z / (1 + z)
}

// LogitOf is the inverse of Sigmoid. p is clamped into (0, 1) first.
func LogitOf(p float64) float64 {
	p = math.Max(probEpsilon, math.Min(1-probEpsilon, p))
	return math.Log(p / (1 - p))
}

// Entropy is the binary entropy of p in nats. It is 0 at the bounds.
func Entropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log(p) - (1-p)*math.Log(1-p)
}

// Logit centers raw by mean, clamps it to ±oddsCap, divides by temperature
// and returns the resulting probability.
func Logit(raw, mean, temperature, oddsCap float64) (float64, error) {
	if !(temperature > 0) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidTemperature, temperature)
	}
	if math.IsNaN(raw) {
		return 0, fmt.Errorf("raw logit is NaN")
	}
	centered := raw - mean
	clamped := math.Max(-oddsCap, math.Min(oddsCap, centered))
	return Sigmoid(clamped / temperature), nil
}

// Calibrator binds the calibration parameters of a reasoning config.
type Calibrator struct {
	prior       float64
	mean        float64
	temperature float64
	oddsCap     float64
}

// New creates a calibrator. The config must carry a positive temperature.
func New(cfg domain.ReasoningConfig) (*Calibrator, error) {
	if !(cfg.Temperature > 0) {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, ErrInvalidTemperature)
	}
	return &Calibrator{
		prior:       cfg.PriorLogit,
		mean:        cfg.MeanLogit,
		temperature: cfg.Temperature,
		oddsCap:     cfg.OddsCap,
	}, nil
}

// Probability calibrates prior + fused.Sum(). It returns the probability and
// the raw (pre-calibration) logit.
func (c *Calibrator) Probability(fused domain.Evidence) (float64, float64, error) {
	raw := c.prior + fused.Sum()
	p, err := c.FromRaw(raw)
	return p, raw, err
}

// FromRaw calibrates an already summed raw logit.
func (c *Calibrator) FromRaw(raw float64) (float64, error) {
	if math.IsInf(raw, 0) {
		return 0, fmt.Errorf("raw logit is infinite")
	}
	return Logit(raw, c.mean, c.temperature, c.oddsCap)
}

// Prior returns the prior logit.
func (c *Calibrator) Prior() float64 {
	return c.prior
}

// RawFor returns the raw logit that calibrates to exactly p. ok is false when
// p lies beyond what the odds cap lets the calibrator produce.
func (c *Calibrator) RawFor(p float64) (raw float64, ok bool) {
	scaled := LogitOf(p) * c.temperature
	if math.Abs(scaled) > c.oddsCap {
		return c.mean + math.Copysign(c.oddsCap, scaled), false
	}
	return c.mean + scaled, true
}
