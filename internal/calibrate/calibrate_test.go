package calibrate

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/watchpost/internal/domain"
)

func TestLogit(t *testing.T) {
	t.Run("RejectsNonPositiveTemperature", func(t *testing.T) {
		for _, temp := range []float64{0, -1, math.NaN()} {
			if _, err := Logit(0.5, 0, temp, 3); !errors.Is(err, ErrInvalidTemperature) {
				t.Errorf("temperature %v: expected ErrInvalidTemperature, got %v", temp, err)
			}
		}
	})

	t.Run("Monotonic", func(t *testing.T) {
		prev := -1.0
		for raw := -10.0; raw <= 10.0; raw += 0.25 {
			p, err := Logit(raw, 0, 1.4, 3)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p < prev {
				t.Fatalf("probability decreased at raw=%.2f: %.6f < %.6f", raw, p, prev)
			}
			prev = p
		}
	})

	t.Run("Bounded", func(t *testing.T) {
		for _, raw := range []float64{-1e9, -50, -3, 0, 3, 50, 1e9} {
			p, err := Logit(raw, 0.2, 1.0, 6)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p <= 0 || p >= 1 {
				t.Errorf("raw=%v: probability %v outside (0,1)", raw, p)
			}
		}
	})

	t.Run("OddsCapBoundsExtremes", func(t *testing.T) {
		p1, _ := Logit(100, 0, 1, 3)
		p2, _ := Logit(3, 0, 1, 3)
		if p1 != p2 {
			t.Errorf("expected capped values to match, got %v and %v", p1, p2)
		}
	})

	t.Run("TemperatureCompresses", func(t *testing.T) {
		cold, _ := Logit(2, 0, 1, 6)
		warm, _ := Logit(2, 0, 2, 6)
		if !(warm < cold && warm > 0.5) {
			t.Errorf("expected higher temperature to move toward 0.5: cold=%v warm=%v", cold, warm)
		}
	})

	t.Run("LiteralValue", func(t *testing.T) {
		p, _ := Logit(-2.3, 0, 1, 6)
		want := 1 / (1 + math.Exp(2.3))
		if math.Abs(p-want) > 1e-12 {
			t.Errorf("expected %v, got %v", want, p)
		}
	})
}

func TestCalibrator(t *testing.T) {
	cfg := domain.DefaultReasoningConfig()

	t.Run("RejectsBadTemperature", func(t *testing.T) {
		bad := cfg
		bad.Temperature = 0
		if _, err := New(bad); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("ProbabilityUsesPrior", func(t *testing.T) {
		c, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		p, raw, err := c.Probability(domain.Evidence{Time: 0.5})
		if err != nil {
			t.Fatalf("Probability failed: %v", err)
		}
		if math.Abs(raw-(-1.5)) > 1e-12 {
			t.Errorf("expected raw -1.5, got %v", raw)
		}
		if math.Abs(p-Sigmoid(-1.5/1.4)) > 1e-12 {
			t.Errorf("unexpected probability %v", p)
		}
	})

	t.Run("RawForInvertsCalibration", func(t *testing.T) {
		c, _ := New(cfg)
		raw, ok := c.RawFor(0.15)
		if !ok {
			t.Fatal("expected 0.15 to be reachable")
		}
		p, err := c.FromRaw(raw)
		if err != nil {
			t.Fatalf("FromRaw failed: %v", err)
		}
		if math.Abs(p-0.15) > 1e-9 {
			t.Errorf("expected 0.15, got %v", p)
		}
	})

	t.Run("RawForBeyondCap", func(t *testing.T) {
		c, _ := New(cfg)
		if _, ok := c.RawFor(0.999); ok {
			t.Error("expected 0.999 to exceed the odds cap")
		}
	})

	t.Run("InfiniteEvidence", func(t *testing.T) {
		c, _ := New(cfg)
		if _, _, err := c.Probability(domain.Evidence{Time: math.Inf(1)}); err == nil {
			t.Error("expected error for infinite evidence")
		}
	})
}

func TestEntropy(t *testing.T) {
	if Entropy(0) != 0 || Entropy(1) != 0 {
		t.Error("entropy at bounds should be 0")
	}
	if math.Abs(Entropy(0.5)-math.Ln2) > 1e-12 {
		t.Errorf("expected ln2 at 0.5, got %v", Entropy(0.5))
	}
}
