package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestEvidence(t *testing.T) {
	e := Evidence{Time: 2.5, Entry: -4, Behavior: 0.8, Identity: 0.3, Presence: 0.9, Token: -0.5}

	t.Run("Sum", func(t *testing.T) {
		if got := e.Sum(); math.Abs(got-0.0) > 1e-9 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("Capped", func(t *testing.T) {
		c := e.Capped(1.6, 3.0)
		if c.Time != 1.6 || c.Entry != -3.0 || c.Behavior != 0.8 {
			t.Errorf("unexpected capped evidence %+v", c)
		}
		if again := c.Capped(1.6, 3.0); again != c {
			t.Errorf("capping twice changed the vector: %+v vs %+v", again, c)
		}
	})

	t.Run("ComponentRoundTrip", func(t *testing.T) {
		var z Evidence
		for i, ch := range Channels {
			z = z.WithComponent(ch, float64(i+1))
		}
		for i, ch := range Channels {
			if got := z.Component(ch); got != float64(i+1) {
				t.Errorf("%s: expected %d, got %v", ch, i+1, got)
			}
		}
		if z.Component(Channel("unknown")) != 0 {
			t.Error("unknown channel must read as zero")
		}
	})

	t.Run("Add", func(t *testing.T) {
		sum := e.Add(Evidence{Time: 1, Token: 0.5})
		if sum.Time != 3.5 || sum.Token != 0 || sum.Entry != -4 {
			t.Errorf("unexpected sum %+v", sum)
		}
	})

	t.Run("Sanitized", func(t *testing.T) {
		bad := Evidence{Time: math.NaN(), Entry: math.Inf(1), Token: -0.5}
		got := bad.Sanitized()
		if got != (Evidence{Token: -0.5}) {
			t.Errorf("unexpected sanitized evidence %+v", got)
		}
		if e.Sanitized() != e {
			t.Error("finite evidence must be unchanged")
		}
	})

	t.Run("IsFinite", func(t *testing.T) {
		if !e.IsFinite() {
			t.Error("expected finite evidence")
		}
		if (Evidence{Behavior: math.NaN()}).IsFinite() {
			t.Error("NaN must not be finite")
		}
		if (Evidence{Token: math.Inf(-1)}).IsFinite() {
			t.Error("-Inf must not be finite")
		}
	})
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"Valid", Event{Track: "t1", Timestamp: 12}, false},
		{"MissingTrack", Event{Timestamp: 12}, true},
		{"NaNTimestamp", Event{Track: "t1", Timestamp: math.NaN()}, true},
		{"NegativeDwell", Event{Track: "t1", DwellSeconds: -1}, true},
		{"AwayProbAboveOne", Event{Track: "t1", AwayProb: 1.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	empty := ""
	ev := Event{Token: &empty}
	if ev.HasToken() {
		t.Error("empty token must not count")
	}
}

func TestSeverity(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		data, err := json.Marshal(SeverityHigh)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if string(data) != `"high"` {
			t.Errorf("expected \"high\", got %s", data)
		}
		var s Severity
		if err := json.Unmarshal([]byte(`"Critical"`), &s); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if s != SeverityCritical {
			t.Errorf("expected critical, got %v", s)
		}
		if err := json.Unmarshal([]byte(`"severe"`), &s); err == nil {
			t.Error("expected error for unknown tier")
		}
	})

	t.Run("Ordered", func(t *testing.T) {
		if !(SeverityIgnore < SeverityStandard && SeverityStandard < SeverityElevated &&
			SeverityElevated < SeverityHigh && SeverityHigh < SeverityCritical) {
			t.Error("severity tiers must be ordered")
		}
		if Severity(9).String() != "severity(9)" {
			t.Errorf("unexpected out-of-range name %s", Severity(9))
		}
	})
}

func TestParseNames(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyStatic {
		t.Errorf("empty strategy: got %q, %v", s, err)
	}
	if s, err := ParseStrategy("Contextual"); err != nil || s != StrategyContextual {
		t.Errorf("contextual strategy: got %q, %v", s, err)
	}
	if _, err := ParseStrategy("adaptive"); err == nil {
		t.Error("expected error for unknown strategy")
	}

	if l, err := ParseExplainLevel(""); err != nil || l != ExplainSummary {
		t.Errorf("empty level: got %q, %v", l, err)
	}
	if l, err := ParseExplainLevel("FULL"); err != nil || l != ExplainFull {
		t.Errorf("full level: got %q, %v", l, err)
	}
	if _, err := ParseExplainLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestTightening(t *testing.T) {
	cf := ContextFactors{
		{RuleID: "away", Weight: 0.2},
		{RuleID: "night", Weight: 0.15},
		{RuleID: "noise", Weight: -0.4},
	}
	if got := cf.Tightening(0.5); math.Abs(got-0.35) > 1e-9 {
		t.Errorf("expected 0.35, got %v", got)
	}
	cf = append(cf, ContextFactor{RuleID: "linger", Weight: 0.4})
	if got := cf.Tightening(0.5); got != 0.5 {
		t.Errorf("expected cap 0.5, got %v", got)
	}
	if got := ContextFactors(nil).Tightening(0.5); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestAssessmentResponse(t *testing.T) {
	a := &Assessment{
		ID:          "as-1",
		EventID:     "ev-1",
		HomeID:      "h1",
		Probability: 0.7,
		Decision:    Decision{Action: ActionAlert, Severity: SeverityHigh},
		Suppression: SuppressionOutcome{Status: SuppressionSend},
		Context:     ContextFactors{{RuleID: "away", Reason: "household away", Weight: 0.2}, {RuleID: "silent"}},
	}

	resp := a.ToResponse()
	if !resp.Notify || resp.Severity != SeverityHigh || resp.Action != ActionAlert {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Reasons) != 1 || resp.Reasons[0] != "household away" {
		t.Errorf("unexpected reasons %v", resp.Reasons)
	}

	a.Suppression.Status = SuppressionSuppressed
	if a.Notify() {
		t.Error("suppressed alert must not notify")
	}

	fb := &Assessment{Decision: Decision{Action: ActionAlert, Fallback: true, Reason: "non-finite evidence"}}
	if r := fb.ToResponse(); len(r.Reasons) != 1 || r.Reasons[0] != "non-finite evidence" {
		t.Errorf("expected fallback reason, got %v", r.Reasons)
	}
}

func TestReasoningConfigValidate(t *testing.T) {
	cfg := DefaultReasoningConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *ReasoningConfig)
	}{
		{"ZeroTemperature", func(c *ReasoningConfig) { c.Temperature = 0 }},
		{"NaNPrior", func(c *ReasoningConfig) { c.PriorLogit = math.NaN() }},
		{"NegativeCap", func(c *ReasoningConfig) { c.PosCap = -1 }},
		{"ZeroCooldown", func(c *ReasoningConfig) { c.CooldownWindowSeconds = 0 }},
		{"UnknownStrategy", func(c *ReasoningConfig) { c.Strategy = "adaptive" }},
		{"UnorderedSeverity", func(c *ReasoningConfig) { c.Severity.High = 0.2 }},
		{"FullTightening", func(c *ReasoningConfig) { c.Severity.MaxTightening = 1 }},
		{"PositiveIdentityFloor", func(c *ReasoningConfig) { c.Ledger.IdentityFloor = 1 }},
		{"RetentionAboveOne", func(c *ReasoningConfig) { c.Ledger.TimeRetention = 1.5 }},
		{"ProbabilityAboveOne", func(c *ReasoningConfig) { c.Reasoner.PRing = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultReasoningConfig()
			tt.mutate(&c)
			err := c.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestIncidentHelpers(t *testing.T) {
	token := "pkg-1"
	inc := &Incident{Events: []Event{
		{Timestamp: 10, Camera: "front", DwellSeconds: 4},
		{Timestamp: 25, Camera: "back", DwellSeconds: 6, Knocked: true},
		{Timestamp: 40, Camera: "front", Token: &token},
	}}

	if inc.Duration() != 30 || inc.TotalDwell() != 10 {
		t.Errorf("unexpected duration %v or dwell %v", inc.Duration(), inc.TotalDwell())
	}
	if !inc.Knocked() || inc.RangDoorbell() || !inc.HasToken() {
		t.Error("unexpected behavior flags")
	}
	if inc.Latest().Timestamp != 40 {
		t.Errorf("expected latest at 40, got %v", inc.Latest().Timestamp)
	}

	inc.RefreshCameras()
	if len(inc.Cameras) != 2 || inc.Cameras[0] != "back" || inc.Cameras[1] != "front" {
		t.Errorf("unexpected cameras %v", inc.Cameras)
	}

	clone := inc.Clone()
	clone.Events[0].Camera = "garage"
	if inc.Events[0].Camera != "front" {
		t.Error("clone must not share the event buffer")
	}

	if (&Incident{}).Latest() != nil {
		t.Error("empty incident has no latest event")
	}
}
