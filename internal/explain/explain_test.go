package explain

import (
	"math"
	"strings"
	"testing"

	"github.com/opensource-finance/watchpost/internal/calibrate"
	"github.com/opensource-finance/watchpost/internal/decision"
	"github.com/opensource-finance/watchpost/internal/domain"
)

// literalConfig is the fixed end-to-end scenario configuration.
func literalConfig() domain.ReasoningConfig {
	cfg := domain.DefaultReasoningConfig()
	cfg.Temperature = 1.0
	cfg.OddsCap = 6.0
	cfg.PosCap, cfg.NegCap = 3.0, 3.0
	cfg.AggregatePosCap, cfg.AggregateNegCap = 3.0, 3.0
	return cfg
}

func literalEvidence() domain.Evidence {
	return domain.Evidence{Time: 3.2, Entry: -3.5, Behavior: 3.8, Identity: -2.8, Presence: 2.5, Token: -3.0}.Capped(3, 3)
}

func TestMinimalChangesToThreshold(t *testing.T) {
	cfg := literalConfig()
	cal, err := calibrate.New(cfg)
	if err != nil {
		t.Fatalf("calibrate.New failed: %v", err)
	}
	engine, err := decision.NewEngine(cfg)
	if err != nil {
		t.Fatalf("decision.NewEngine failed: %v", err)
	}
	target, ok := cal.RawFor(engine.AlertThreshold)
	if !ok {
		t.Fatal("alert threshold should be reachable")
	}

	fused := literalEvidence()
	p, _, _ := cal.Probability(fused)
	before := engine.Decide(p, domain.StrategyStatic, nil)
	if before.Action != domain.ActionWait {
		t.Fatalf("expected wait before counterfactual, got %s", before.Action)
	}

	suggestions := MinimalChangesToThreshold(fused, cfg.PriorLogit, target, cfg.AggregatePosCap, cfg.AggregateNegCap)
	if len(suggestions) != len(domain.Channels) {
		t.Fatalf("expected one suggestion per channel, got %d", len(suggestions))
	}

	t.Run("Sound", func(t *testing.T) {
		for _, s := range suggestions {
			changed := fused.WithComponent(s.Channel, fused.Component(s.Channel)+s.Delta)
			newRaw := cfg.PriorLogit + changed.Sum()
			if math.Abs(newRaw-target) > 1e-5 {
				t.Errorf("%s: new raw %v not within 1e-5 of %v", s.Channel, newRaw, target)
			}
		}
	})

	t.Run("Flips", func(t *testing.T) {
		s := suggestions[0]
		changed := fused.WithComponent(s.Channel, fused.Component(s.Channel)+s.Delta)
		pNew, _, err := cal.Probability(changed)
		if err != nil {
			t.Fatalf("Probability failed: %v", err)
		}
		if after := engine.Decide(pNew, domain.StrategyStatic, nil); after.Action != domain.ActionAlert {
			t.Errorf("expected counterfactual to reach alert, got %s (p=%v)", after.Action, pNew)
		}
	})

	t.Run("Ranked", func(t *testing.T) {
		want := []domain.Channel{
			domain.ChannelEntry, domain.ChannelIdentity, domain.ChannelToken,
			domain.ChannelTime, domain.ChannelBehavior, domain.ChannelPresence,
		}
		for i, s := range suggestions {
			if s.Channel != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], s.Channel)
			}
		}
		if !suggestions[0].Reachable || suggestions[len(suggestions)-1].Reachable {
			t.Error("expected reachable suggestions before unreachable ones")
		}
	})

	t.Run("DirectionFromAbove", func(t *testing.T) {
		high := domain.Evidence{Time: 2, Entry: 2}
		out := MinimalChangesToThreshold(high, cfg.PriorLogit, target, 3, 3)
		if out[0].Delta >= 0 {
			t.Errorf("expected negative delta from above, got %v", out[0].Delta)
		}
		changed := high.WithComponent(out[0].Channel, high.Component(out[0].Channel)+out[0].Delta)
		if cfg.PriorLogit+changed.Sum() >= target {
			t.Error("expected counterfactual to land below the threshold")
		}
	})

}

func TestUnreachable(t *testing.T) {
	out := Unreachable(MinimalChangesToThreshold(domain.Evidence{Time: 0.5}, -2.0, -3.0, 3, 3))
	for _, s := range out {
		if s.Reachable {
			t.Errorf("%s: expected unreachable", s.Channel)
		}
		if !strings.Contains(s.Description, "cannot flip") {
			t.Errorf("%s: expected the description to say so, got %q", s.Channel, s.Description)
		}
	}
	if Unreachable(nil) != nil {
		t.Error("expected nil for no suggestions")
	}
}

func TestActionPlan(t *testing.T) {
	t.Run("GreedyUntilBelow", func(t *testing.T) {
		inc := &domain.Incident{Events: []domain.Event{{DwellSeconds: 45}}}
		fused := domain.Evidence{Time: 1.5, Entry: 1.5} // raw 1.0
		plan := ActionPlan(inc, fused, -2.0, -1.7346)
		if len(plan) != 2 {
			t.Fatalf("expected token + recognized guest, got %+v", plan)
		}
		if plan[0].Action != "present_delivery_token" || plan[1].Action != "recognized_guest" {
			t.Errorf("unexpected order %s, %s", plan[0].Action, plan[1].Action)
		}
		if !plan[0].Reachable {
			t.Error("expected plan to reach the threshold")
		}
	})

	t.Run("SkipsObservedBehavior", func(t *testing.T) {
		token := "ups-123"
		inc := &domain.Incident{Events: []domain.Event{{Token: &token, RangDoorbell: true}}}
		plan := ActionPlan(inc, domain.Evidence{Time: 1.0}, -2.0, -1.7346)
		for _, s := range plan {
			if s.Action == "present_delivery_token" || s.Action == "ring_or_knock" {
				t.Errorf("plan suggested already observed behavior %s", s.Action)
			}
		}
	})

	t.Run("EmptyBelowThreshold", func(t *testing.T) {
		inc := &domain.Incident{}
		if plan := ActionPlan(inc, domain.Evidence{Identity: -2}, -2.0, -1.7346); len(plan) != 0 {
			t.Errorf("expected empty plan, got %+v", plan)
		}
	})
}

func TestGenerateQuestions(t *testing.T) {
	cfg := domain.DefaultReasoningConfig()
	cal, _ := calibrate.New(cfg)

	t.Run("SortedAndNonNegative", func(t *testing.T) {
		inc := &domain.Incident{Cameras: []string{"front"}}
		qs := GenerateQuestions(inc, domain.Evidence{Time: 0.8, Entry: 1.0}, cal, cfg.Reasoner)
		if len(qs) != 4 {
			t.Fatalf("expected 4 questions, got %d", len(qs))
		}
		for i, q := range qs {
			if q.ExpectedReduction < 0 {
				t.Errorf("%s: negative reduction %v", q.Kind, q.ExpectedReduction)
			}
			if i > 0 && q.ExpectedReduction > qs[i-1].ExpectedReduction {
				t.Errorf("questions not sorted at %d", i)
			}
		}
	})

	t.Run("MatchesEntropyFormula", func(t *testing.T) {
		inc := &domain.Incident{Cameras: []string{"front"}}
		fused := domain.Evidence{Time: 0.8, Entry: 1.0}
		qs := GenerateQuestions(inc, fused, cal, cfg.Reasoner)

		p0, raw, _ := cal.Probability(fused)
		pYes, _ := cal.FromRaw(raw + cfg.Reasoner.RingLLR)
		h0 := calibrate.Entropy(p0)
		want := math.Max(h0-(cfg.Reasoner.PRing*calibrate.Entropy(pYes)+(1-cfg.Reasoner.PRing)*h0), 0)

		for _, q := range qs {
			if q.Kind == domain.QuestionCheckDoorbell && math.Abs(q.ExpectedReduction-want) > 1e-12 {
				t.Errorf("doorbell reduction: expected %v, got %v", want, q.ExpectedReduction)
			}
		}
	})

	t.Run("SkipsAnswered", func(t *testing.T) {
		token := "pkg-9"
		inc := &domain.Incident{
			Events:  []domain.Event{{RangDoorbell: true, Token: &token}},
			Cameras: []string{"front", "side"},
			Ledger:  domain.Ledger{Resolved: true},
		}
		if qs := GenerateQuestions(inc, domain.Evidence{}, cal, cfg.Reasoner); len(qs) != 0 {
			t.Errorf("expected every question answered, got %+v", qs)
		}
	})

	t.Run("TiesKeepPriority", func(t *testing.T) {
		flat := cfg.Reasoner
		flat.PRing, flat.PToken, flat.PFaceImprovable, flat.PSecondAngle = 0, 0, 0, 0
		inc := &domain.Incident{Cameras: []string{"front"}}
		qs := GenerateQuestions(inc, domain.Evidence{}, cal, flat)
		want := []domain.QuestionKind{
			domain.QuestionCheckDoorbell, domain.QuestionCheckDeliveryToken,
			domain.QuestionImproveFace, domain.QuestionSecondAngle,
		}
		for i, q := range qs {
			if q.Kind != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], q.Kind)
			}
		}
	})
}

func TestSummarizeIncident(t *testing.T) {
	inc := &domain.Incident{
		Track:   "visitor",
		Cameras: []string{"front", "garage"},
		Events: []domain.Event{
			{Timestamp: 0, DwellSeconds: 20},
			{Timestamp: 30, DwellSeconds: 10, Knocked: true},
		},
	}
	fused := domain.Evidence{Time: 0.83, Identity: -2.2}

	got := SummarizeIncident(inc, fused, 0.1234, 2)
	again := SummarizeIncident(inc, fused, 0.1234, 2)
	if got != again {
		t.Error("summary is not deterministic")
	}

	for _, want := range []string{
		"Activity on track visitor (front, garage)",
		"Total dwell 30s over 40s window, knocked.",
		"time=+0.83",
		"identity=-2.20",
		"Calibrated threat: 12.3%",
		"Suppressed duplicates: 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestFormatBlock(t *testing.T) {
	a := &domain.Assessment{
		IncidentID:  7,
		HomeID:      "home-1",
		Track:       "visitor",
		Camera:      "front",
		Probability: 0.81,
		Decision:    domain.Decision{Action: domain.ActionAlert, Severity: domain.SeverityHigh},
		Suppression: domain.SuppressionOutcome{Status: domain.SuppressionSend},
		Explanation: &domain.Explanation{
			Summary:   "Activity on track visitor (front)",
			Questions: []domain.Question{{Prompt: "Is a second camera angle available?", ExpectedReduction: 0.05}},
		},
	}
	block := FormatBlock(a)
	for _, want := range []string{"Incident #7 home-1/visitor", "Decision: alert (severity high", "[send, 0 suppressed]", "Follow-up questions:"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
}
