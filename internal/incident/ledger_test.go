package incident

import (
	"testing"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// nightVisitor is the first sighting of an unknown person at 2 AM.
func nightVisitor(ts float64) domain.Event {
	return domain.Event{
		Track:     "visitor",
		Camera:    "front",
		Timestamp: ts,
		Evidence: domain.Evidence{
			Time:     0.83,
			Entry:    1.2,
			Behavior: 0.8,
			Identity: 0.3,
			Presence: 0.9,
		},
	}
}

func recognition(camera string, ts float64) domain.Event {
	return domain.Event{
		Track:              "visitor",
		Camera:             camera,
		Timestamp:          ts,
		KnownIdentity:      "family:alex",
		IdentityConfidence: 0.93,
		Evidence:           domain.Evidence{Identity: -2.2},
	}
}

func TestLedgerExplainAway(t *testing.T) {
	s := newTestStore(t, nil)

	initial, err := s.Upsert("home-1", nightVisitor(0))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if initial.Ledger.Resolved {
		t.Fatal("ledger should not resolve without a recognition")
	}
	if !almostEqual(initial.Evidence.Sum(), 0.83+1.2+0.8+0.3+0.9) {
		t.Errorf("unexpected initial sum %v", initial.Evidence.Sum())
	}

	t.Run("FirstRecognitionGates", func(t *testing.T) {
		inc, err := s.Upsert("home-1", recognition("garage", 10))
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		ev := inc.Evidence
		if !almostEqual(ev.Identity, -2.2) {
			t.Errorf("identity: expected -2.2, got %v", ev.Identity)
		}
		if !almostEqual(ev.Time, 0.83*0.25) {
			t.Errorf("time: expected %v, got %v", 0.83*0.25, ev.Time)
		}
		if !almostEqual(ev.Entry, 1.2*0.25) {
			t.Errorf("entry: expected %v, got %v", 1.2*0.25, ev.Entry)
		}
		if !almostEqual(ev.Behavior, 0.8*0.20) {
			t.Errorf("behavior: expected %v, got %v", 0.8*0.20, ev.Behavior)
		}
		if ev.Presence != 0 {
			t.Errorf("presence: expected 0, got %v", ev.Presence)
		}
		if inc.Ledger.Identity != "family:alex" || inc.Ledger.Confirmations != 1 {
			t.Errorf("unexpected ledger %+v", inc.Ledger)
		}
	})

	t.Run("SecondRecognitionHitsFloor", func(t *testing.T) {
		inc, err := s.Upsert("home-1", recognition("backyard", 20))
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if !almostEqual(inc.Ledger.Cumulative, -3.0) {
			t.Errorf("expected cumulative floored at -3.0, got %v", inc.Ledger.Cumulative)
		}
		if !almostEqual(inc.Evidence.Identity, -3.0) {
			t.Errorf("expected identity channel -3.0, got %v", inc.Evidence.Identity)
		}
		if inc.Ledger.Confirmations != 2 {
			t.Errorf("expected 2 confirmations, got %d", inc.Ledger.Confirmations)
		}
		if len(inc.Cameras) != 3 {
			t.Errorf("expected 3 cameras, got %v", inc.Cameras)
		}
	})

	t.Run("InteriorDecay", func(t *testing.T) {
		inc, err := s.Upsert("home-1", domain.Event{Track: "visitor", Camera: "hallway", Timestamp: 25, Interior: true})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if !inc.Ledger.Interior {
			t.Fatal("expected interior to latch after resolution")
		}
		if !almostEqual(inc.Evidence.Entry, 1.2*0.25*0.30) {
			t.Errorf("entry: expected %v, got %v", 1.2*0.25*0.30, inc.Evidence.Entry)
		}
	})
}

func TestLedgerInteriorRequiresResolution(t *testing.T) {
	s := newTestStore(t, nil)
	ev := nightVisitor(0)
	ev.Interior = true
	inc, _ := s.Upsert("home-1", ev)
	if inc.Ledger.Interior {
		t.Error("interior must not latch before an identity is resolved")
	}
	if !almostEqual(inc.Evidence.Entry, 1.2) {
		t.Errorf("entry should be untouched, got %v", inc.Evidence.Entry)
	}
}

func TestGateLeavesNegativesAlone(t *testing.T) {
	cfg := domain.DefaultReasoningConfig()
	sum := domain.Evidence{Time: -0.4, Entry: -1, Behavior: -0.5, Presence: -0.2}
	l := domain.Ledger{Resolved: true, Cumulative: -1.5}

	out := gate(sum, l, cfg.Ledger)
	if out.Time != -0.4 || out.Entry != -1 || out.Behavior != -0.5 || out.Presence != -0.2 {
		t.Errorf("negative components must pass through, got %+v", out)
	}
	if out.Identity != -1.5 {
		t.Errorf("expected ledger identity -1.5, got %v", out.Identity)
	}
}

func TestFuseDeterministic(t *testing.T) {
	events := []domain.Event{nightVisitor(0), recognition("garage", 5), recognition("side", 9)}

	a := newTestStore(t, nil)
	b := newTestStore(t, nil)
	var ia, ib domain.Incident
	for _, ev := range events {
		ia, _ = a.Upsert("h", ev)
		ib, _ = b.Upsert("h", ev)
	}
	if ia.Evidence != ib.Evidence {
		t.Errorf("same sequence produced different evidence: %+v vs %+v", ia.Evidence, ib.Evidence)
	}
}
