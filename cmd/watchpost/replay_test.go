package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/opensource-finance/watchpost/internal/assess"
	"github.com/opensource-finance/watchpost/internal/domain"
)

const nightScenario = `
home: home-1
events:
  - ts: 0
    camera: front
    track: visitor
    evidence: {time: 0.83, entry: 1.2, behavior: 0.8, identity: 0.3, presence: 0.9}
  - ts: 10
    camera: garage
    track: visitor
    knownIdentity: "family:alex"
    identityConfidence: 0.93
    evidence: {identity: -2.2}
  - ts: 20
    camera: backyard
    track: visitor
    knownIdentity: "family:alex"
    identityConfidence: 0.93
    evidence: {identity: -2.2}
`

func TestParseScenario(t *testing.T) {
	t.Run("YAMLObject", func(t *testing.T) {
		sc, err := parseScenario([]byte(nightScenario))
		if err != nil {
			t.Fatalf("parseScenario failed: %v", err)
		}
		if sc.Home != "home-1" || len(sc.Events) != 3 {
			t.Fatalf("unexpected scenario %+v", sc)
		}
		ev := sc.Events[1]
		if ev.Camera != "garage" || ev.Timestamp != 10 || ev.KnownIdentity != "family:alex" {
			t.Errorf("unexpected event %+v", ev)
		}
		if sc.Events[0].Evidence.Entry != 1.2 {
			t.Errorf("expected entry 1.2, got %v", sc.Events[0].Evidence.Entry)
		}
	})

	t.Run("JSONList", func(t *testing.T) {
		sc, err := parseScenario([]byte(`[{"ts": 1.5, "track": "t", "camera": "c", "rangDoorbell": true}]`))
		if err != nil {
			t.Fatalf("parseScenario failed: %v", err)
		}
		if len(sc.Events) != 1 || !sc.Events[0].RangDoorbell || sc.Events[0].Timestamp != 1.5 {
			t.Errorf("unexpected scenario %+v", sc)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := parseScenario([]byte("home: h\nevents: []\n")); err == nil {
			t.Error("expected error for a scenario without events")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, err := parseScenario([]byte("events: [")); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestReplayEvents(t *testing.T) {
	sc, err := parseScenario([]byte(nightScenario))
	if err != nil {
		t.Fatalf("parseScenario failed: %v", err)
	}
	// Replay the first event again at the end to exercise rejection
	sc.Events = append(sc.Events, sc.Events[0])

	assessor, err := assess.FromConfig(domain.DefaultReasoningConfig())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	var out bytes.Buffer
	res, err := replayEvents(context.Background(), assessor, sc, domain.ExplainFull, &out)
	if err != nil {
		t.Fatalf("replayEvents failed: %v", err)
	}

	if res.Assessed != 3 || res.Rejected != 1 {
		t.Errorf("expected 3 assessed and 1 rejected, got %+v", res)
	}
	if res.Sent != 1 {
		t.Errorf("expected the first event to send an alert, got %+v", res)
	}
	if n := strings.Count(out.String(), "=== Watchpost Assessment ==="); n != 3 {
		t.Errorf("expected 3 assessment blocks, got %d", n)
	}
	if !strings.Contains(out.String(), "home-1/visitor") {
		t.Error("expected blocks to name the home and track")
	}

	inc, ok := assessor.Incident("home-1", "visitor")
	if !ok {
		t.Fatal("expected incident")
	}
	if !inc.Ledger.Resolved {
		t.Error("expected the identity ledger to resolve after two recognitions")
	}
}
