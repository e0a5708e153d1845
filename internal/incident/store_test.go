package incident

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/opensource-finance/watchpost/internal/domain"
)

func newTestStore(t *testing.T, mutate func(*domain.ReasoningConfig)) *Store {
	t.Helper()
	cfg := domain.DefaultReasoningConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewStore(t *testing.T) {
	cfg := domain.DefaultReasoningConfig()
	cfg.CorrelationWindowSeconds = 0
	if _, err := NewStore(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStoreUpsert(t *testing.T) {
	t.Run("CreatesIncident", func(t *testing.T) {
		s := newTestStore(t, nil)
		inc, err := s.Upsert("home-1", domain.Event{Track: "t1", Camera: "front", Timestamp: 10})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if inc.ID == 0 {
			t.Error("expected non-zero incident ID")
		}
		if inc.HomeID != "home-1" || inc.Track != "t1" {
			t.Errorf("unexpected key %s/%s", inc.HomeID, inc.Track)
		}
		if len(inc.Events) != 1 || inc.Events[0].HomeID != "home-1" {
			t.Errorf("expected one event stamped with home, got %+v", inc.Events)
		}
		if inc.StartedAt != 10 || inc.LastUpdated != 10 {
			t.Errorf("unexpected times %v/%v", inc.StartedAt, inc.LastUpdated)
		}
	})

	t.Run("CorrelatesWithinWindow", func(t *testing.T) {
		s := newTestStore(t, nil)
		first, _ := s.Upsert("home-1", domain.Event{Track: "t1", Camera: "side", Timestamp: 0})
		second, err := s.Upsert("home-1", domain.Event{Track: "t1", Camera: "front", Timestamp: 30})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected same incident, got %d and %d", first.ID, second.ID)
		}
		if len(second.Cameras) != 2 || second.Cameras[0] != "front" || second.Cameras[1] != "side" {
			t.Errorf("expected sorted distinct cameras, got %v", second.Cameras)
		}
	})

	t.Run("EvictsOldEvents", func(t *testing.T) {
		s := newTestStore(t, nil)
		for _, ts := range []float64{0, 100, 200} {
			if _, err := s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: ts, Evidence: domain.Evidence{Time: 0.5}}); err != nil {
				t.Fatalf("Upsert at %v failed: %v", ts, err)
			}
		}
		inc, ok := s.Get("home-1", "t1")
		if !ok {
			t.Fatal("expected incident")
		}
		if len(inc.Events) != 2 {
			t.Fatalf("expected 2 events in window, got %d", len(inc.Events))
		}
		if !almostEqual(inc.Evidence.Time, 1.0) {
			t.Errorf("expected fused time 1.0 after eviction, got %v", inc.Evidence.Time)
		}
	})

	t.Run("StaleIncidentReplaced", func(t *testing.T) {
		s := newTestStore(t, nil)
		first, _ := s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 0, KnownIdentity: "alice", Evidence: domain.Evidence{Identity: -2}})
		s.MarkSuppressed("home-1", "t1", first.ID)

		second, err := s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 181})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if second.ID == first.ID {
			t.Error("expected a fresh incident after the window elapsed")
		}
		if second.Ledger.Resolved || second.SuppressedCount != 0 {
			t.Errorf("expected fresh ledger and counters, got %+v / %d", second.Ledger, second.SuppressedCount)
		}
	})

	t.Run("OutOfOrder", func(t *testing.T) {
		s := newTestStore(t, nil)
		s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 50})
		_, err := s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 49})
		if !errors.Is(err, ErrOutOfOrder) {
			t.Errorf("expected ErrOutOfOrder, got %v", err)
		}
		if _, err := s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 50}); err != nil {
			t.Errorf("equal timestamps should be accepted, got %v", err)
		}
	})

	t.Run("InvalidEvent", func(t *testing.T) {
		s := newTestStore(t, nil)
		if _, err := s.Upsert("home-1", domain.Event{Timestamp: 1}); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for missing track, got %v", err)
		}
		if _, err := s.Upsert("home-1", domain.Event{Track: "t", Timestamp: math.NaN()}); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for NaN timestamp, got %v", err)
		}
	})

	t.Run("TwoStageClamp", func(t *testing.T) {
		s := newTestStore(t, func(c *domain.ReasoningConfig) {
			c.PosCap = 1.6
			c.AggregatePosCap = 2.5
		})
		s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 0, Evidence: domain.Evidence{Time: 5}})
		inc, _ := s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 1, Evidence: domain.Evidence{Time: 5}})
		if !almostEqual(inc.Evidence.Time, 2.5) {
			t.Errorf("expected aggregate cap 2.5, got %v", inc.Evidence.Time)
		}

		s2 := newTestStore(t, func(c *domain.ReasoningConfig) {
			c.PosCap = 1.6
			c.AggregatePosCap = 5
		})
		s2.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 0, Evidence: domain.Evidence{Time: 5}})
		inc, _ = s2.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 1, Evidence: domain.Evidence{Time: 5}})
		if !almostEqual(inc.Evidence.Time, 3.2) {
			t.Errorf("expected per-event caps summed to 3.2, got %v", inc.Evidence.Time)
		}
	})

	t.Run("SnapshotIsolation", func(t *testing.T) {
		s := newTestStore(t, nil)
		inc, _ := s.Upsert("home-1", domain.Event{Track: "t1", Camera: "front", Timestamp: 0})
		inc.Events[0].Camera = "mutated"
		inc.Cameras[0] = "mutated"

		again, _ := s.Get("home-1", "t1")
		if again.Events[0].Camera != "front" || again.Cameras[0] != "front" {
			t.Error("mutating a snapshot leaked into the store")
		}
	})
}

func TestStoreNonFiniteEvidence(t *testing.T) {
	s := newTestStore(t, nil)

	bad := domain.Event{
		Track:         "t1",
		Camera:        "front",
		Timestamp:     0,
		KnownIdentity: "family:alex",
		Evidence:      domain.Evidence{Identity: math.NaN(), Time: math.Inf(1), Entry: 0.4},
	}
	inc, err := s.Upsert("home-1", bad)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !inc.Evidence.IsFinite() {
		t.Fatalf("expected finite fused evidence, got %+v", inc.Evidence)
	}
	if math.IsNaN(inc.Ledger.Cumulative) || inc.Ledger.Cumulative != 0 {
		t.Errorf("expected ledger cumulative 0, got %v", inc.Ledger.Cumulative)
	}
	if inc.Events[0].Evidence.Entry != 0.4 {
		t.Errorf("finite components must be kept, got %+v", inc.Events[0].Evidence)
	}

	inc, err = s.Upsert("home-1", domain.Event{Track: "t1", Camera: "front", Timestamp: 10})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(inc.Events) != 2 {
		t.Fatalf("expected both events in the incident, got %d", len(inc.Events))
	}
	if !inc.Evidence.IsFinite() || math.IsNaN(inc.Ledger.Cumulative) {
		t.Errorf("incident poisoned by an earlier event: %+v", inc.Evidence)
	}
}

func TestStoreGet(t *testing.T) {
	s := newTestStore(t, nil)

	if _, ok := s.Get("home-1", "missing"); ok {
		t.Error("expected not found for unknown key")
	}

	s.Upsert("home-1", domain.Event{Track: "a", Timestamp: 0})
	s.Upsert("home-1", domain.Event{Track: "b", Timestamp: 200})
	s.Upsert("home-2", domain.Event{Track: "c", Timestamp: 5})

	if _, ok := s.Get("home-1", "a"); ok {
		t.Error("expected track a to have expired relative to home-1's newest event")
	}
	if _, ok := s.Get("home-1", "b"); !ok {
		t.Error("expected track b to be live")
	}
	if _, ok := s.Get("home-2", "c"); !ok {
		t.Error("another home's clock must not expire home-2 incidents")
	}
}

func TestStoreMarkSuppressed(t *testing.T) {
	s := newTestStore(t, nil)
	inc, _ := s.Upsert("home-1", domain.Event{Track: "t1", Timestamp: 0})

	if n := s.MarkSuppressed("home-1", "t1", inc.ID); n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}
	if n := s.MarkSuppressed("home-1", "t1", inc.ID); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
	if n := s.MarkSuppressed("home-1", "t1", inc.ID+100); n != 0 {
		t.Errorf("expected no-op for stale incident id, got %d", n)
	}
	if n := s.MarkSuppressed("home-1", "unknown", inc.ID); n != 0 {
		t.Errorf("expected no-op for unknown track, got %d", n)
	}

	got, _ := s.Get("home-1", "t1")
	if got.SuppressedCount != 2 {
		t.Errorf("expected snapshot count 2, got %d", got.SuppressedCount)
	}
}

func TestStorePrune(t *testing.T) {
	s := newTestStore(t, nil)
	s.Upsert("home-1", domain.Event{Track: "old", Timestamp: 0})
	s.Upsert("home-1", domain.Event{Track: "new", Timestamp: 500})

	if n := s.Prune(100); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 incident left, got %d", s.Len())
	}

	s.Upsert("home-2", domain.Event{Track: "x", Timestamp: 0})
	s.Upsert("home-2", domain.Event{Track: "y", Timestamp: 400})
	if n := s.PruneStale(); n != 1 {
		t.Errorf("expected PruneStale to drop home-2/x, got %d", n)
	}
	if _, ok := s.Get("home-2", "y"); !ok {
		t.Error("expected home-2/y to survive")
	}

	// Pruned keys start over with a new incident.
	inc, err := s.Upsert("home-1", domain.Event{Track: "old", Timestamp: 501})
	if err != nil {
		t.Fatalf("Upsert after prune failed: %v", err)
	}
	if len(inc.Events) != 1 {
		t.Errorf("expected a fresh incident, got %d events", len(inc.Events))
	}
}

func TestStoreConcurrentKeys(t *testing.T) {
	s := newTestStore(t, nil)
	const tracks = 16
	const perTrack = 50

	var wg sync.WaitGroup
	for i := 0; i < tracks; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			track := fmt.Sprintf("track-%d", n)
			for j := 0; j < perTrack; j++ {
				_, err := s.Upsert("home-1", domain.Event{
					Track:     track,
					Timestamp: float64(j),
					Evidence:  domain.Evidence{Behavior: 0.01},
				})
				if err != nil {
					t.Errorf("Upsert failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != tracks {
		t.Fatalf("expected %d incidents, got %d", tracks, s.Len())
	}
	for i := 0; i < tracks; i++ {
		inc, ok := s.Get("home-1", fmt.Sprintf("track-%d", i))
		if !ok {
			t.Fatalf("track-%d missing", i)
		}
		if len(inc.Events) != perTrack {
			t.Errorf("track-%d: expected %d events, got %d", i, perTrack, len(inc.Events))
		}
	}
}
