package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/watchpost/internal/cache"
)

func TestSightingService(t *testing.T) {
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(lruCache, time.Minute)
	ctx := context.Background()
	homeID := "home-001"

	t.Run("FirstTrack", func(t *testing.T) {
		count, err := svc.ActiveTracks(ctx, homeID, "track-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 active track, got %d", count)
		}
	})

	t.Run("RepeatSightingNotDoubleCounted", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			count, err := svc.ActiveTracks(ctx, homeID, "track-a")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if count != 1 {
				t.Errorf("expected 1 active track, got %d", count)
			}
		}
	})

	t.Run("DistinctTracks", func(t *testing.T) {
		svc.ActiveTracks(ctx, homeID, "track-b")
		count, _ := svc.ActiveTracks(ctx, homeID, "track-c")
		if count != 3 {
			t.Errorf("expected 3 active tracks, got %d", count)
		}
		again, _ := svc.ActiveTracks(ctx, homeID, "track-a")
		if again != 3 {
			t.Errorf("repeat sighting should report the current count 3, got %d", again)
		}
	})

	t.Run("HomeIsolation", func(t *testing.T) {
		count, _ := svc.ActiveTracks(ctx, "home-002", "track-a")
		if count != 1 {
			t.Errorf("expected 1 for a different home, got %d", count)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		if _, err := svc.ActiveTracks(ctx, "", "track"); err == nil {
			t.Error("expected error for empty homeID")
		}
		if _, err := svc.ActiveTracks(ctx, homeID, ""); err == nil {
			t.Error("expected error for empty track")
		}
	})

	t.Run("NoCache", func(t *testing.T) {
		if _, err := NewService(nil, 0).ActiveTracks(ctx, homeID, "t"); err == nil {
			t.Error("expected error without a cache")
		}
	})
}

func TestSightingWindowExpiry(t *testing.T) {
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(lruCache, 50*time.Millisecond)
	ctx := context.Background()

	svc.ActiveTracks(ctx, "home", "a")
	svc.ActiveTracks(ctx, "home", "b")

	time.Sleep(80 * time.Millisecond)

	count, err := svc.ActiveTracks(ctx, "home", "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected counter to restart after the window, got %d", count)
	}
}
