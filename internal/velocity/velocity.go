// Package velocity tracks how many distinct entities are active at a home.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// DefaultWindow is the sighting window used when none is configured.
const DefaultWindow = 3 * time.Minute

// Service counts distinct active tracks per home using the cache.
type Service struct {
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new sighting service.
func NewService(cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		cache:  cache,
		window: window,
	}
}

// ActiveTracks records a sighting of track at homeID and returns the number
// of distinct tracks seen at that home within the window. A track seen again
// is counted once.
// This is the SightingGetter function signature expected by the rule engine.
func (s *Service) ActiveTracks(ctx context.Context, homeID, track string) (int64, error) {
	if homeID == "" || track == "" {
		return 0, fmt.Errorf("homeID and track are required")
	}
	if s.cache == nil {
		return 0, fmt.Errorf("no data source available")
	}

	count, err := s.cache.RecordSighting(ctx, homeID, track, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to record sighting: %w", err)
	}
	return count, nil
}

// GetSightingGetter returns a SightingGetter function for the rule engine.
func (s *Service) GetSightingGetter() func(ctx context.Context, homeID, track string) (int64, error) {
	return s.ActiveTracks
}
