package assess

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/watchpost/internal/domain"
	"github.com/opensource-finance/watchpost/internal/repository"
)

// DefaultLatestTTL bounds how long the latest assessment of a track stays
// cached.
const DefaultLatestTTL = 10 * time.Minute

// Sink fans a finished assessment out to the optional outer layers:
// repository, cache and event bus. Failures are logged and never returned,
// so an outer layer outage cannot lose an assessment already made.
type Sink struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	LatestTTL time.Duration
}

// Record persists ev and a, caches a as the track's latest assessment and
// publishes it. Alerts that should notify are also published on the alert
// topic.
func (s *Sink) Record(ctx context.Context, ev *domain.Event, a *domain.Assessment) {
	if s == nil || a == nil {
		return
	}
	homeID := a.HomeID

	if s.Repo != nil {
		if ev != nil {
			if ev.ID == "" {
				ev.ID = a.EventID
			}
			err := s.Repo.SaveEvent(ctx, homeID, ev)
			if errors.Is(err, repository.ErrDuplicate) {
				slog.Debug("event already recorded", "home_id", homeID, "event_id", ev.ID)
			} else if err != nil {
				slog.Error("failed to save event",
					"home_id", homeID,
					"event_id", a.EventID,
					"error", err,
				)
			}
		}
		if err := s.Repo.SaveAssessment(ctx, homeID, a); err != nil {
			slog.Error("failed to save assessment",
				"home_id", homeID,
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}

	if s.Cache != nil {
		ttl := s.LatestTTL
		if ttl <= 0 {
			ttl = DefaultLatestTTL
		}
		if err := s.Cache.SetLatestAssessment(ctx, homeID, a.Track, a, ttl); err != nil {
			slog.Warn("failed to cache assessment",
				"home_id", homeID,
				"track", a.Track,
				"error", err,
			)
		}
	}

	if s.Bus == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		slog.Error("failed to encode assessment", "assessment_id", a.ID, "error", err)
		return
	}
	if err := s.Bus.Publish(ctx, homeID, domain.TopicAssessment, payload); err != nil {
		slog.Error("failed to publish assessment",
			"home_id", homeID,
			"assessment_id", a.ID,
			"error", err,
		)
	}
	if a.Notify() {
		if err := s.Bus.Publish(ctx, homeID, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"home_id", homeID,
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}
}
