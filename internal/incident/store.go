// Package incident correlates events into per-track incidents and fuses
// their evidence.
package incident

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/watchpost/internal/domain"
)

var (
	// ErrOutOfOrder is returned when an event is older than the last event
	// already applied to its incident.
	ErrOutOfOrder = errors.New("event out of order")

	// ErrInvalidEvent is returned for events missing required fields.
	ErrInvalidEvent = errors.New("invalid event")
)

const shardCount = 32

type key struct {
	home  string
	track string
}

// entry serializes all work on one (home, track) incident.
type entry struct {
	mu      sync.Mutex
	inc     *domain.Incident
	removed bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[key]*entry
}

// Store is a concurrent, time-windowed incident store. Work on different
// keys never contends on the same entry lock.
type Store struct {
	cfg    domain.ReasoningConfig
	window float64
	shards [shardCount]*shard
	nextID atomic.Uint64

	// newest timestamp seen per home
	marks sync.Map
}

// NewStore creates an incident store.
func NewStore(cfg domain.ReasoningConfig) (*Store, error) {
	if !(cfg.CorrelationWindowSeconds > 0) {
		return nil, fmt.Errorf("%w: correlation window must be > 0", domain.ErrInvalidConfig)
	}
	s := &Store{
		cfg:    cfg,
		window: cfg.CorrelationWindowSeconds,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[key]*entry)}
	}
	return s, nil
}

func (s *Store) shardFor(k key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.home))
	h.Write([]byte{0})
	h.Write([]byte(k.track))
	return s.shards[h.Sum32()%shardCount]
}

// acquire returns the locked entry for k, creating it when missing.
func (s *Store) acquire(k key) *entry {
	sh := s.shardFor(k)
	for {
		sh.mu.RLock()
		e, ok := sh.entries[k]
		sh.mu.RUnlock()

		if !ok {
			sh.mu.Lock()
			e, ok = sh.entries[k]
			if !ok {
				e = &entry{}
				sh.entries[k] = e
			}
			sh.mu.Unlock()
		}

		e.mu.Lock()
		if !e.removed {
			return e
		}
		// pruned between lookup and lock
		e.mu.Unlock()
	}
}

// lookup returns the locked entry for k, or nil when none is tracked.
func (s *Store) lookup(k key) *entry {
	sh := s.shardFor(k)
	sh.mu.RLock()
	e, ok := sh.entries[k]
	sh.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	if e.removed || e.inc == nil {
		e.mu.Unlock()
		return nil
	}
	return e
}

// Upsert applies ev to the incident of (homeID, ev.Track) and returns a
// snapshot of the updated incident.
func (s *Store) Upsert(homeID string, ev domain.Event) (domain.Incident, error) {
	if ev.Track == "" {
		return domain.Incident{}, fmt.Errorf("%w: track is required", ErrInvalidEvent)
	}
	if math.IsNaN(ev.Timestamp) || math.IsInf(ev.Timestamp, 0) {
		return domain.Incident{}, fmt.Errorf("%w: timestamp must be finite", ErrInvalidEvent)
	}
	if ev.HomeID == "" {
		ev.HomeID = homeID
	}
	// a malformed reading must not poison the rest of the incident
	ev.Evidence = ev.Evidence.Sanitized()

	e := s.acquire(key{home: homeID, track: ev.Track})
	defer e.mu.Unlock()

	inc := e.inc
	if inc != nil && ev.Timestamp < inc.LastUpdated {
		return domain.Incident{}, fmt.Errorf("%w: ts %.3f precedes %.3f on track %s",
			ErrOutOfOrder, ev.Timestamp, inc.LastUpdated, ev.Track)
	}

	cutoff := ev.Timestamp - s.window
	if inc == nil || inc.LastUpdated < cutoff {
		inc = &domain.Incident{
			ID:        s.nextID.Add(1),
			HomeID:    homeID,
			Track:     ev.Track,
			StartedAt: ev.Timestamp,
		}
		e.inc = inc
	}

	inc.Events = append(inc.Events, ev)
	inc.LastUpdated = ev.Timestamp

	// evict events that fell out of the window
	keep := inc.Events[:0]
	for _, buffered := range inc.Events {
		if buffered.Timestamp >= cutoff {
			keep = append(keep, buffered)
		}
	}
	inc.Events = keep

	if ev.KnownIdentity != "" {
		capped := ev.Evidence.Capped(s.cfg.PosCap, s.cfg.NegCap)
		recordRecognition(&inc.Ledger, s.cfg.Ledger, ev.KnownIdentity, capped.Identity)
	}
	if ev.Interior && inc.Ledger.Resolved {
		inc.Ledger.Interior = true
	}

	inc.Evidence = Fuse(inc.Events, inc.Ledger, s.cfg)
	inc.RefreshCameras()

	s.advance(homeID, ev.Timestamp)

	return inc.Clone(), nil
}

// Get returns a snapshot of the incident for (homeID, track). It reports
// false when the key has seen no event within the window of the home's
// newest timestamp.
func (s *Store) Get(homeID, track string) (domain.Incident, bool) {
	e := s.lookup(key{home: homeID, track: track})
	if e == nil {
		return domain.Incident{}, false
	}
	defer e.mu.Unlock()

	if e.inc.LastUpdated < s.watermark(homeID)-s.window {
		return domain.Incident{}, false
	}
	return e.inc.Clone(), true
}

// MarkSuppressed counts a suppressed duplicate against the incident and
// returns the incident's running count. It is a no-op when incidentID no
// longer matches the live incident.
func (s *Store) MarkSuppressed(homeID, track string, incidentID uint64) int {
	e := s.lookup(key{home: homeID, track: track})
	if e == nil {
		return 0
	}
	defer e.mu.Unlock()

	if e.inc.ID != incidentID {
		return 0
	}
	e.inc.SuppressedCount++
	return e.inc.SuppressedCount
}

// Prune drops incidents whose newest event precedes before and returns how
// many were dropped.
func (s *Store) Prune(before float64) int {
	pruned := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			e.mu.Lock()
			if e.inc == nil || e.inc.LastUpdated < before {
				e.removed = true
				delete(sh.entries, k)
				pruned++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return pruned
}

// PruneStale drops incidents outside the window of their home's newest
// timestamp.
func (s *Store) PruneStale() int {
	pruned := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			e.mu.Lock()
			if e.inc == nil || e.inc.LastUpdated < s.watermark(k.home)-s.window {
				e.removed = true
				delete(sh.entries, k)
				pruned++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return pruned
}

// Len returns the number of tracked incidents.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Window returns the correlation window in seconds.
func (s *Store) Window() float64 {
	return s.window
}

type homeMark struct {
	mu sync.Mutex
	ts float64
}

func (s *Store) advance(homeID string, ts float64) {
	v, ok := s.marks.Load(homeID)
	if !ok {
		v, _ = s.marks.LoadOrStore(homeID, &homeMark{ts: math.Inf(-1)})
	}
	m := v.(*homeMark)
	m.mu.Lock()
	if ts > m.ts {
		m.ts = ts
	}
	m.mu.Unlock()
}

func (s *Store) watermark(homeID string) float64 {
	v, ok := s.marks.Load(homeID)
	if !ok {
		return math.Inf(-1)
	}
	m := v.(*homeMark)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ts
}
