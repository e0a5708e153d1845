// Package suppression rate-limits alerts per (device, entity) pair.
package suppression

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/opensource-finance/watchpost/internal/domain"
)

const shardCount = 32

type key struct {
	device string
	entity string
}

type entry struct {
	mu    sync.Mutex
	state domain.CooldownState
}

type shard struct {
	mu      sync.RWMutex
	entries map[key]*entry
}

// Engine tracks cooldown state. State for a pair is created lazily on its
// first alert-worthy decision.
type Engine struct {
	window float64
	shards [shardCount]*shard
}

// NewEngine creates a cooldown engine with the given window in seconds.
func NewEngine(windowSeconds float64) (*Engine, error) {
	if !(windowSeconds > 0) || math.IsInf(windowSeconds, 0) {
		return nil, fmt.Errorf("%w: cooldown window must be > 0, got %v", domain.ErrInvalidConfig, windowSeconds)
	}
	e := &Engine{window: windowSeconds}
	for i := range e.shards {
		e.shards[i] = &shard{entries: make(map[key]*entry)}
	}
	return e, nil
}

func (e *Engine) shardFor(k key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.device))
	h.Write([]byte{0})
	h.Write([]byte(k.entity))
	return e.shards[h.Sum32()%shardCount]
}

func (e *Engine) entryFor(k key) *entry {
	sh := e.shardFor(k)
	sh.mu.RLock()
	ent, ok := sh.entries[k]
	sh.mu.RUnlock()
	if ok {
		return ent
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if ent, ok = sh.entries[k]; !ok {
		ent = &entry{state: domain.CooldownState{Device: k.device, Entity: k.entity}}
		sh.entries[k] = ent
	}
	return ent
}

// Evaluate applies the cooldown to a decision observed at ts. Decisions that
// are not alert-worthy pass through with status none.
func (e *Engine) Evaluate(device, entity string, ts float64, d domain.Decision) domain.SuppressionOutcome {
	if !d.AlertWorthy() {
		return domain.SuppressionOutcome{Status: domain.SuppressionNone}
	}

	ent := e.entryFor(key{device: device, entity: entity})
	ent.mu.Lock()
	defer ent.mu.Unlock()

	st := &ent.state
	if st.LastAlert == nil || ts-*st.LastAlert >= e.window {
		last := ts
		st.LastAlert = &last
		return domain.SuppressionOutcome{Status: domain.SuppressionSend, Count: st.SuppressedCount}
	}

	st.SuppressedCount++
	return domain.SuppressionOutcome{Status: domain.SuppressionSuppressed, Count: st.SuppressedCount}
}

// State returns a snapshot of the cooldown state for a pair.
func (e *Engine) State(device, entity string) (domain.CooldownState, bool) {
	k := key{device: device, entity: entity}
	sh := e.shardFor(k)
	sh.mu.RLock()
	ent, ok := sh.entries[k]
	sh.mu.RUnlock()
	if !ok {
		return domain.CooldownState{}, false
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	out := ent.state
	if out.LastAlert != nil {
		last := *out.LastAlert
		out.LastAlert = &last
	}
	return out, true
}

// Len returns the number of tracked pairs.
func (e *Engine) Len() int {
	n := 0
	for _, sh := range e.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Window returns the cooldown window in seconds.
func (e *Engine) Window() float64 {
	return e.window
}
