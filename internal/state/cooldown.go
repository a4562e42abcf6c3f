// Package state holds ephemeral per-key state shared by concurrent evaluations.
package state

import (
	"sync"
	"time"
)

// CooldownStore tracks which rules are currently in breach so that a runaway
// sensor feed produces one alert per breach instead of one per message.
//
// Each key has its own lock; unrelated sensors never contend.
type CooldownStore struct {
	window  time.Duration
	entries sync.Map // string -> *cooldownEntry
}

type cooldownEntry struct {
	mu      sync.Mutex
	active  bool
	firedAt time.Time
	removed bool
}

// NewCooldownStore creates a store. A window <= 0 suppresses repeats until Reset.
func NewCooldownStore(window time.Duration) *CooldownStore {
	return &CooldownStore{window: window}
}

// Admit records a breach of key at now and reports whether an alert should be emitted.
func (s *CooldownStore) Admit(key string, now time.Time) bool {
	for {
		v, _ := s.entries.LoadOrStore(key, &cooldownEntry{})
		e := v.(*cooldownEntry)

		e.mu.Lock()
		if e.removed {
			// lost a race with Sweep; retry against the fresh entry
			e.mu.Unlock()
			continue
		}
		if e.active && !s.expired(e, now) {
			e.mu.Unlock()
			return false
		}
		e.active = true
		e.firedAt = now
		e.mu.Unlock()
		return true
	}
}

// Reset clears the breach state of key after a non-breaching reading.
func (s *CooldownStore) Reset(key string) {
	v, ok := s.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*cooldownEntry)
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

// Active reports whether key is in breach and still inside its window at now.
func (s *CooldownStore) Active(key string, now time.Time) bool {
	v, ok := s.entries.Load(key)
	if !ok {
		return false
	}
	e := v.(*cooldownEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active && !s.expired(e, now)
}

// Sweep drops entries that no longer suppress anything and returns how many were removed.
func (s *CooldownStore) Sweep(now time.Time) int {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*cooldownEntry)
		e.mu.Lock()
		if !e.active || s.expired(e, now) {
			e.removed = true
			s.entries.Delete(k)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (s *CooldownStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *CooldownStore) expired(e *cooldownEntry, now time.Time) bool {
	return s.window > 0 && now.Sub(e.firedAt) >= s.window
}
