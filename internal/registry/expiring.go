package registry

import (
	"sort"
	"time"
)

// expiringSet is a key -> recordedAt map with lazy, lookup-time expiry.
// It is not synchronized; Registry guards every set with its own mutex.
type expiringSet struct {
	window  time.Duration
	limit   int // prune once len exceeds limit; 0 disables
	batch   int // oldest entries dropped per prune when still over limit
	entries map[string]time.Time
}

func newExpiringSet(window time.Duration, limit, batch int) *expiringSet {
	return &expiringSet{
		window:  window,
		limit:   limit,
		batch:   batch,
		entries: make(map[string]time.Time),
	}
}

func (s *expiringSet) expired(at, now time.Time) bool {
	return now.Sub(at) > s.window
}

func (s *expiringSet) has(key string, now time.Time) bool {
	at, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.expired(at, now) {
		delete(s.entries, key)
		return false
	}
	return true
}

func (s *expiringSet) add(key string, now time.Time) {
	s.entries[key] = now
	if s.limit > 0 && len(s.entries) > s.limit {
		s.prune(now)
	}
}

// addIfAbsent records key unless a live entry exists and reports whether it
// did.
func (s *expiringSet) addIfAbsent(key string, now time.Time) bool {
	if s.has(key, now) {
		return false
	}
	s.add(key, now)
	return true
}

// prune drops expired entries first, then the oldest batch if the set is
// still over its limit.
func (s *expiringSet) prune(now time.Time) {
	for k, at := range s.entries {
		if s.expired(at, now) {
			delete(s.entries, k)
		}
	}
	if s.batch <= 0 || len(s.entries) <= s.limit {
		return
	}

	type kv struct {
		key string
		at  time.Time
	}
	all := make([]kv, 0, len(s.entries))
	for k, at := range s.entries {
		all = append(all, kv{k, at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	n := s.batch
	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(s.entries, e.key)
	}
}

func (s *expiringSet) len() int { return len(s.entries) }
