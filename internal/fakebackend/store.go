// Package fakebackend is an in-process stand-in for the Redis backend and
// its six atomic scripts, used by package tests that need the write path's
// invariants (uniqueness, versioning, cascade) without a live Redis + search
// module. It mirrors internal/script/lua's scripts statement-for-statement
// rather than reimplementing their semantics independently, so a behavior
// change in one place is easy to carry to the other.
package fakebackend

import (
	"sync"
	"time"
)

// store is a minimal in-process Redis stand-in covering the primitives the
// six Lua scripts call: strings (GET/SET/DEL/EXISTS, with EX expiry),
// hashes (HGET/HSET/HDEL, used for unique indexes) and sets (SADD/SREM/
// SMEMBERS/DEL, used for relation edges).
type store struct {
	mu      sync.Mutex
	strings map[string]stringEntry
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	now     func() time.Time
}

type stringEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func newStore(now func() time.Time) *store {
	return &store{
		strings: make(map[string]stringEntry),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		now:     now,
	}
}

func (s *store) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

// getLocked reads key with lazy expiry; callers must hold s.mu.
func (s *store) getLocked(key string) (string, bool) {
	e, ok := s.strings[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.strings, key)
		return "", false
	}
	return e.value, true
}

func (s *store) set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = stringEntry{value: value}
}

func (s *store) setEX(key, value string, ttlSeconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = s.now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	s.strings[key] = stringEntry{value: value, expiresAt: expiresAt}
}

func (s *store) del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.sets, key)
}

func (s *store) exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.getLocked(key)
	if ok {
		return true
	}
	if h, ok := s.hashes[key]; ok && len(h) > 0 {
		return true
	}
	if set, ok := s.sets[key]; ok && len(set) > 0 {
		return true
	}
	return false
}

func (s *store) hget(key, field string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return "", false
	}
	v, ok := h[field]
	return v, ok
}

func (s *store) hset(key, field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
}

func (s *store) hdel(key, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hashes[key]; ok {
		delete(h, field)
	}
}

func (s *store) sadd(key, member string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
}

func (s *store) srem(key, member string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[key]; ok {
		delete(set, member)
	}
}

func (s *store) smembers(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}
