// Package subindex is the Subscription Index (C4): the inverted
// indices list→{conn}, symbol→{list}, symbol→{conn} for quotes and
// charts, plus their reference counts. Per spec.md §9's "Global
// mutable indices" design note, each structure is a sharded,
// lock-striped map (64 shards keyed by xxhash) rather than one coarse
// mutex, so that two different keys never contend.
package subindex

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// shardedSetMap is key -> set<member>, striped across shardCount locks.
type shardedSetMap struct {
	shards [shardCount]*setShard
}

type setShard struct {
	mu   sync.RWMutex
	data map[string]map[string]struct{}
}

func newShardedSetMap() *shardedSetMap {
	m := &shardedSetMap{}
	for i := range m.shards {
		m.shards[i] = &setShard{data: make(map[string]map[string]struct{})}
	}
	return m
}

func shardFor(m *shardedSetMap, key string) *setShard {
	h := xxhash.Sum64String(key)
	return m.shards[h%shardCount]
}

// Add inserts member into key's set and returns the set's new size.
func (m *shardedSetMap) Add(key, member string) int {
	s := shardFor(m, key)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.data[key]
	if !ok {
		set = make(map[string]struct{})
		s.data[key] = set
	}
	set[member] = struct{}{}
	return len(set)
}

// Remove deletes member from key's set and returns the set's new size
// (0 if the key no longer exists).
func (m *shardedSetMap) Remove(key, member string) int {
	s := shardFor(m, key)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.data[key]
	if !ok {
		return 0
	}
	delete(set, member)
	n := len(set)
	if n == 0 {
		delete(s.data, key)
	}
	return n
}

// Members returns a snapshot of key's set.
func (m *shardedSetMap) Members(key string) []string {
	s := shardFor(m, key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.data[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	return out
}

// Size returns the size of key's set without copying it.
func (m *shardedSetMap) Size(key string) int {
	s := shardFor(m, key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[key])
}

// Has reports whether key's set is non-empty.
func (m *shardedSetMap) Has(key string) bool {
	return m.Size(key) > 0
}

// DeleteKey removes key entirely, returning its members.
func (m *shardedSetMap) DeleteKey(key string) []string {
	s := shardFor(m, key)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.data[key]
	if !ok {
		return nil
	}
	delete(s.data, key)
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	return out
}
