// Package store implements the authoritative local key-value mapping and
// its timestamp shadow: a plain last-writer-wins map guarded by a mutex.
package store

import (
	"sync"

	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// Snapshot is one consistent point-in-time copy of the Store.
type Snapshot struct {
	Key   types.Key
	Value types.Value
	Ts    types.Timestamp
}

// MergeResult reports what Merge did.
type MergeResult int

const (
	// Applied means the incoming (value, ts) replaced the stored entry.
	Applied MergeResult = iota
	// Suppressed means the incoming update lost the ordering or tie-break
	// check and the Store was left untouched.
	Suppressed
)

// Store is the authoritative Key -> Entry mapping plus its timestamp
// shadow, updated together atomically.
type Store struct {
	clock types.Clock

	mutex   sync.RWMutex
	entries map[types.Key]types.Entry
}

// New builds an empty Store. clock supplies Timestamps for LocalSet.
func New(clock types.Clock) *Store {
	return &Store{
		clock:   clock,
		entries: make(map[types.Key]types.Entry),
	}
}

// Seed installs initial contents without assigning fresh timestamps or
// emitting network traffic. Entries seeded this way carry ts = 0, so any
// future write, local or remote, supersedes them.
func (s *Store) Seed(initial map[types.Key]types.Value) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for k, v := range initial {
		s.entries[k] = types.Entry{Value: v, Ts: 0}
	}
}

// Get is a pure lookup.
func (s *Store) Get(k types.Key) (types.Value, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	entry, ok := s.entries[k]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Contains reports whether k currently has an entry.
func (s *Store) Contains(k types.Key) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.entries[k]
	return ok
}

// LocalSet assigns ts = clock.Now(), installs (v, ts) unconditionally and
// returns ts. Local writes always win over prior local state because now()
// is assumed non-decreasing on a single host.
func (s *Store) LocalSet(k types.Key, v types.Value, writer types.NodeId) types.Timestamp {
	ts := s.clock.Now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[k] = types.Entry{Value: v, Ts: ts, Writer: writer}
	return ts
}

// Merge installs (v, ts) iff ts is strictly greater than the current
// timestamp for k, or equal with the incoming writer winning the tie-break
//. Absent current counts as -∞, so any first write applies.
func (s *Store) Merge(k types.Key, v types.Value, ts types.Timestamp, writer types.NodeId) MergeResult {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.entries[k]
	if !exists || ts > current.Ts {
		s.entries[k] = types.Entry{Value: v, Ts: ts, Writer: writer}
		return Applied
	}
	if ts == current.Ts && current.Writer.Less(writer) {
		s.entries[k] = types.Entry{Value: v, Ts: ts, Writer: writer}
		return Applied
	}
	return Suppressed
}

// Snapshot takes a consistent point-in-time copy of every entry, taken
// under the Store's exclusive discipline so no partial update is visible.
func (s *Store) Snapshot() []Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]Snapshot, 0, len(s.entries))
	for k, e := range s.entries {
		out = append(out, Snapshot{Key: k, Value: e.Value, Ts: e.Ts})
	}
	return out
}
