package store_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabolina/mcastkv/pkg/mcastkv/store"
	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

type fakeClock struct{ now types.Timestamp }

func (f *fakeClock) Now() types.Timestamp { return f.now }

func val(s string) types.Value {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestStore_LocalSetThenGet(t *testing.T) {
	s := store.New(&fakeClock{now: 1})
	s.LocalSet("x", val("1"), "node-a")

	v, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, val("1"), v)
}

func TestStore_MergeAppliesStrictlyGreaterTimestamp(t *testing.T) {
	s := store.New(&fakeClock{now: 0})

	res := s.Merge("x", val("1"), 100, "node-a")
	assert.Equal(t, store.Applied, res)

	res = s.Merge("x", val("2"), 50, "node-b")
	assert.Equal(t, store.Suppressed, res)

	v, _ := s.Get("x")
	assert.Equal(t, val("1"), v, "lower timestamp must not overwrite")
}

func TestStore_MergeTieBreaksOnWriterNodeId(t *testing.T) {
	s := store.New(&fakeClock{now: 0})

	res := s.Merge("x", val("from-a"), 100, "node-a")
	assert.Equal(t, store.Applied, res)

	// Equal timestamp, smaller NodeId: suppressed.
	res = s.Merge("x", val("from-smaller"), 100, "node-0")
	assert.Equal(t, store.Suppressed, res)

	// Equal timestamp, larger NodeId: applied.
	res = s.Merge("x", val("from-z"), 100, "node-z")
	assert.Equal(t, store.Applied, res)

	v, _ := s.Get("x")
	assert.Equal(t, val("from-z"), v)
}

func TestStore_MergeNeverDecreasesTimestamp(t *testing.T) {
	s := store.New(&fakeClock{now: 0})
	s.Merge("x", val("1"), 10, "node-a")
	s.Merge("x", val("2"), 20, "node-a")

	// Replaying an older update is a no-op (P2: monotonicity, P5: replay).
	res := s.Merge("x", val("1"), 10, "node-a")
	assert.Equal(t, store.Suppressed, res)

	v, _ := s.Get("x")
	assert.Equal(t, val("2"), v)
}

func TestStore_SnapshotReplayIsIdempotent(t *testing.T) {
	s := store.New(&fakeClock{now: 0})
	s.Merge("x", val("1"), 10, "node-a")
	s.Merge("y", val("2"), 20, "node-a")

	snap := s.Snapshot()
	for _, e := range snap {
		res := s.Merge(e.Key, e.Value, e.Ts, "node-a")
		assert.Equal(t, store.Suppressed, res, "replaying the same snapshot must be a no-op")
	}

	again := s.Snapshot()
	assert.ElementsMatch(t, snap, again)
}

func TestStore_SeedDoesNotPreventFutureWritesFromWinning(t *testing.T) {
	s := store.New(&fakeClock{now: 0})
	s.Seed(map[types.Key]types.Value{"club_name": val("Club 3")})

	v, ok := s.Get("club_name")
	require.True(t, ok)
	assert.Equal(t, val("Club 3"), v)

	res := s.Merge("club_name", val("Club 4"), 1, "node-a")
	assert.Equal(t, store.Applied, res, "any real write must supersede a seeded entry")
}

func TestStore_ContainsAndAbsentGet(t *testing.T) {
	s := store.New(&fakeClock{now: 0})
	assert.False(t, s.Contains("missing"))

	_, ok := s.Get("missing")
	assert.False(t, ok)
}
