package mcastkv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	itesting "github.com/jabolina/mcastkv/pkg/mcastkv/testing"
	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

func testConfig() Configuration {
	cfg := DefaultConfiguration()
	cfg.ElectionWindowLo = 5 * time.Millisecond
	cfg.ElectionWindowHi = 40 * time.Millisecond
	cfg.SnapshotPacing = 0
	cfg.HandledSetTTL = 200 * time.Millisecond
	return cfg
}

func newTestPeer(t *testing.T, bus *itesting.Bus, seed map[types.Key]types.Value) *Peer {
	t.Helper()
	cfg := testConfig()
	cfg.Seed = seed
	p, err := newPeer(cfg, bus.Join())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// A peer seeded with initial contents is joined by a second peer, which
// converges within a bounded window and observes exactly one change event
// for the seeded key.
func TestScenario_NewPeerAbsorbsExistingState(t *testing.T) {
	bus := itesting.NewBus()
	_ = newTestPeer(t, bus, map[types.Key]types.Value{
		"club_name": []byte(`["Club 3"]`),
	})

	b := newTestPeer(t, bus, nil)
	sub, err := b.Subscribe()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ok := itesting.Eventually(func() bool {
		v, present, _ := b.Get("club_name")
		return present && string(v) == `["Club 3"]`
	}, time.Second, 5*time.Millisecond)
	require.True(t, ok)

	select {
	case change := <-sub.Changes():
		assert.Equal(t, "club_name", change.Key)
		assert.Equal(t, `["Club 3"]`, string(change.Value))
	case <-time.After(time.Second):
		t.Fatal("B's observer stream never yielded the seeded value")
	}
	select {
	case change := <-sub.Changes():
		t.Fatalf("unexpected second change event %v", change)
	case <-time.After(100 * time.Millisecond):
	}
}

// Scenario 2: concurrent writes to the same key converge to the value
// with the later timestamp on both peers.
func TestScenario_ConcurrentWriteConvergesToLaterTimestamp(t *testing.T) {
	bus := itesting.NewBus()
	a := newTestPeer(t, bus, map[types.Key]types.Value{"x": []byte(`1`)})
	b := newTestPeer(t, bus, map[types.Key]types.Value{"x": []byte(`1`)})

	require.NoError(t, a.Set("x", []byte(`2`)))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Set("x", []byte(`3`)))

	for _, p := range []*Peer{a, b} {
		ok := itesting.Eventually(func() bool {
			v, _, _ := p.Get("x")
			return string(v) == `3`
		}, time.Second, 5*time.Millisecond)
		assert.True(t, ok)
	}
}

// Scenario 6: Close stops all outbound traffic and terminates every
// change stream within a bounded time, with no goroutine left running.
func TestScenario_CloseDuringElectionStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t,
		// the test runner's own goroutine is not a peer resource Close is
		// responsible for.
		goleak.IgnoreTopFunction("testing.(*T).Run"),
	)

	bus := itesting.NewBus()
	a := newTestPeer(t, bus, map[types.Key]types.Value{"x": []byte(`1`)})
	sub, err := a.Subscribe()
	require.NoError(t, err)

	b, err := newPeer(testConfig(), bus.Join())
	require.NoError(t, err)
	// Close B immediately, potentially mid-election on A's side.
	require.NoError(t, b.Close())

	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Close(), ErrClosed)

	select {
	case _, ok := <-sub.Changes():
		assert.False(t, ok, "subscription must terminate after Close")
	case <-time.After(time.Second):
		t.Fatal("subscription never terminated after Close")
	}

	_, _, err = a.Get("x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPeer_DeleteIsExplicitlyUnsupported(t *testing.T) {
	bus := itesting.NewBus()
	p := newTestPeer(t, bus, nil)
	err := p.Delete("x")
	assert.ErrorIs(t, err, ErrDeleteUnsupported)
}

func TestPeer_SetThenGetRoundTrips(t *testing.T) {
	bus := itesting.NewBus()
	p := newTestPeer(t, bus, nil)
	require.NoError(t, p.Set("k", []byte(`"v"`)))

	v, ok, err := p.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"v"`, string(v))
}

func TestPeer_RangeReturnsConsistentSnapshot(t *testing.T) {
	bus := itesting.NewBus()
	p := newTestPeer(t, bus, map[types.Key]types.Value{
		"a": []byte(`1`),
		"b": []byte(`2`),
	})

	entries, err := p.Range()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
