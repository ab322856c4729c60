// Package random supplies the default backoff randomness collaborator: the
// random number source used for election backoff is an external
// collaborator, and this default is what the election wires in unless an
// embedder overrides it.
package random

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// Default is a types.RandomSource backed by math/rand, seeded once at
// construction.
type Default struct {
	mutex *sync.Mutex
	rnd   *rand.Rand
}

// NewDefault builds a process-seeded random source.
func NewDefault() *Default {
	return &Default{
		mutex: &sync.Mutex{},
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// DurationBetween returns a uniformly distributed duration in [lo, hi].
func (d *Default) DurationBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return lo + time.Duration(d.rnd.Int63n(int64(hi-lo)+1))
}

var _ types.RandomSource = (*Default)(nil)
