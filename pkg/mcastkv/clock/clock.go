// Package clock supplies the default wall-clock time source. The local
// clock is an external collaborator; this default implementation is what
// NewPeer wires in unless an embedder overrides it.
package clock

import (
	"time"

	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// Real is a types.Clock backed by time.Now, in wall-clock seconds.
type Real struct{}

// Now returns the current wall-clock time as a real-valued number of
// seconds.
func (Real) Now() types.Timestamp {
	return types.Timestamp(float64(time.Now().UnixNano()) / float64(time.Second))
}

var _ types.Clock = Real{}
