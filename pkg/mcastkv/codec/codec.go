// Package codec implements the wire encode/decode collaborator: the
// protocol mandates no format, only that it be symmetric and that frames
// fit a single datagram.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// MaxFrameBytes is the default hard ceiling on an encoded frame.
const MaxFrameBytes = 65535

// ErrFrameTooLarge is wrapped into the error returned by Encode/Decode when
// a frame would exceed (or does exceed) the configured ceiling, letting
// callers distinguish an oversize write from any other encode failure.
var ErrFrameTooLarge = errors.New("mcastkv: encoded frame exceeds byte ceiling")

// Codec encodes and decodes protocol messages to/from opaque byte frames.
type Codec interface {
	Encode(message types.Message) ([]byte, error)
	Decode(frame []byte) (types.Message, error)
}

// JSON is the default Codec. Unknown or malformed frames surface as an
// error for the caller to drop silently.
type JSON struct {
	// MaxBytes bounds the encoded size; zero means MaxFrameBytes.
	MaxBytes int
}

// NewJSON builds a JSON codec with the default frame ceiling.
func NewJSON() *JSON {
	return &JSON{MaxBytes: MaxFrameBytes}
}

func (j *JSON) max() int {
	if j.MaxBytes <= 0 {
		return MaxFrameBytes
	}
	return j.MaxBytes
}

// Encode implements Codec.
func (j *JSON) Encode(message types.Message) ([]byte, error) {
	frame, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("mcastkv: encode message: %w", err)
	}
	if len(frame) > j.max() {
		return nil, fmt.Errorf("mcastkv: encoded frame of %d bytes exceeds %d byte ceiling: %w", len(frame), j.max(), ErrFrameTooLarge)
	}
	return frame, nil
}

// Decode implements Codec.
func (j *JSON) Decode(frame []byte) (types.Message, error) {
	var message types.Message
	if len(frame) > j.max() {
		return message, fmt.Errorf("mcastkv: frame of %d bytes exceeds %d byte ceiling: %w", len(frame), j.max(), ErrFrameTooLarge)
	}
	if err := json.Unmarshal(frame, &message); err != nil {
		return message, fmt.Errorf("mcastkv: decode frame: %w", err)
	}
	if message.Op == 0 {
		return message, fmt.Errorf("mcastkv: decoded frame carries unknown op")
	}
	return message, nil
}

var _ Codec = (*JSON)(nil)
