// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders plus codec selection
package encode

import (
	"fmt"
	"time"

	"github.com/talktome/voxta-go/pkg/audio"
)

// OpusFrameDuration is the packet duration the Opus encoder expects
const OpusFrameDuration = 20 * time.Millisecond

// Encoder encodes PCM int32 samples to various formats
type Encoder interface {
	// Encode converts PCM samples to encoded audio data
	Encode(samples []int32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New returns an encoder for the format's codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported encoder codec: %s", format.Codec)
	}
}

// ChunkDuration returns the chunk length a codec can carry, given the preferred length
func ChunkDuration(format audio.Format, preferred time.Duration) time.Duration {
	if format.Codec == audio.CodecOpus {
		return OpusFrameDuration
	}
	return preferred
}
