// ABOUTME: PCM audio encoder for captured microphone chunks
// ABOUTME: Writes int32 samples as 16-bit or 24-bit little-endian bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/talktome/voxta-go/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	width int
	put   func(dst []byte, sample int32)
}

func put16(dst []byte, sample int32) {
	binary.LittleEndian.PutUint16(dst, uint16(audio.SampleToInt16(sample)))
}

func put24(dst []byte, sample int32) {
	b := audio.SampleTo24Bit(sample)
	copy(dst, b[:])
}

// NewPCM creates a PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}

	switch format.BitDepth {
	case 16:
		return &PCMEncoder{width: 2, put: put16}, nil
	case 24:
		return &PCMEncoder{width: 3, put: put24}, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}
}

// Encode converts samples to a new byte slice owned by the caller
func (e *PCMEncoder) Encode(samples []int32) ([]byte, error) {
	out := make([]byte, len(samples)*e.width)
	for i, sample := range samples {
		e.put(out[i*e.width:], sample)
	}
	return out, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
