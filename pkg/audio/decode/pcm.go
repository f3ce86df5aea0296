// ABOUTME: PCM audio decoder for little-endian wire chunks
// ABOUTME: A sample split across two chunks is carried over to the next Decode
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/talktome/voxta-go/pkg/audio"
)

// PCMDecoder decodes 16-bit or 24-bit little-endian PCM
type PCMDecoder struct {
	width   int    // Bytes per sample
	partial []byte // Leading bytes of a sample cut by the chunk boundary
}

// NewPCM creates a PCM decoder for one utterance
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}

	switch format.BitDepth {
	case 16, 24:
		return &PCMDecoder{width: format.BitDepth / 8}, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}
}

// Decode converts a chunk to samples
func (d *PCMDecoder) Decode(data []byte) ([]int32, error) {
	if len(d.partial) > 0 {
		data = append(d.partial, data...)
		d.partial = nil
	}

	n := len(data) / d.width
	samples := make([]int32, n)
	for i := range samples {
		b := data[i*d.width:]
		if d.width == 3 {
			samples[i] = audio.SampleFrom24Bit([3]byte{b[0], b[1], b[2]})
		} else {
			samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(b)))
		}
	}

	if rest := data[n*d.width:]; len(rest) > 0 {
		d.partial = append([]byte(nil), rest...)
	}
	return samples, nil
}

// Pending reports how many bytes of a split sample are waiting for the next chunk
func (d *PCMDecoder) Pending() int {
	return len(d.partial)
}

// Close drops any carried bytes
func (d *PCMDecoder) Close() error {
	d.partial = nil
	return nil
}
