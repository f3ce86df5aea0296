// ABOUTME: Opus audio decoder for streamed reply packets
// ABOUTME: One packet per chunk; the int16 scratch buffer is reused across packets
package decode

import (
	"fmt"

	"github.com/talktome/voxta-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrameMs is the longest duration one Opus packet can carry
const maxOpusFrameMs = 120

// OpusDecoder decodes Opus packets
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
	scratch  []int16
}

// NewOpus creates an Opus decoder for one utterance
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder:  dec,
		channels: format.Channels,
		scratch:  make([]int16, format.SampleRate*maxOpusFrameMs/1000*format.Channels),
	}, nil
}

// Decode converts one packet to samples
func (d *OpusDecoder) Decode(data []byte) ([]int32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty opus packet")
	}

	frames, err := d.decoder.Decode(data, d.scratch)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	samples := make([]int32, frames*d.channels)
	for i := range samples {
		samples[i] = audio.SampleFromInt16(d.scratch[i])
	}
	return samples, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
