// ABOUTME: Opus audio encoder for the voice uplink
// ABOUTME: Encodes exactly one 20ms frame per call with VoIP tuning
package encode

import (
	"fmt"

	"github.com/talktome/voxta-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// VoiceBitrate is the Opus bitrate used for captured speech
const VoiceBitrate = 24000

// maxOpusPacket bounds one encoded packet
const maxOpusPacket = 1500

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder *opus.Encoder
	samples int // Interleaved samples per frame
	pcm     []int16
	packet  []byte
}

// NewOpus creates an Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := encoder.SetBitrate(VoiceBitrate); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
	}

	samples := format.FramesPer(OpusFrameDuration) * format.Channels
	return &OpusEncoder{
		encoder: encoder,
		samples: samples,
		pcm:     make([]int16, samples),
		packet:  make([]byte, maxOpusPacket),
	}, nil
}

// Encode converts one frame to an Opus packet owned by the caller
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) != e.samples {
		return nil, fmt.Errorf("opus frame must be %d samples, got %d", e.samples, len(samples))
	}

	for i, sample := range samples {
		e.pcm[i] = audio.SampleToInt16(sample)
	}

	n, err := e.encoder.Encode(e.pcm, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	return append([]byte(nil), e.packet[:n]...), nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
