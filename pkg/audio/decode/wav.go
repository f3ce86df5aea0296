// ABOUTME: WAV audio decoder
// ABOUTME: Decodes RIFF/WAVE PCM files to int32 samples
package decode

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/talktome/voxta-go/pkg/audio"
)

// DecodeWAV decodes a PCM WAV file, normalizing samples to the 24-bit range
func DecodeWAV(r io.ReadSeeker) (audio.Format, []int32, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return audio.Format{}, nil, fmt.Errorf("invalid wav file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("wav decode error: %w", err)
	}

	format := audio.Format{
		Codec:      audio.CodecPCM,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}

	shift := 24 - format.BitDepth
	samples := make([]int32, len(buf.Data))
	for i, v := range buf.Data {
		sample := int32(v)
		if shift > 0 {
			sample <<= uint(shift)
		} else if shift < 0 {
			sample >>= uint(-shift)
		}
		samples[i] = sample
	}

	return format, samples, nil
}
