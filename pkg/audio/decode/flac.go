// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes complete FLAC streams to interleaved int32 samples
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/talktome/voxta-go/pkg/audio"
)

// DecodeFLAC decodes a FLAC stream, normalizing samples to the 24-bit range
func DecodeFLAC(r io.Reader) (audio.Format, []int32, error) {
	stream, err := flac.New(r)
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	format := audio.Format{
		Codec:      audio.CodecFLAC,
		SampleRate: int(stream.Info.SampleRate),
		Channels:   int(stream.Info.NChannels),
		BitDepth:   int(stream.Info.BitsPerSample),
	}

	shift := 24 - format.BitDepth
	var samples []int32

	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return format, samples, fmt.Errorf("flac decode error: %w", err)
		}

		blockSize := int(frame.BlockSize)
		for i := 0; i < blockSize; i++ {
			for ch := 0; ch < format.Channels; ch++ {
				sample := frame.Subframes[ch].Samples[i]
				if shift > 0 {
					sample <<= uint(shift)
				} else if shift < 0 {
					sample >>= uint(-shift)
				}
				samples = append(samples, sample)
			}
		}
	}

	return format, samples, nil
}
