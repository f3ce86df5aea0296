// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes complete MP3 files to int32 samples
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/talktome/voxta-go/pkg/audio"
)

// DecodeMP3 decodes an MP3 stream; go-mp3 always yields 16-bit stereo
func DecodeMP3(r io.Reader) (audio.Format, []int32, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	format := audio.Format{
		Codec:      audio.CodecMP3,
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		BitDepth:   16,
	}

	var samples []int32
	if length := decoder.Length(); length > 0 {
		samples = make([]int32, 0, length/2)
	}

	buf := make([]byte, 8192)
	for {
		n, err := decoder.Read(buf)
		for i := 0; i+1 < n; i += 2 {
			sample16 := int16(binary.LittleEndian.Uint16(buf[i:]))
			samples = append(samples, audio.SampleFromInt16(sample16))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return format, samples, fmt.Errorf("mp3 decode error: %w", err)
		}
	}

	return format, samples, nil
}
