// ABOUTME: WAV file writer
// ABOUTME: Writes int32 samples as a PCM RIFF/WAVE file via go-audio
package encode

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/talktome/voxta-go/pkg/audio"
)

// WriteWAV writes samples (24-bit range) as PCM at the format's bit depth
func WriteWAV(w io.WriteSeeker, format audio.Format, samples []int32) error {
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return fmt.Errorf("unsupported wav bit depth: %d", format.BitDepth)
	}

	shift := 24 - format.BitDepth
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s >> uint(shift))
	}

	enc := wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: format.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish wav: %w", err)
	}
	return nil
}
