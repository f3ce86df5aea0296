// ABOUTME: Decoder interface and codec selection
// ABOUTME: Streaming chunk decoders plus whole-file decoding by content type
package decode

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/talktome/voxta-go/pkg/audio"
)

// Decoder decodes audio chunks in various formats to PCM int32 samples
type Decoder interface {
	// Decode converts encoded audio data to PCM samples
	Decode(data []byte) ([]int32, error)

	// Close releases decoder resources
	Close() error
}

// New returns a chunk decoder for a streaming codec
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported streaming codec: %s", format.Codec)
	}
}

// File decodes a complete audio file selected by its content type
func File(r io.Reader, contentType string) (audio.Format, []int32, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))

	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return DecodeMP3(r)
	case "audio/flac", "audio/x-flac":
		return DecodeFLAC(r)
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		data, err := io.ReadAll(r)
		if err != nil {
			return audio.Format{}, nil, fmt.Errorf("failed to read wav: %w", err)
		}
		return DecodeWAV(bytes.NewReader(data))
	default:
		return audio.Format{}, nil, fmt.Errorf("unsupported content type: %q", contentType)
	}
}
