// ABOUTME: Tests for the WAV writer
// ABOUTME: Writes a file and reads it back with the decoder
package encode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/decode"
)

func TestWriteWAVRoundTrip(t *testing.T) {
	format := audio.Format{Codec: audio.CodecPCM, SampleRate: 24000, Channels: 1, BitDepth: 16}
	samples := []int32{0, audio.SampleFromInt16(1200), audio.SampleFromInt16(-1200)}

	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	if err := WriteWAV(f, format, samples); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer f.Close()

	got, decoded, err := decode.DecodeWAV(f)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.SampleRate != 24000 {
		t.Errorf("expected 24000Hz, got %d", got.SampleRate)
	}
	if len(decoded) != 3 || decoded[1] != samples[1] || decoded[2] != samples[2] {
		t.Errorf("expected %v, got %v", samples, decoded)
	}
}

func TestWriteWAVRejectsBitDepth(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()

	if err := WriteWAV(f, audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 8}, nil); err == nil {
		t.Error("expected error for 8-bit wav")
	}
}
