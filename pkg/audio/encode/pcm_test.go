// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests 16-bit and 24-bit PCM encoding of captured samples
package encode

import (
	"encoding/binary"
	"testing"

	"github.com/talktome/voxta-go/pkg/audio"
)

func TestPCMEncode16Bit(t *testing.T) {
	enc, err := New(audio.Format{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}

	samples := []int32{audio.SampleFromInt16(1000), audio.SampleFromInt16(-1000)}
	data, err := enc.Encode(samples)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if len(data) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(data))
	}
	if got := int16(binary.LittleEndian.Uint16(data[0:])); got != 1000 {
		t.Errorf("expected first sample 1000, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[2:])); got != -1000 {
		t.Errorf("expected second sample -1000, got %d", got)
	}
}

func TestPCMEncode24Bit(t *testing.T) {
	enc, err := NewPCM(audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 1, BitDepth: 24})
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}

	data, err := enc.Encode([]int32{0x123456})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if data[0] != 0x56 || data[1] != 0x34 || data[2] != 0x12 {
		t.Errorf("expected little-endian 24-bit bytes, got %v", data)
	}
}

func TestNew_UnsupportedCodec(t *testing.T) {
	if _, err := New(audio.Format{Codec: audio.CodecFLAC}); err == nil {
		t.Error("expected error for flac encoder")
	}
}
