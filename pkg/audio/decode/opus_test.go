// ABOUTME: Tests for Opus decoder
// ABOUTME: Decodes packets produced by the Opus encoder
package decode

import (
	"testing"

	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/encode"
)

func TestNewOpus_InvalidCodec(t *testing.T) {
	decoder, err := NewOpus(audio.Format{Codec: audio.CodecPCM, SampleRate: 48000, Channels: 1})
	if err == nil {
		t.Fatal("expected error for invalid codec, got nil")
	}
	if decoder != nil {
		t.Fatal("expected decoder to be nil for invalid codec")
	}
}

func TestOpusDecodeEncodedFrame(t *testing.T) {
	format := audio.Format{Codec: audio.CodecOpus, SampleRate: 16000, Channels: 1, BitDepth: 16}

	enc, err := encode.NewOpus(format)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	defer enc.Close()

	dec, err := NewOpus(format)
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	defer dec.Close()

	// One 20ms frame at 16kHz
	frame := make([]int32, 320)
	packet, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	samples, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(samples) != 320 {
		t.Errorf("expected 320 samples, got %d", len(samples))
	}
}
