// ABOUTME: Inbound frame model shared by the transport and the router
// ABOUTME: A frame is either one $type message or one binary audio chunk
package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame is a single inbound server event
type Frame struct {
	Type    string          // $type of a JSON message, empty for audio
	Payload json.RawMessage // Raw JSON message
	Chunk   *AudioChunk     // Set for binary audio frames
}

// IsAudio reports whether the frame carries an audio chunk
func (f Frame) IsAudio() bool {
	return f.Chunk != nil
}

// Decode unmarshals the frame payload into v
func (f Frame) Decode(v any) error {
	if f.Payload == nil {
		return fmt.Errorf("frame %q has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.Type, err)
	}
	return nil
}

// MessageFrame wraps a raw $type message
func MessageFrame(raw json.RawMessage) (Frame, error) {
	typ, err := TypeOf(raw)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: typ, Payload: raw}, nil
}

// ChunkFrame wraps an audio chunk
func ChunkFrame(chunk AudioChunk) Frame {
	return Frame{Chunk: &chunk}
}
