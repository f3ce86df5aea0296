// ABOUTME: Binary audio chunk codec
// ABOUTME: Packs sequenced, timestamped audio into websocket binary frames
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// AudioChunkMessageType is the binary message type ID for audio chunks
	AudioChunkMessageType = 4

	// ChunkHeaderSize is kind, direction, flags, reserved, utterance, seq and timestamp
	ChunkHeaderSize = 1 + 1 + 1 + 1 + 4 + 4 + 8

	flagFinal = 0x01
)

// ErrShortChunk is returned for binary frames smaller than the header
var ErrShortChunk = errors.New("binary message too short")

// Direction tells which way an audio stream flows
type Direction uint8

const (
	// Outbound carries captured microphone audio to the server
	Outbound Direction = 0
	// Inbound carries synthesized speech to the client
	Inbound Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// AudioChunk is one sequenced piece of an utterance's audio
type AudioChunk struct {
	Direction Direction
	Utterance uint32 // Utterance ordinal within the session
	Seq       uint32 // Starts at 0 for every utterance
	Timestamp int64  // Microseconds since utterance start
	Final     bool   // Last chunk of the utterance
	Data      []byte // Encoded audio
}

// Marshal encodes the chunk as a binary frame
func (c AudioChunk) Marshal() []byte {
	buf := make([]byte, ChunkHeaderSize+len(c.Data))
	buf[0] = AudioChunkMessageType
	buf[1] = byte(c.Direction)
	if c.Final {
		buf[2] = flagFinal
	}
	binary.BigEndian.PutUint32(buf[4:8], c.Utterance)
	binary.BigEndian.PutUint32(buf[8:12], c.Seq)
	binary.BigEndian.PutUint64(buf[12:20], uint64(c.Timestamp))
	copy(buf[ChunkHeaderSize:], c.Data)
	return buf
}

// UnmarshalAudioChunk decodes a binary frame
func UnmarshalAudioChunk(data []byte) (AudioChunk, error) {
	if len(data) < ChunkHeaderSize {
		return AudioChunk{}, fmt.Errorf("%w: %d bytes", ErrShortChunk, len(data))
	}
	if data[0] != AudioChunkMessageType {
		return AudioChunk{}, fmt.Errorf("unknown binary message type: %d", data[0])
	}

	payload := make([]byte, len(data)-ChunkHeaderSize)
	copy(payload, data[ChunkHeaderSize:])

	return AudioChunk{
		Direction: Direction(data[1]),
		Final:     data[2]&flagFinal != 0,
		Utterance: binary.BigEndian.Uint32(data[4:8]),
		Seq:       binary.BigEndian.Uint32(data[8:12]),
		Timestamp: int64(binary.BigEndian.Uint64(data[12:20])),
		Data:      payload,
	}, nil
}
