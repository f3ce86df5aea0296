// ABOUTME: Splits fetched reply audio into sequenced chunks
// ABOUTME: Lets URL audio flow through the same playback pipeline as streamed audio
package fetch

import (
	"fmt"
	"time"

	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/encode"
	"github.com/talktome/voxta-go/pkg/audio/resample"
	"github.com/talktome/voxta-go/pkg/protocol"
)

// Chunker numbers the clips of one utterance as a single chunk stream
type Chunker struct {
	format      audio.Format
	chunkFrames int
	enc         encode.Encoder
	utterance   uint32
	seq         uint32
	ts          int64
}

// NewChunker creates a chunker producing PCM chunks in format
func NewChunker(format audio.Format, chunk time.Duration, utterance uint32) (*Chunker, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("chunker produces pcm, got %s", format.Codec)
	}
	enc, err := encode.NewPCM(format)
	if err != nil {
		return nil, err
	}
	frames := format.FramesPer(chunk)
	if frames <= 0 {
		return nil, fmt.Errorf("invalid chunk duration %v", chunk)
	}
	return &Chunker{format: format, chunkFrames: frames, enc: enc, utterance: utterance}, nil
}

// Chunk converts one decoded clip to the chunker format and splits it
func (c *Chunker) Chunk(clip audio.Format, samples []int32) ([]protocol.AudioChunk, error) {
	if !clip.Valid() {
		return nil, fmt.Errorf("invalid clip format: %+v", clip)
	}

	samples = mapChannels(samples, clip.Channels, c.format.Channels)
	if clip.SampleRate != c.format.SampleRate {
		samples = resample.New(clip.SampleRate, c.format.SampleRate, c.format.Channels).Process(samples)
	}

	per := c.chunkFrames * c.format.Channels
	var chunks []protocol.AudioChunk
	for len(samples) > 0 {
		n := per
		if n > len(samples) {
			n = len(samples)
		}
		data, err := c.enc.Encode(samples[:n])
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk: %w", err)
		}
		chunks = append(chunks, protocol.AudioChunk{
			Direction: protocol.Inbound,
			Utterance: c.utterance,
			Seq:       c.seq,
			Timestamp: c.ts,
			Data:      data,
		})
		c.seq++
		c.ts += c.format.Micros(int64(n / c.format.Channels))
		samples = samples[n:]
	}
	return chunks, nil
}

// Final returns the empty end-of-utterance chunk
func (c *Chunker) Final() protocol.AudioChunk {
	chunk := protocol.AudioChunk{
		Direction: protocol.Inbound,
		Utterance: c.utterance,
		Seq:       c.seq,
		Timestamp: c.ts,
		Final:     true,
	}
	c.seq++
	return chunk
}

// mapChannels downmixes to mono or duplicates mono across channels
func mapChannels(samples []int32, from, to int) []int32 {
	switch {
	case from == to:
		return samples
	case to == 1:
		return audio.Downmix(samples, from)
	case from == 1:
		out := make([]int32, len(samples)*to)
		for i, s := range samples {
			for ch := 0; ch < to; ch++ {
				out[i*to+ch] = s
			}
		}
		return out
	default:
		// Keep the first channels of each frame
		frames := len(samples) / from
		out := make([]int32, frames*to)
		for i := 0; i < frames; i++ {
			for ch := 0; ch < to; ch++ {
				src := ch
				if src >= from {
					src = from - 1
				}
				out[i*to+ch] = samples[i*from+src]
			}
		}
		return out
	}
}
