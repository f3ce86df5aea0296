// ABOUTME: Scripted character replies played by the fake hub
// ABOUTME: Generates tone audio chunks and matching animation frames
package fakehub

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/encode"
	"github.com/talktome/voxta-go/pkg/audio/input"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// BlendshapeCount is the number of weights in generated animation frames
const BlendshapeCount = 52

// Reply scripts one character utterance
type Reply struct {
	Text   string
	Chunks int           // Audio chunks; 0 means a text-only reply
	Drop   []uint32      // Sequence numbers never sent
	Order  []uint32      // Send order; ascending when empty
	Frames bool          // Send one animation frame per chunk
	URL    bool          // Publish the audio as a WAV file URL instead of chunks
	Pace   time.Duration // Delay between chunks
	Delay  time.Duration // Delay before replyStart
}

func (r Reply) sendOrder() []uint32 {
	order := r.Order
	if len(order) == 0 {
		order = make([]uint32, r.Chunks)
		for i := range order {
			order[i] = uint32(i)
		}
	}

	dropped := make(map[uint32]bool, len(r.Drop))
	for _, seq := range r.Drop {
		dropped[seq] = true
	}

	out := make([]uint32, 0, len(order))
	for _, seq := range order {
		if !dropped[seq] && int(seq) < r.Chunks {
			out = append(out, seq)
		}
	}
	return out
}

// play sends a reply to one connection
func (h *Hub) play(c *conn, r Reply) {
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}

	utterance := h.nextUtterance()
	msgID := uuid.NewString()
	senderID := h.characterID()

	logger := h.logger.With(zap.Uint32("utterance", utterance), zap.String("message_id", msgID))
	logger.Debug("playing reply", zap.Int("chunks", r.Chunks), zap.Bool("url", r.URL))

	c.event(protocol.TypeReplyStart, protocol.ReplyStart{
		MessageID: msgID, SenderID: senderID, SessionID: c.sessionID(), Utterance: utterance,
	})

	format := h.config.Format
	chunkFrames := format.FramesPer(h.config.ChunkDuration)
	chunkUs := h.config.ChunkDuration.Microseconds()

	tone := input.NewToneGenerator(330, format.SampleRate, format.Channels)
	samples := make([]int32, r.Chunks*chunkFrames*format.Channels)
	tone.Read(samples)

	chunk := protocol.ReplyChunk{
		MessageID: msgID, SenderID: senderID, SessionID: c.sessionID(),
		EndIndex: len(r.Text), Text: r.Text, Utterance: utterance,
	}
	if r.URL && r.Chunks > 0 {
		path, err := h.publish(msgID, samples)
		if err != nil {
			logger.Error("failed to publish reply audio", zap.Error(err))
		} else {
			chunk.AudioURL = path
		}
	}
	c.event(protocol.TypeReplyChunk, chunk)

	streamed := !r.URL && r.Chunks > 0
	if streamed && r.Frames {
		frames := make([]protocol.AnimationFrame, r.Chunks)
		for i := range frames {
			weights := make([]float32, BlendshapeCount)
			weights[i%BlendshapeCount] = 1
			frames[i] = protocol.AnimationFrame{
				Utterance: utterance,
				Timestamp: int64(i) * chunkUs,
				Duration:  chunkUs,
				Weights:   weights,
			}
		}
		c.event(protocol.TypeAnimationFrames, protocol.AnimationFrames{
			SessionID: c.sessionID(), Utterance: utterance, Frames: frames,
		})
	}

	if streamed {
		enc, err := encode.NewPCM(format)
		if err != nil {
			logger.Error("failed to create encoder", zap.Error(err))
			return
		}
		size := chunkFrames * format.Channels
		for _, seq := range r.sendOrder() {
			data, _ := enc.Encode(samples[int(seq)*size : int(seq+1)*size])
			err := c.chunk(protocol.AudioChunk{
				Direction: protocol.Inbound,
				Utterance: utterance,
				Seq:       seq,
				Timestamp: int64(seq) * chunkUs,
				Final:     int(seq) == r.Chunks-1,
				Data:      data,
			})
			if err != nil {
				logger.Debug("reply interrupted", zap.Error(err))
				return
			}
			if r.Pace > 0 {
				time.Sleep(r.Pace)
			}
		}
	}

	c.event(protocol.TypeReplyEnd, protocol.ReplyEnd{
		MessageID: msgID, SenderID: senderID, SessionID: c.sessionID(),
		Utterance: utterance, Audio: r.Chunks > 0,
	})
}

// publish writes reply audio to the audio directory and returns its URL path
func (h *Hub) publish(id string, samples []int32) (string, error) {
	name := id + ".wav"
	f, err := os.Create(filepath.Join(h.audioDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}
	defer f.Close()

	format := h.config.Format
	format.Codec = audio.CodecPCM
	if err := encode.WriteWAV(f, format, samples); err != nil {
		return "", err
	}
	return audioPath + name, nil
}

// ReceivedUtterances returns the utterance ordinals of captured audio, sorted
func (h *Hub) ReceivedUtterances() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[uint32]bool)
	var out []uint32
	for _, c := range h.received {
		if !seen[c.Utterance] {
			seen[c.Utterance] = true
			out = append(out, c.Utterance)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
