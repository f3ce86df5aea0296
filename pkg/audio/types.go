// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats, decoded buffers and sample conversions
package audio

import "time"

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Codec names
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
	CodecMP3  = "mp3"
	CodecFLAC = "flac"
)

// Format describes audio stream format
type Format struct {
	Codec       string
	SampleRate  int
	Channels    int
	BitDepth    int
	CodecHeader []byte // For FLAC, Opus, etc.
}

// Frames returns the number of frames in an interleaved sample slice
func (f Format) Frames(samples int) int {
	if f.Channels <= 0 {
		return 0
	}
	return samples / f.Channels
}

// FramesPer returns the number of frames covering d
func (f Format) FramesPer(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// Micros converts a frame count to microseconds
func (f Format) Micros(frames int64) int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return frames * 1_000_000 / int64(f.SampleRate)
}

// Valid reports whether the format can be opened on a device
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Buffer represents decoded PCM audio of one utterance chunk
type Buffer struct {
	Utterance uint32
	Seq       uint32
	Timestamp int64   // Microseconds since utterance start
	Final     bool    // Last buffer of the utterance
	Samples   []int32 // PCM samples (int32 to support both 16-bit and 24-bit)
	Format    Format
}

// Frames returns the number of frames in the buffer
func (b Buffer) Frames() int {
	return b.Format.Frames(len(b.Samples))
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	// Left-shift to position 16-bit value in upper bits
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// Downmix averages interleaved channels into mono
func Downmix(samples []int32, channels int) []int32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int32, frames)
	for i := 0; i < frames; i++ {
		var sum int64
		for ch := 0; ch < channels; ch++ {
			sum += int64(samples[i*channels+ch])
		}
		out[i] = int32(sum / int64(channels))
	}
	return out
}
