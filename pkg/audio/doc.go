// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer types and sample conversion functions
// Package audio provides the audio types shared by capture and playback.
//
//   - Format: Describes audio stream format (codec, sample rate, channels, bit depth)
//   - Buffer: Decoded PCM audio of one sequenced utterance chunk
//
// Samples are carried as int32 left-justified in 24 bits, so 16-bit devices
// and codecs convert with SampleToInt16 / SampleFromInt16.
//
// Example:
//
//	format := audio.Format{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 16}
//	frames := format.FramesPer(30 * time.Millisecond) // 480
package audio
