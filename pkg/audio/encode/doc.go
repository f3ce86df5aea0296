// ABOUTME: Audio encoder package for encoding PCM to wire formats
// ABOUTME: Provides Encoder interface and implementations for PCM and Opus
// Package encode provides the encoders used for the microphone uplink.
//
// Supports: PCM (16-bit and 24-bit), Opus (20ms frames)
//
// All encoders accept int32 samples in 24-bit range.
//
// Example:
//
//	encoder, err := encode.New(format)
//	data, err := encoder.Encode(samples)
package encode
