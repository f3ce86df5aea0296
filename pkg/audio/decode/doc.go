// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Provides chunk decoders for PCM and Opus and file decoders for MP3, FLAC and WAV
// Package decode provides audio decoders.
//
// Streamed reply audio arrives as PCM or Opus chunks and is decoded with a
// Decoder from New. Reply audio published as a URL is a complete file and is
// decoded in one pass with File.
//
// All decoders output int32 samples in 24-bit range.
//
// Example:
//
//	decoder, err := decode.New(format)
//	samples, err := decoder.Decode(chunk.Data)
package decode
