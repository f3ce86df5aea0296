// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates. A
// Resampler is stateful: feed it consecutive chunks of one stream and it
// interpolates across chunk boundaries.
//
// Example:
//
//	r := resample.New(48000, 16000, 1)
//	mono16k := r.Process(chunk)
package resample
