// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Output interface with malgo, oto and virtual backends
// Package output provides audio playback backends.
//
// Every backend reports how many frames it has actually played, which the
// playback pipeline uses as its clock for animation sync and completion.
//
// Example:
//
//	out, err := output.New("malgo")
//	err = out.Open(24000, 1, 16)
//	err = out.Write(samples)
//	position := out.Played()
package output
