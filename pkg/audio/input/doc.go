// ABOUTME: Audio input package for capturing microphone audio
// ABOUTME: Provides the Device interface with malgo and tone backends
// Package input provides audio capture backends.
//
// Devices push samples through a callback on their own thread; consumers
// copy the samples and return quickly.
//
// Example:
//
//	dev, err := input.New("malgo")
//	err = dev.Open(48000, 1, func(samples []int32) { ... })
//	err = dev.Start()
package input
