// ABOUTME: Animation sinks that receive facial poses sampled at the playback position
// ABOUTME: Provides the Sink capability plus no-op and callback implementations
package lipsync

import (
	"fmt"

	"github.com/talktome/voxta-go/pkg/protocol"
)

// Sink receives animation frames in playback order
type Sink interface {
	// ApplyFrame applies a pose; called from the playback loop
	ApplyFrame(frame protocol.AnimationFrame)
	// Reset returns the face to a neutral pose
	Reset()
}

// Kinds accepted by New
const (
	KindNone   = "none"
	KindCurves = "curves"
)

// New returns the sink for a configured lip-sync kind
func New(kind string) (Sink, error) {
	switch kind {
	case "", KindNone:
		return Nop{}, nil
	case KindCurves:
		return NewCurveBuffer(), nil
	default:
		return nil, fmt.Errorf("unknown lipsync kind %q (supported: none, curves)", kind)
	}
}

// Nop discards every frame
type Nop struct{}

func (Nop) ApplyFrame(protocol.AnimationFrame) {}
func (Nop) Reset()                             {}

// Func adapts a function to a Sink; a nil reset is allowed
type Func struct {
	Apply   func(protocol.AnimationFrame)
	OnReset func()
}

// ApplyFrame calls Apply
func (f Func) ApplyFrame(frame protocol.AnimationFrame) {
	if f.Apply != nil {
		f.Apply(frame)
	}
}

// Reset calls OnReset
func (f Func) Reset() {
	if f.OnReset != nil {
		f.OnReset()
	}
}

// Lerp blends two weight sets; t is clamped to [0, 1] and missing weights count as zero
func Lerp(a, b []float32, t float32) []float32 {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := range out {
		var x, y float32
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		out[i] = x + (y-x)*t
	}
	return out
}
