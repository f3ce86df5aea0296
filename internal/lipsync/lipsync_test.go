// ABOUTME: Tests for animation sinks
// ABOUTME: Covers sink selection, curve buffering and weight blending
package lipsync

import (
	"testing"

	"github.com/talktome/voxta-go/pkg/protocol"
)

func TestNewSelectsSink(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(Nop); !ok {
		t.Errorf("expected Nop for empty kind, got %T", s)
	}

	s, err = New(KindCurves)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*CurveBuffer); !ok {
		t.Errorf("expected *CurveBuffer, got %T", s)
	}

	if _, err := New("ovr"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestCurveBufferApplyAndReset(t *testing.T) {
	c := NewCurveBuffer()
	if !c.Neutral() {
		t.Error("expected new buffer to be neutral")
	}

	weights := make([]float32, 60)
	weights[17] = 0.8 // JawOpen
	c.ApplyFrame(protocol.AnimationFrame{Weights: weights})

	if c.Neutral() {
		t.Error("expected buffer to leave neutral after a frame")
	}
	if v, ok := c.Curve("JawOpen"); !ok || v != 0.8 {
		t.Errorf("expected JawOpen 0.8, got %v %v", v, ok)
	}
	if len(c.Weights()) != CurveCount {
		t.Errorf("expected %d weights, got %d", CurveCount, len(c.Weights()))
	}

	c.ApplyFrame(protocol.AnimationFrame{Weights: []float32{0.5}})
	if v, _ := c.Curve("JawOpen"); v != 0 {
		t.Errorf("expected short frame to zero JawOpen, got %v", v)
	}

	c.Reset()
	if !c.Neutral() {
		t.Error("expected neutral after reset")
	}
	for i, w := range c.Weights() {
		if w != 0 {
			t.Fatalf("expected zero weight at %d, got %v", i, w)
		}
	}
	if c.Applied() != 2 {
		t.Errorf("expected 2 applied frames, got %d", c.Applied())
	}

	if _, ok := c.Curve("Smirk"); ok {
		t.Error("expected unknown curve lookup to fail")
	}
}

func TestCurveNamesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, n := range CurveNames {
		if n == "" || seen[n] {
			t.Errorf("bad or duplicate curve name %q", n)
		}
		seen[n] = true
	}
}

func TestFuncAdapter(t *testing.T) {
	var applied, reset int
	s := Func{
		Apply:   func(protocol.AnimationFrame) { applied++ },
		OnReset: func() { reset++ },
	}
	s.ApplyFrame(protocol.AnimationFrame{})
	s.Reset()
	if applied != 1 || reset != 1 {
		t.Errorf("expected 1 apply and 1 reset, got %d and %d", applied, reset)
	}

	// nil callbacks are allowed
	Func{}.ApplyFrame(protocol.AnimationFrame{})
	Func{}.Reset()
}

func TestLerp(t *testing.T) {
	got := Lerp([]float32{0, 1}, []float32{1, 0, 0.5}, 0.25)
	want := []float32{0.25, 0.75, 0.125}
	if len(got) != len(want) {
		t.Fatalf("expected %d weights, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("weight %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if v := Lerp([]float32{0}, []float32{1}, 2)[0]; v != 1 {
		t.Errorf("expected clamped blend 1, got %v", v)
	}
}
