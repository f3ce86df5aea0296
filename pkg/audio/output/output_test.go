// ABOUTME: Audio output tests
// ABOUTME: Covers the ring buffer, volume scaling and the virtual clock backend
package output

import (
	"testing"
	"time"

	"github.com/talktome/voxta-go/pkg/audio"
)

func TestBackendsImplementOutput(t *testing.T) {
	var _ Output = (*Malgo)(nil)
	var _ Output = (*Oto)(nil)
	var _ Output = (*Virtual)(nil)
}

func TestNewBackends(t *testing.T) {
	for _, name := range []string{"", "malgo", "oto", "virtual", "null"} {
		out, err := New(name)
		if err != nil {
			t.Errorf("backend %q: unexpected error %v", name, err)
		}
		if out == nil {
			t.Errorf("backend %q: expected output", name)
		}
	}

	if _, err := New("portaudio"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRingBufferWriteRead(t *testing.T) {
	rb := NewRingBuffer(4)

	if n := rb.Write([]int32{1, 2, 3, 4, 5}); n != 4 {
		t.Errorf("expected 4 samples written, got %d", n)
	}
	if rb.Free() != 0 {
		t.Errorf("expected 0 free, got %d", rb.Free())
	}

	out := make([]int32, 6)
	if n := rb.Read(out); n != 4 {
		t.Errorf("expected 4 samples read, got %d", n)
	}
	if out[0] != 1 || out[3] != 4 {
		t.Errorf("unexpected samples %v", out)
	}
	if out[4] != 0 || out[5] != 0 {
		t.Errorf("expected zero fill on underrun, got %v", out[4:])
	}
}

func TestRingBufferWrapAndReset(t *testing.T) {
	rb := NewRingBuffer(3)
	rb.Write([]int32{1, 2})
	rb.Read(make([]int32, 2))
	rb.Write([]int32{3, 4, 5})

	out := make([]int32, 3)
	rb.Read(out)
	if out[0] != 3 || out[1] != 4 || out[2] != 5 {
		t.Errorf("expected [3 4 5] after wrap, got %v", out)
	}

	rb.Write([]int32{6})
	rb.Reset()
	if rb.Available() != 0 {
		t.Errorf("expected empty buffer after reset, got %d", rb.Available())
	}
}

func TestApplyVolume(t *testing.T) {
	samples := []int32{1000, -1000, audio.Max24Bit}

	half := applyVolume(samples, 50, false)
	if half[0] != 500 || half[1] != -500 {
		t.Errorf("expected half volume, got %v", half)
	}

	muted := applyVolume(samples, 100, true)
	for i, s := range muted {
		if s != 0 {
			t.Errorf("sample %d: expected silence when muted, got %d", i, s)
		}
	}

	full := applyVolume(samples, 100, false)
	if full[2] != audio.Max24Bit {
		t.Errorf("expected %d, got %d", audio.Max24Bit, full[2])
	}
}

func TestClampVolume(t *testing.T) {
	if clampVolume(-5) != 0 {
		t.Error("expected negative volume to clamp to 0")
	}
	if clampVolume(150) != 100 {
		t.Error("expected volume over 100 to clamp to 100")
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestVirtualPlaysInRealTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	v := NewVirtualClock(clock.Now)

	if err := v.Open(16000, 1, 16); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := v.Write(make([]int32, 1600)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	clock.now = clock.now.Add(50 * time.Millisecond)
	if played := v.Played(); played != 800 {
		t.Errorf("expected 800 frames after 50ms, got %d", played)
	}

	// Position never runs past what was written
	clock.now = clock.now.Add(time.Second)
	if played := v.Played(); played != 1600 {
		t.Errorf("expected 1600 frames, got %d", played)
	}

	// Idle time does not bank frames for later writes
	v.Write(make([]int32, 160))
	if played := v.Played(); played != 1600 {
		t.Errorf("expected 1600 frames right after write, got %d", played)
	}
}

func TestVirtualFlush(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	v := NewVirtualClock(clock.Now)
	v.Open(1000, 2, 16)

	v.Write(make([]int32, 200))
	clock.now = clock.now.Add(10 * time.Millisecond)
	v.Flush()
	clock.now = clock.now.Add(time.Second)

	if played := v.Played(); played != 10 {
		t.Errorf("expected 10 frames played before flush, got %d", played)
	}
}

func TestVirtualRejectsBadFormat(t *testing.T) {
	v := NewVirtual()
	if err := v.Open(0, 1, 16); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if err := v.Write([]int32{1}); err == nil {
		t.Error("expected error writing before open")
	}
}
