// ABOUTME: Tests for the response router
// ABOUTME: Covers classification, per-category ordering and unknown events
package router

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap/zaptest"
)

func frame(t *testing.T, typ string, v any) protocol.Frame {
	t.Helper()
	raw, err := protocol.Marshal(typ, v)
	if err != nil {
		t.Fatalf("failed to marshal %s: %v", typ, err)
	}
	f, err := protocol.MessageFrame(raw)
	if err != nil {
		t.Fatalf("failed to build frame: %v", err)
	}
	return f
}

func TestClassify(t *testing.T) {
	tests := []struct {
		typ  string
		want Category
	}{
		{protocol.TypeWelcome, CategorySession},
		{protocol.TypeChatStarted, CategorySession},
		{protocol.TypeSpeechRecognitionPartial, CategoryTranscript},
		{protocol.TypeReplyStart, CategoryUtteranceStarted},
		{protocol.TypeReplyChunk, CategoryUtteranceStarted},
		{protocol.TypeReplyEnd, CategoryUtteranceStarted},
		{protocol.TypeReplyCancelled, CategoryUtteranceStarted},
		{protocol.TypeUpdate, CategoryChatUpdate},
		{protocol.TypeConfiguration, CategorySession},
		{protocol.TypeAnimationFrames, CategoryAnimationFrame},
		{protocol.TypeChatSessionError, CategoryError},
	}

	for _, tt := range tests {
		cat, ok, err := Classify(protocol.Frame{Type: tt.typ})
		if err != nil || !ok {
			t.Errorf("%s: unexpected ok=%v err=%v", tt.typ, ok, err)
			continue
		}
		if cat != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.typ, tt.want, cat)
		}
	}

	cat, ok, err := Classify(protocol.ChunkFrame(protocol.AudioChunk{}))
	if err != nil || !ok || cat != CategoryAudioChunk {
		t.Errorf("expected audio-chunk for binary frame, got %s ok=%v err=%v", cat, ok, err)
	}
}

func TestClassifyIgnoredAndUnknown(t *testing.T) {
	_, ok, err := Classify(protocol.Frame{Type: "chatFlow"})
	if ok || err != nil {
		t.Errorf("expected chatFlow to be ignored, got ok=%v err=%v", ok, err)
	}

	_, _, err = Classify(protocol.Frame{Type: "somethingNew"})
	var unknown *UnknownEventError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownEventError, got %v", err)
	}
	if unknown.Type != "somethingNew" {
		t.Errorf("expected type somethingNew, got %s", unknown.Type)
	}
}

func TestDispatchUnknownDoesNotReachHandlers(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	defer r.Close()

	called := make(chan struct{}, 1)
	for c := Category(0); c < numCategories; c++ {
		r.Subscribe(c, func(protocol.Frame) { called <- struct{}{} })
	}

	raw := json.RawMessage(`{"$type":"mystery"}`)
	f, _ := protocol.MessageFrame(raw)
	if err := r.Dispatch(f); err == nil {
		t.Fatal("expected error for unknown event")
	}

	select {
	case <-called:
		t.Error("handler called for unknown event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchPreservesOrderWithinCategory(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	defer r.Close()

	const n = 200
	got := make(chan uint32, n)
	r.Subscribe(CategoryAudioChunk, func(f protocol.Frame) {
		got <- f.Chunk.Seq
	})

	for i := uint32(0); i < n; i++ {
		if err := r.Dispatch(protocol.ChunkFrame(protocol.AudioChunk{Seq: i})); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
	}

	for i := uint32(0); i < n; i++ {
		select {
		case seq := <-got:
			if seq != i {
				t.Fatalf("expected seq %d, got %d", i, seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for seq %d", i)
		}
	}
}

func TestReplyLifecycleDeliveredInOrder(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	defer r.Close()

	got := make(chan string, 3)
	r.Subscribe(CategoryUtteranceStarted, func(f protocol.Frame) { got <- f.Type })

	r.Dispatch(frame(t, protocol.TypeReplyStart, protocol.ReplyStart{Utterance: 1}))
	r.Dispatch(frame(t, protocol.TypeReplyChunk, protocol.ReplyChunk{Utterance: 1, Text: "hi"}))
	r.Dispatch(frame(t, protocol.TypeReplyEnd, protocol.ReplyEnd{Utterance: 1}))

	for _, want := range []string{protocol.TypeReplyStart, protocol.TypeReplyChunk, protocol.TypeReplyEnd} {
		select {
		case typ := <-got:
			if typ != want {
				t.Fatalf("expected %s, got %s", want, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSlowCategoryDoesNotBlockOthers(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	defer r.Close()

	release := make(chan struct{})
	r.Subscribe(CategoryUtteranceStarted, func(protocol.Frame) { <-release })

	errs := make(chan protocol.Frame, 1)
	r.Subscribe(CategoryError, func(f protocol.Frame) { errs <- f })

	r.Dispatch(frame(t, protocol.TypeReplyChunk, protocol.ReplyChunk{Text: "hi"}))
	r.Dispatch(frame(t, protocol.TypeError, protocol.Error{Message: "boom"}))

	select {
	case f := <-errs:
		var e protocol.Error
		if err := f.Decode(&e); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if e.Message != "boom" {
			t.Errorf("expected boom, got %s", e.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("error category blocked behind reply category")
	}
	close(release)
}

func TestHandlersAreNotReentrant(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	defer r.Close()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	wg.Add(20)

	r.Subscribe(CategoryTranscript, func(protocol.Frame) {
		defer wg.Done()
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	})

	for i := 0; i < 20; i++ {
		go r.Dispatch(frame(t, protocol.TypeSpeechRecognitionPartial, protocol.SpeechRecognition{Text: "x"}))
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected one handler at a time, got %d", maxActive)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	defer r.Close()

	got := make(chan struct{}, 2)
	r.Subscribe(CategorySession, func(protocol.Frame) {
		got <- struct{}{}
		panic("bad handler")
	})

	r.Dispatch(frame(t, protocol.TypeChatClosed, protocol.ChatClosed{}))
	r.Dispatch(frame(t, protocol.TypeChatClosed, protocol.ChatClosed{}))

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("delivery stopped after panic at %d", i)
		}
	}
}

func TestDispatchAfterClose(t *testing.T) {
	r := New(nil)
	r.Close()
	r.Close()

	if err := r.Dispatch(protocol.ChunkFrame(protocol.AudioChunk{})); err == nil {
		t.Error("expected error dispatching to a closed router")
	}
}
