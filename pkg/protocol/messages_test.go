// ABOUTME: Tests for Voxta message types
// ABOUTME: Verifies $type stamping and parsing of server messages
package protocol

import (
	"encoding/json"
	"testing"
)

func TestMarshalStampsType(t *testing.T) {
	auth := Authenticate{
		Client:        "voxta-go",
		ClientVersion: "0.1.0",
		Scope:         []string{"role:app", "broadcast:write"},
		Capabilities: Capabilities{
			AudioInput:                AudioInputWebSocketStream,
			AudioOutput:               AudioOutputURL,
			AcceptedAudioContentTypes: []string{ContentTypeXWAV},
		},
	}

	raw, err := Marshal(TypeAuthenticate, auth)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	typ, err := TypeOf(raw)
	if err != nil {
		t.Fatalf("failed to read type: %v", err)
	}
	if typ != TypeAuthenticate {
		t.Errorf("expected type %s, got %s", TypeAuthenticate, typ)
	}

	var decoded Authenticate
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Capabilities.AudioInput != AudioInputWebSocketStream {
		t.Errorf("expected audioInput %s, got %s", AudioInputWebSocketStream, decoded.Capabilities.AudioInput)
	}
	if len(decoded.Scope) != 2 {
		t.Errorf("expected 2 scopes, got %d", len(decoded.Scope))
	}
}

func TestTypeOfMissingType(t *testing.T) {
	if _, err := TypeOf(json.RawMessage(`{"user":{}}`)); err == nil {
		t.Error("expected error for message without $type")
	}
	if _, err := TypeOf(json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestChatStartedParsing(t *testing.T) {
	raw := json.RawMessage(`{
		"$type": "chatStarted",
		"user": {"id": "u1", "name": "User"},
		"characters": [{"id": "c1"}],
		"services": {
			"textGen": {"serviceName": "Local", "serviceId": "s1"},
			"textToSpeech": {"serviceName": "Voice", "serviceId": "s2"}
		},
		"chatId": "chat-1",
		"sessionId": "session-1"
	}`)

	frame, err := MessageFrame(raw)
	if err != nil {
		t.Fatalf("failed to build frame: %v", err)
	}
	if frame.Type != TypeChatStarted {
		t.Errorf("expected type %s, got %s", TypeChatStarted, frame.Type)
	}

	var started ChatStarted
	if err := frame.Decode(&started); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if started.SessionID != "session-1" {
		t.Errorf("expected session-1, got %s", started.SessionID)
	}
	if started.Services[ServiceTextToSpeech].ServiceID != "s2" {
		t.Errorf("expected tts service s2, got %s", started.Services[ServiceTextToSpeech].ServiceID)
	}
	if _, ok := started.Services[ServiceSpeechToText]; ok {
		t.Error("expected no speechToText service")
	}
}

func TestAnimationFrameEnd(t *testing.T) {
	f := AnimationFrame{Timestamp: 1000, Duration: 33333}
	if f.End() != 34333 {
		t.Errorf("expected end 34333, got %d", f.End())
	}
}
