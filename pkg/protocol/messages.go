// ABOUTME: Voxta message type definitions
// ABOUTME: Defines structs for every $type exchanged over the hub
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client to server message types
const (
	TypeAuthenticate           = "authenticate"
	TypeLoadCharactersList     = "loadCharactersList"
	TypeLoadCharacter          = "loadCharacter"
	TypeStartChat              = "startChat"
	TypeSend                   = "send"
	TypeSpeechPlaybackStart    = "speechPlaybackStart"
	TypeSpeechPlaybackComplete = "speechPlaybackComplete"
	TypeEndOfSpeech            = "endOfSpeech"
)

// Server to client message types
const (
	TypeWelcome                  = "welcome"
	TypeCharactersListLoaded     = "charactersListLoaded"
	TypeCharacterLoaded          = "characterLoaded"
	TypeChatStarted              = "chatStarted"
	TypeChatClosed               = "chatClosed"
	TypeReplyStart               = "replyStart"
	TypeReplyChunk               = "replyChunk"
	TypeReplyEnd                 = "replyEnd"
	TypeReplyCancelled           = "replyCancelled"
	TypeUpdate                   = "update"
	TypeConfiguration            = "configuration"
	TypeSpeechRecognitionStart   = "speechRecognitionStart"
	TypeSpeechRecognitionPartial = "speechRecognitionPartial"
	TypeSpeechRecognitionEnd     = "speechRecognitionEnd"
	TypeAnimationFrames          = "animationFrames"
	TypeError                    = "error"
	TypeChatSessionError         = "chatSessionError"
)

// Hub methods invoked by the client besides SendMessage
const (
	MethodSendMessage            = "SendMessage"
	MethodReceiveMessage         = "ReceiveMessage"
	MethodStartAudioInputStream  = "startAudioInputStream"
	MethodStartAudioOutputStream = "startAudioOutputStream"
	MethodStopAudioStream        = "stopAudioStream"
)

// Audio transport capabilities advertised during authentication
const (
	AudioInputWebSocketStream = "WebSocketStream"
	AudioOutputURL            = "Url"
	AudioOutputWebSocket      = "WebSocketStream"
)

// Envelope is the common header of every message
type Envelope struct {
	Type string `json:"$type"`
}

// TypeOf returns the $type of a raw message
func TypeOf(raw json.RawMessage) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("message has no $type")
	}
	return env.Type, nil
}

// Capabilities describes the audio transports a client supports
type Capabilities struct {
	AudioInput                string   `json:"audioInput"`
	AudioOutput               string   `json:"audioOutput"`
	AcceptedAudioContentTypes []string `json:"acceptedAudioContentTypes"`
}

// Authenticate is the first message sent after the hub handshake
type Authenticate struct {
	Type          string       `json:"$type"`
	Client        string       `json:"client"`
	ClientVersion string       `json:"clientVersion"`
	Scope         []string     `json:"scope"`
	Capabilities  Capabilities `json:"capabilities"`
}

// User identifies the authenticated account
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Welcome is the server reply to a successful authentication
type Welcome struct {
	Type string `json:"$type"`
	User User   `json:"user"`
}

// LoadCharactersList requests the list of available characters
type LoadCharactersList struct {
	Type string `json:"$type"`
}

// Character describes an AI character
type Character struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CreatorNotes    string `json:"creatorNotes,omitempty"`
	ExplicitContent bool   `json:"explicitContent,omitempty"`
	Favorite        bool   `json:"favorite,omitempty"`
}

// CharactersListLoaded carries the character list
type CharactersListLoaded struct {
	Type       string      `json:"$type"`
	Characters []Character `json:"characters"`
}

// LoadCharacter requests the details of one character
type LoadCharacter struct {
	Type        string `json:"$type"`
	CharacterID string `json:"characterId"`
}

// VoiceProfile is a text-to-speech voice reference
type VoiceProfile struct {
	Service string `json:"service,omitempty"`
	Voice   string `json:"voice,omitempty"`
}

// LoadedCharacter is the character detail returned by characterLoaded
type LoadedCharacter struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name,omitempty"`
	EnableThinkingSpeech bool           `json:"enableThinkingSpeech"`
	TextToSpeech         []VoiceProfile `json:"textToSpeech,omitempty"`
}

// CharacterLoaded answers LoadCharacter
type CharacterLoaded struct {
	Type      string          `json:"$type"`
	Character LoadedCharacter `json:"character"`
}

// ChatCharacter is the character reference embedded in chat messages
type ChatCharacter struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	ExplicitContent string `json:"explicitContent,omitempty"`
}

// StartChat opens a chat session with a character
type StartChat struct {
	Type        string        `json:"$type"`
	ContextKey  string        `json:"contextKey"`
	Context     string        `json:"context"`
	ChatID      string        `json:"chatId"`
	CharacterID string        `json:"characterId"`
	Character   ChatCharacter `json:"character"`
}

// Service names a backend service used by a chat
type Service struct {
	ServiceName string `json:"serviceName"`
	ServiceID   string `json:"serviceId"`
}

// Service keys reported in ChatStarted
const (
	ServiceTextGen      = "textGen"
	ServiceSpeechToText = "speechToText"
	ServiceTextToSpeech = "textToSpeech"
)

// ChatStarted confirms a chat session
type ChatStarted struct {
	Type       string             `json:"$type"`
	User       User               `json:"user"`
	Characters []ChatCharacter    `json:"characters"`
	Services   map[string]Service `json:"services,omitempty"`
	ChatID     string             `json:"chatId"`
	SessionID  string             `json:"sessionId"`
}

// ChatClosed ends a chat session
type ChatClosed struct {
	Type      string `json:"$type"`
	ChatID    string `json:"chatId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Send carries typed or transcribed user input
type Send struct {
	Type                       string `json:"$type"`
	SessionID                  string `json:"sessionId"`
	Text                       string `json:"text"`
	DoReply                    bool   `json:"doReply"`
	DoCharacterActionInference bool   `json:"doCharacterActionInference"`
}

// EndOfSpeech tells the server the user stopped talking
type EndOfSpeech struct {
	Type      string `json:"$type"`
	SessionID string `json:"sessionId"`
	Utterance uint32 `json:"utterance"`
}

// SpeechPlayback reports playback progress of a reply
type SpeechPlayback struct {
	Type      string `json:"$type"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

// ReplyStart announces a new character utterance
type ReplyStart struct {
	Type      string `json:"$type"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	SessionID string `json:"sessionId"`
	Utterance uint32 `json:"utterance"`
}

// ReplyChunk carries a piece of reply text and optionally its audio URL
type ReplyChunk struct {
	Type       string `json:"$type"`
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	SessionID  string `json:"sessionId"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	Text       string `json:"text"`
	AudioURL   string `json:"audioUrl,omitempty"`
	Utterance  uint32 `json:"utterance"`
}

// ReplyEnd closes a reply
type ReplyEnd struct {
	Type      string `json:"$type"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	SessionID string `json:"sessionId"`
	Utterance uint32 `json:"utterance"`
	Audio     bool   `json:"audio"`
}

// ReplyCancelled aborts a reply
type ReplyCancelled struct {
	Type      string `json:"$type"`
	MessageID string `json:"messageId"`
	SessionID string `json:"sessionId"`
	Utterance uint32 `json:"utterance"`
}

// Update replaces the text of an existing chat message
type Update struct {
	Type      string `json:"$type"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

// ServiceConfiguration names one service the server has configured
type ServiceConfiguration struct {
	ServiceType string `json:"serviceType"`
	ServiceName string `json:"serviceName"`
	ServiceID   string `json:"serviceId"`
}

// Configuration lists the services available on the server
type Configuration struct {
	Type           string                 `json:"$type"`
	Configurations []ServiceConfiguration `json:"configurations"`
}

// SpeechRecognition carries transcription progress
type SpeechRecognition struct {
	Type string `json:"$type"`
	Text string `json:"text,omitempty"`
}

// AnimationFrame is a timed facial pose aligned to the reply audio
type AnimationFrame struct {
	Utterance uint32    `json:"utterance"`
	Timestamp int64     `json:"timestamp"` // Microseconds since utterance start
	Duration  int64     `json:"duration"`  // Microseconds
	Weights   []float32 `json:"weights"`
	Viseme    int       `json:"viseme,omitempty"`
}

// End returns the exclusive end of the frame in microseconds
func (f AnimationFrame) End() int64 {
	return f.Timestamp + f.Duration
}

// AnimationFrames carries a batch of frames for one utterance
type AnimationFrames struct {
	Type      string           `json:"$type"`
	SessionID string           `json:"sessionId,omitempty"`
	Utterance uint32           `json:"utterance"`
	Frames    []AnimationFrame `json:"frames"`
}

// Error is a server-reported error
type Error struct {
	Type    string `json:"$type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ChatSessionError is a server-reported error scoped to a chat session
type ChatSessionError struct {
	Type      string `json:"$type"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// StreamFormat is the descriptor sent when an audio stream opens
type StreamFormat struct {
	ContentType        string `json:"contentType"`
	SampleRate         int    `json:"sampleRate"`
	Channels           int    `json:"channels"`
	BitsPerSample      int    `json:"bitsPerSample"`
	BufferMilliseconds int    `json:"bufferMilliseconds"`
}

// Content types used in stream descriptors
const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeXWAV = "audio/x-wav"
	ContentTypeOpus = "audio/opus"
	ContentTypeMP3  = "audio/mpeg"
	ContentTypeFLAC = "audio/flac"
)

// AudioStreamRequest opens an audio stream in one direction
type AudioStreamRequest struct {
	SessionID string       `json:"sessionId,omitempty"`
	Format    StreamFormat `json:"format"`
}

// AudioStreamStop closes an audio stream
type AudioStreamStop struct {
	SessionID string `json:"sessionId,omitempty"`
	Direction string `json:"direction"`
}

// Marshal stamps a message with its $type and encodes it
func Marshal(typ string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", typ, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", typ, err)
	}
	typeJSON, _ := json.Marshal(typ)
	fields["$type"] = typeJSON

	return json.Marshal(fields)
}
