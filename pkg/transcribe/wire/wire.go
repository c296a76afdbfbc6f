// Package wire implements the JSON message protocol spoken with the
// transcription service.
//
// Outbound messages are flat JSON objects tagged with a "type" field. Inbound
// messages are decoded leniently: several field spellings are accepted, and
// [Message.Event] converts a decoded message into the domain event it
// represents, if any.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/events"
)

// Outbound message types.
const (
	TypeAuth           = "auth"
	TypePing           = "ping"
	TypeStartListening = "start_listening"
	TypeStopListening  = "stop_listening"
	TypeAudioChunk     = "audio_chunk"
)

// Inbound message types.
const (
	TypeAuthSuccess   = "auth_success"
	TypeTranscript    = "transcript"
	TypeTranscription = "transcription"
	TypeError         = "error"
	TypePong          = "pong"
)

// DefaultConfidence is used for transcripts that carry no confidence value.
const DefaultConfidence = 0.9

// nowFunc is replaced in tests.
var nowFunc = time.Now

// ErrMalformed wraps every decode failure.
var ErrMalformed = errors.New("wire: malformed message")

// Outbound is implemented by every message the client sends.
type Outbound interface {
	// Type returns the value of the "type" discriminator.
	Type() string
}

// Auth carries the client credential. It is the first message sent on every
// connection.
type Auth struct {
	Token string
}

// Ping is the keepalive message.
type Ping struct{}

// StartListening announces that audio chunks follow. Timestamp is epoch
// milliseconds.
type StartListening struct {
	Timestamp int64
}

// StopListening announces the end of the audio stream.
type StopListening struct {
	Timestamp int64
}

// AudioChunk carries base64-encoded little-endian PCM16 audio.
type AudioChunk struct {
	Data      string
	Timestamp int64
}

func (Auth) Type() string           { return TypeAuth }
func (Ping) Type() string           { return TypePing }
func (StartListening) Type() string { return TypeStartListening }
func (StopListening) Type() string  { return TypeStopListening }
func (AudioChunk) Type() string     { return TypeAudioChunk }

// Millis converts t to epoch milliseconds as used in outbound timestamps.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// Encode serialises m to its JSON wire form.
func Encode(m Outbound) ([]byte, error) {
	var v any
	switch m := m.(type) {
	case Auth:
		v = struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}{TypeAuth, m.Token}
	case Ping:
		v = struct {
			Type string `json:"type"`
		}{TypePing}
	case StartListening:
		v = struct {
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
		}{TypeStartListening, m.Timestamp}
	case StopListening:
		v = struct {
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
		}{TypeStopListening, m.Timestamp}
	case AudioChunk:
		v = struct {
			Type      string `json:"type"`
			Data      string `json:"data"`
			Timestamp int64  `json:"timestamp"`
		}{TypeAudioChunk, m.Data, m.Timestamp}
	default:
		return nil, fmt.Errorf("wire: encode: unsupported message %T", m)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", m.Type(), err)
	}
	return b, nil
}

// Message is a decoded inbound message. Fields that were absent are nil.
type Message struct {
	Type       string
	Text       *string
	Transcript *string
	IsFinal    *bool
	IsFinalAlt *bool
	Confidence *float64
	Timestamp  *float64
	Words      []events.Word
	Error      string
}

type inbound struct {
	Type       string          `json:"type"`
	Text       *string         `json:"text"`
	Transcript *string         `json:"transcript"`
	IsFinal    *bool           `json:"is_final"`
	IsFinalAlt *bool           `json:"isFinal"`
	Confidence *float64        `json:"confidence"`
	Timestamp  *float64        `json:"timestamp"`
	Words      json.RawMessage `json:"words"`
	Error      json.RawMessage `json:"error"`
}

// Decode parses an inbound payload. Payloads that are not a JSON object or
// carry no "type" return an error wrapping [ErrMalformed]. Field shapes that
// do not match (for example a non-array "words") are tolerated and dropped.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	m := Message{
		Type:       in.Type,
		Text:       in.Text,
		Transcript: in.Transcript,
		IsFinal:    in.IsFinal,
		IsFinalAlt: in.IsFinalAlt,
		Confidence: in.Confidence,
		Timestamp:  in.Timestamp,
		Error:      decodeError(in.Error),
	}
	if len(in.Words) > 0 {
		var words []events.Word
		if err := json.Unmarshal(in.Words, &words); err == nil {
			m.Words = words
		}
	}
	return m, nil
}

// decodeError accepts either a string or an object with a "message" field.
func decodeError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}

// ServerError is the error carried by an [events.Error] built from a server
// "error" message.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server error"
	}
	return "server error: " + e.Message
}

// Event converts m into the domain event it represents. The second result is
// false for pong, unknown types and anything else that produces no event.
func (m Message) Event() (events.Event, bool) {
	switch m.Type {
	case TypeAuthSuccess:
		return events.Status{Status: events.StatusAuthenticated, At: nowFunc()}, true
	case TypeTranscript, TypeTranscription:
		return m.transcript(), true
	case TypeError:
		return events.Error{Err: &ServerError{Message: m.Error}}, true
	default:
		return nil, false
	}
}

func (m Message) transcript() events.Transcript {
	t := events.Transcript{
		Confidence: DefaultConfidence,
		Words:      m.Words,
	}
	switch {
	case m.Text != nil && *m.Text != "":
		t.Text = *m.Text
	case m.Transcript != nil:
		t.Text = *m.Transcript
	}
	switch {
	case m.IsFinal != nil:
		t.IsFinal = *m.IsFinal
	case m.IsFinalAlt != nil:
		t.IsFinal = *m.IsFinalAlt
	}
	if m.Confidence != nil {
		t.Confidence = *m.Confidence
	}
	if m.Timestamp != nil {
		t.Timestamp = time.UnixMilli(int64(*m.Timestamp))
	} else {
		t.Timestamp = nowFunc()
	}
	if t.Words == nil {
		t.Words = []events.Word{}
	}
	return t
}
