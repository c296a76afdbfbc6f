// Package events defines the domain events published by a transcription
// client and a dispatcher that fans them out to subscribers.
//
// Every event is one of a closed set of variants ([Connected],
// [Disconnected], [Transcript], [Error], [Status]) identified by a [Kind].
// Subscribers register per kind through a [Dispatcher] and receive a
// [Subscription] handle they can later cancel.
package events

import (
	"fmt"
	"time"
)

// Kind identifies an event variant.
type Kind int

const (
	KindConnected Kind = iota
	KindDisconnected
	KindTranscript
	KindError
	KindStatus

	numKinds
)

var kindNames = [numKinds]string{
	KindConnected:    "connected",
	KindDisconnected: "disconnected",
	KindTranscript:   "transcript",
	KindError:        "error",
	KindStatus:       "status",
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return k >= 0 && k < numKinds }

// String returns the lowercase event name, e.g. "transcript".
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps an event name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// Event is implemented by every event variant.
type Event interface {
	Kind() Kind
}

// Connected is published when the transport opens.
type Connected struct {
	At time.Time
}

// Kind implements [Event].
func (Connected) Kind() Kind { return KindConnected }

// Disconnected is published whenever the transport closes.
type Disconnected struct {
	Code   int
	Reason string
}

// Kind implements [Event].
func (Disconnected) Kind() Kind { return KindDisconnected }

// Word is a word-level annotation attached to a transcript.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    *int    `json:"speaker,omitempty"`
}

// Transcript carries recognised text. Interim results have IsFinal false and
// may be revised by later transcripts.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Timestamp  time.Time
	Words      []Word
}

// Kind implements [Event].
func (Transcript) Kind() Kind { return KindTranscript }

// Error reports a transport failure or an error sent by the service.
type Error struct {
	Err error
}

// Kind implements [Event].
func (Error) Kind() Kind { return KindError }

// StatusCode enumerates the values carried by a [Status] event.
type StatusCode string

const (
	StatusAuthenticated      StatusCode = "authenticated"
	StatusStreaming          StatusCode = "streaming"
	StatusStopped            StatusCode = "stopped"
	StatusReconnecting       StatusCode = "reconnecting"
	StatusReconnectExhausted StatusCode = "reconnect_exhausted"
)

// Status reports a lifecycle change that is not a connect or disconnect.
// Attempt and Delay are set for StatusReconnecting; Attempt is also set for
// StatusReconnectExhausted.
type Status struct {
	Status  StatusCode
	Attempt int
	Delay   time.Duration
	At      time.Time
}

// Kind implements [Event].
func (Status) Kind() Kind { return KindStatus }
