package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/voiceflow-pro/voiceflow/pkg/transcribe/events"
)

// Printer writes transcripts to a terminal or log file, one line each.
// Finals look like
//
//	[15:04:05] hello world (0.93)
//
// and interims, when enabled, are prefixed with "~".
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	interims bool
	speakers bool
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, interims bool) *Printer {
	return &Printer{w: w, interims: interims}
}

// SetSpeakers toggles the speaker label derived from word annotations.
func (p *Printer) SetSpeakers(on bool) {
	p.mu.Lock()
	p.speakers = on
	p.mu.Unlock()
}

// Print writes t. Empty transcripts are skipped.
func (p *Printer) Print(t events.Transcript) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !t.IsFinal {
		if p.interims {
			fmt.Fprintf(p.w, "~ %s\n", text)
		}
		return
	}

	label := ""
	if p.speakers {
		if s, ok := speaker(t.Words); ok {
			label = fmt.Sprintf("speaker %d: ", s)
		}
	}
	fmt.Fprintf(p.w, "[%s] %s%s (%.2f)\n", t.Timestamp.Format("15:04:05"), label, text, t.Confidence)
}

// speaker returns the speaker of the first annotated word.
func speaker(words []events.Word) (int, bool) {
	for _, w := range words {
		if w.Speaker != nil {
			return *w.Speaker, true
		}
	}
	return 0, false
}
