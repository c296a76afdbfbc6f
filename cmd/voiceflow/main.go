// Command voiceflow streams microphone or file audio to a real-time
// transcription service and prints the transcripts.
package main

import (
	"fmt"
	"os"
)

// Overridden by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand(version, commit, date).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voiceflow: %v\n", err)
		os.Exit(1)
	}
}
