package relay

import (
	"strings"

	"portfolio-chat/pkg/eventstream"
)

// Transcript accumulates what the relay learns from the stream it forwards
type Transcript struct {
	content strings.Builder

	// ResponseID is the upstream response identifier, the next continuation token
	ResponseID string
	// TotalTokens is the usage reported on completion, if any
	TotalTokens *int
	// Completed is set once a completion event has been seen
	Completed bool
	// Failure holds the message of an upstream failure event
	Failure string
}

// Content returns the assistant text assembled from deltas so far
func (t *Transcript) Content() string {
	return t.content.String()
}

// Handlers returns decoder callbacks that fill the transcript.
// A creation event only sets an empty identifier; a completion event with an
// identifier always overwrites it.
func (t *Transcript) Handlers() eventstream.Handlers {
	return eventstream.Handlers{
		OnCreated: func(id string) {
			if t.ResponseID == "" {
				t.ResponseID = id
			}
		},
		OnDelta: func(text string) {
			t.content.WriteString(text)
		},
		OnCompleted: func(id string, totalTokens *int) {
			if id != "" {
				t.ResponseID = id
			}
			if totalTokens != nil {
				t.TotalTokens = totalTokens
			}
			t.Completed = true
		},
		OnFailed: func(message string) {
			t.Failure = message
		},
	}
}
