// Package eventstream decodes the Responses API server-sent event stream.
//
// The same Decoder backs both the relay, which observes the stream while
// passing bytes through untouched, and the terminal client, which renders it.
package eventstream

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Event types emitted by the upstream Responses API
const (
	TypeCreated   = "response.created"
	TypeCompleted = "response.completed"
	TypeFailed    = "response.failed"
	TypeDelta     = "response.output_text.delta"
	TypeError     = "error"
)

// DataPrefix marks a data line
const DataPrefix = "data: "

// Handlers receives decoded events. Nil callbacks are skipped.
type Handlers struct {
	// OnCreated is called for a creation event carrying a response id
	OnCreated func(responseID string)
	// OnDelta is called for each non-empty text delta
	OnDelta func(text string)
	// OnCompleted is called for a completion event. responseID may be empty;
	// totalTokens is nil when the event carries no usage.
	OnCompleted func(responseID string, totalTokens *int)
	// OnFailed is called for error and response.failed events
	OnFailed func(message string)
}

// Decoder is an io.Writer that splits its input into lines, buffering any
// trailing partial line (including a split UTF-8 sequence) until the next
// Write, and dispatches each data line to Handlers.
type Decoder struct {
	h   Handlers
	buf []byte
}

// NewDecoder creates a Decoder
func NewDecoder(h Handlers) *Decoder {
	return &Decoder{h: h}
}

// Write feeds raw stream bytes. It never returns an error.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		d.line(d.buf[start : start+i])
		start += i + 1
	}
	d.buf = append(d.buf[:0], d.buf[start:]...)
	return len(p), nil
}

// Close dispatches a final unterminated line, if any
func (d *Decoder) Close() error {
	if len(d.buf) > 0 {
		d.line(d.buf)
		d.buf = nil
	}
	return nil
}

func (d *Decoder) line(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return
	}
	payload := line[len(DataPrefix):]
	if !gjson.ValidBytes(payload) {
		// [DONE], heartbeats and anything else that is not JSON
		return
	}

	event := gjson.ParseBytes(payload)
	if !event.IsObject() {
		return
	}

	switch event.Get("type").String() {
	case TypeCreated:
		if id := event.Get("response.id").String(); id != "" && d.h.OnCreated != nil {
			d.h.OnCreated(id)
		}
	case TypeCompleted:
		if d.h.OnCompleted == nil {
			return
		}
		var total *int
		if usage := event.Get("response.usage"); usage.IsObject() {
			n := int(usage.Get("total_tokens").Int())
			total = &n
		}
		d.h.OnCompleted(event.Get("response.id").String(), total)
	case TypeDelta:
		if text := event.Get("delta").String(); text != "" && d.h.OnDelta != nil {
			d.h.OnDelta(text)
		}
	case TypeFailed:
		if d.h.OnFailed != nil {
			d.h.OnFailed(event.Get("response.error.message").String())
		}
	case TypeError:
		if d.h.OnFailed != nil {
			d.h.OnFailed(event.Get("message").String())
		}
	}
}
