package relay

import (
	"errors"
	"fmt"
	"io"

	"portfolio-chat/internal/metrics"
	"portfolio-chat/pkg/eventstream"
)

const defaultChunkSize = 32 * 1024

// Transcoder copies an upstream event stream to a client unchanged while
// decoding it on the side
type Transcoder struct {
	metrics   *metrics.Metrics
	chunkSize int
}

// NewTranscoder creates a Transcoder
func NewTranscoder(m *metrics.Metrics) *Transcoder {
	return &Transcoder{metrics: m, chunkSize: defaultChunkSize}
}

// Relay forwards every chunk read from src to dst, calling flush after each
// write, and returns the transcript of what passed through. It stops at the
// first read or write failure. It does not close src.
func (tc *Transcoder) Relay(src io.Reader, dst io.Writer, flush func()) (*Transcript, error) {
	transcript := &Transcript{}
	decoder := eventstream.NewDecoder(transcript.Handlers())

	buf := make([]byte, tc.chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := dst.Write(chunk); err != nil {
				return transcript, fmt.Errorf("error writing to client: %w", err)
			}
			if flush != nil {
				flush()
			}
			tc.metrics.RelayedBytesAdd(n)
			decoder.Write(chunk)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				decoder.Close()
				return transcript, nil
			}
			return transcript, fmt.Errorf("error reading upstream stream: %w", readErr)
		}
	}
}
