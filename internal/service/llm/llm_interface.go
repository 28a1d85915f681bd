package llm

import (
	"context"
	"io"
)

// Provider defines the interface for upstream completion providers
type Provider interface {
	// StreamResponse opens a streaming response and returns the raw event-stream body.
	// The caller must close the returned body.
	StreamResponse(ctx context.Context, req StreamRequest) (io.ReadCloser, error)

	// GetDefaultModel returns the model used when a request does not name one
	GetDefaultModel() string
}
