package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"portfolio-chat/internal/config"
	"portfolio-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

const defaultBaseURL = "https://api.openai.com/v1"

// maxErrorBody bounds how much of a failed response body is kept for logs
const maxErrorBody = 512

// ErrMissingAPIKey is returned when no upstream credential is configured
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not configured")

// UpstreamError is returned when the provider answers with a non-2xx status
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// InputMessage is one entry of the Responses API input array
type InputMessage struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponsesRequest is the JSON body posted to {base}/responses
type ResponsesRequest struct {
	Model              string         `json:"model"`
	Instructions       string         `json:"instructions"`
	Input              []InputMessage `json:"input"`
	MaxOutputTokens    int            `json:"max_output_tokens"`
	Stream             bool           `json:"stream"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
}

// StreamRequest describes one visitor turn
type StreamRequest struct {
	Message            string
	Instructions       string
	PreviousResponseID string
}

// OpenAIProvider implements Provider using direct Responses API calls
type OpenAIProvider struct {
	config *config.UpstreamConfig
	client *http.Client
}

// NewOpenAIProvider creates a new provider with config
func NewOpenAIProvider(upstreamConfig *config.UpstreamConfig) *OpenAIProvider {
	return &OpenAIProvider{
		config: upstreamConfig,
		client: &http.Client{},
	}
}

// WithHTTPClient replaces the HTTP client used for upstream calls
func (p *OpenAIProvider) WithHTTPClient(client *http.Client) *OpenAIProvider {
	p.client = client
	return p
}

func (p *OpenAIProvider) getAPIKey() string {
	return p.config.APIKey
}

func (p *OpenAIProvider) getModel() string {
	return p.config.Model
}

func (p *OpenAIProvider) getURL() string {
	base := p.config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/responses"
}

// GetDefaultModel returns the configured model
func (p *OpenAIProvider) GetDefaultModel() string {
	return p.getModel()
}

func (p *OpenAIProvider) buildRequest(req StreamRequest) ResponsesRequest {
	return ResponsesRequest{
		Model:        p.getModel(),
		Instructions: req.Instructions,
		Input: []InputMessage{
			{Type: "message", Role: "user", Content: req.Message},
		},
		MaxOutputTokens:    p.config.MaxOutputTokens,
		Stream:             true,
		PreviousResponseID: req.PreviousResponseID,
	}
}

// StreamResponse sends one streaming request and hands back the raw body
// unread. Cancellation follows ctx; no client-side timeout is applied.
func (p *OpenAIProvider) StreamResponse(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	apiKey := p.getAPIKey()
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	logger.Log.WithFields(logrus.Fields{
		"model":          p.getModel(),
		"message_length": len(req.Message),
		"continued":      req.PreviousResponseID != "",
	}).Info("Calling Responses API (streaming)")

	jsonData, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.getURL(), bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		upstreamErr := &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
		logger.Log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   upstreamErr.Body,
		}).Error("Responses API returned an error")
		return nil, upstreamErr
	}

	return resp.Body, nil
}
