// Package provider streams chat completions from an OpenAI-compatible model
// server.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gosuda/loom/internal/domain"
	"github.com/gosuda/loom/internal/protocol"
)

// ErrNoContent is returned when a stream completes without producing any
// assistant text.
var ErrNoContent = errors.New("provider: stream produced no content") //nolint:gochecknoglobals

// Request is one chat completion request. Zero Temperature and MaxTokens
// fall back to the client defaults.
type Request struct {
	Messages    []domain.Message
	Temperature float32
	MaxTokens   int
}

// Streamer produces one assistant turn as a stream of text chunks. onChunk is
// called for every non-empty delta in arrival order; returning an error from
// it aborts the stream. The full assistant text is returned on success.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(text string) error) (string, error)
}

// Client is a Streamer backed by an OpenAI-compatible chat completion API.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	stop        []string
}

// Option configures a Client.
type Option func(*Client)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps the completion length. Zero leaves the server default.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// New creates a provider client against baseURL. The tool-call end marker is
// always a stop sequence so generation halts as soon as a complete call is
// emitted.
func New(baseURL, apiKey, model string, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{}

	c := &Client{
		api:         openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: 0.2,
		stop:        []string{protocol.EndMarker},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream runs one chat completion and forwards text deltas to onChunk.
// Empty deltas and keepalive chunks without choices are skipped. Because the
// end marker is a stop sequence the server trims it from the output; Stream
// restores it so the turn text parses as a complete tool call.
func (c *Client) Stream(ctx context.Context, req Request, onChunk func(text string) error) (string, error) {
	temperature := c.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	wireReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toWire(req.Messages),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stop:        c.stop,
		Stream:      true,
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, wireReq)
	if err != nil {
		return "", fmt.Errorf("provider.Client.Stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("provider.Client.Stream: recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			if err := onChunk(delta); err != nil {
				return "", fmt.Errorf("provider.Client.Stream: %w", err)
			}
		}
	}

	text := full.String()
	if text == "" {
		return "", ErrNoContent
	}

	if strings.Contains(text, protocol.StartMarker) && !strings.Contains(text, protocol.EndMarker) {
		text += protocol.EndMarker
		if onChunk != nil {
			if err := onChunk(protocol.EndMarker); err != nil {
				return "", fmt.Errorf("provider.Client.Stream: %w", err)
			}
		}
	}

	return text, nil
}

func toWire(messages []domain.Message) []openai.ChatCompletionMessage {
	wire := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return wire
}
