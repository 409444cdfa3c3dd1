// Package assistant wraps the generative text service: intent parsing,
// message rendering, financial analysis and goal planning. Every caller
// gets a safe default when the service fails.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hyperengineering/nudge/internal/config"
)

// ErrMalformedResponse is returned when the service replies with content
// that cannot be decoded or fails validation.
var ErrMalformedResponse = errors.New("malformed assistant response")

// Compile-time interface check
var _ Completer = (*Client)(nil)

// ChatService defines the interface for making chat completion calls.
// This abstraction enables testing without calling the real OpenAI API.
type ChatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Prompt is one system + user exchange.
type Prompt struct {
	System    string
	User      string
	MaxTokens int64
}

// Completer returns the model's reply to a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Client implements Completer using OpenAI chat completions.
type Client struct {
	chat        ChatService
	model       openai.ChatModel
	temperature float64
	timeout     time.Duration
}

// NewClient creates a client from configuration.
func NewClient(cfg config.AssistantConfig) *Client {
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:        client.Chat.Completions,
		model:       openai.ChatModel(cfg.Model),
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.Timeout),
	}
}

// Complete sends the prompt and returns the trimmed reply.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		}),
		Model:       openai.F(c.model),
		Temperature: openai.F(c.temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.F(p.MaxTokens)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion failed: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var fenced = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripFences extracts the body of a ```json block, if the reply has one.
func stripFences(s string) string {
	if m := fenced.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}
