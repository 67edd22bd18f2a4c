package provider

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the Anthropic adapter.
type AnthropicClient struct {
	client *anthropic.Client
	apiKey string
}

// NewAnthropicClient creates a new Anthropic adapter.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		apiKey: apiKey,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// repairAlternation enforces Anthropic's strict user/assistant
// alternation by inserting placeholder turns where the canonical
// history violates it, and by ensuring the list starts with a user
// turn. Local to this adapter; no other provider needs it.
func repairAlternation(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages)+2)
	for _, msg := range messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if len(out) == 0 && msg.Role == "assistant" {
			out = append(out, ChatMessage{Role: "user", Content: "(continued)"})
		}
		if len(out) > 0 && out[len(out)-1].Role == msg.Role {
			filler := "(continued)"
			fillerRole := "user"
			if msg.Role == "user" {
				fillerRole = "assistant"
			}
			out = append(out, ChatMessage{Role: fillerRole, Content: filler})
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		out = append(out, ChatMessage{Role: "user", Content: "(continued)"})
	}
	return out
}

func anthropicParams(providerModelID, system string, messages []ChatMessage) anthropic.MessageNewParams {
	repaired := repairAlternation(messages)

	params := make([]anthropic.MessageParam, len(repaired))
	for i, msg := range repaired {
		params[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.F(providerModelID),
		MaxTokens: anthropic.F(int64(4096)),
		Messages:  anthropic.F(params),
	}
	if system != "" {
		req.System = anthropic.F([]anthropic.TextBlockParam{{
			Type: anthropic.F(anthropic.TextBlockParamTypeText),
			Text: anthropic.F(system),
		}})
	}
	return req
}

// StreamCompletion issues a streaming message call.
func (c *AnthropicClient) StreamCompletion(ctx context.Context, providerModelID, system string, messages []ChatMessage) (<-chan Fragment, error) {
	stream := c.client.Messages.NewStreaming(ctx, anthropicParams(providerModelID, system, messages))

	out := make(chan Fragment)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
			if ok && event.Type == anthropic.MessageStreamEventTypeContentBlockDelta &&
				delta.Type == "text_delta" && delta.Text != "" {
				select {
				case out <- Fragment{Text: delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Fragment{Err: err}
		}
	}()
	return out, nil
}

// Complete issues a single-shot message call.
func (c *AnthropicClient) Complete(ctx context.Context, providerModelID, system string, messages []ChatMessage) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropicParams(providerModelID, system, messages))
	if err != nil {
		return "", err
	}
	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	return content, nil
}

// Classify maps Anthropic errors into the common taxonomy.
func (c *AnthropicClient) Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 529:
			return KindRateLimited
		case 401, 403:
			return KindTerminal
		}
	}
	return KindUnknown
}

// Ping reports configuration-level reachability. Anthropic exposes no
// cheap health endpoint, so a configured key counts as reachable.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return errors.New("anthropic: no API key configured")
	}
	return nil
}
