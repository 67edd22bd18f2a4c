package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// QwenClient serves OpenAI-compatible endpoints (Qwen, DeepSeek) via a
// base-URL override on the official OpenAI SDK.
type QwenClient struct {
	client *openai.Client
	apiKey string
}

// NewQwenClient creates a new compatible-endpoint adapter.
func NewQwenClient(apiKey, baseURL string) (*QwenClient, error) {
	if apiKey == "" {
		return nil, errors.New("Qwen API key is required")
	}
	if baseURL == "" {
		return nil, errors.New("Qwen base URL is required")
	}
	return &QwenClient{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		apiKey: apiKey,
	}, nil
}

// Name returns the provider name.
func (c *QwenClient) Name() string {
	return "qwen"
}

func qwenParams(providerModelID, system string, messages []ChatMessage) openai.ChatCompletionNewParams {
	parts := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		parts = append(parts, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			parts = append(parts, openai.AssistantMessage(msg.Content))
		default:
			parts = append(parts, openai.UserMessage(msg.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:    openai.F(providerModelID),
		Messages: openai.F(parts),
	}
}

// StreamCompletion issues a streaming chat completion call.
func (c *QwenClient) StreamCompletion(ctx context.Context, providerModelID, system string, messages []ChatMessage) (<-chan Fragment, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, qwenParams(providerModelID, system, messages))

	out := make(chan Fragment)
	go func() {
		defer close(out)
		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case out <- Fragment{Text: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			if _, done := acc.JustFinishedContent(); done {
				break
			}
		}
		if err := stream.Err(); err != nil {
			out <- Fragment{Err: err}
		}
	}()
	return out, nil
}

// Complete issues a single-shot chat completion call.
func (c *QwenClient) Complete(ctx context.Context, providerModelID, system string, messages []ChatMessage) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, qwenParams(providerModelID, system, messages))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("qwen: empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Classify maps compatible-endpoint errors into the common taxonomy.
func (c *QwenClient) Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503:
			return KindRateLimited
		case 401, 403:
			return KindTerminal
		}
	}
	return KindUnknown
}

// Ping reports configuration-level reachability.
func (c *QwenClient) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return errors.New("qwen: no API key configured")
	}
	return nil
}
