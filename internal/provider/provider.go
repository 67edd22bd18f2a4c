// Package provider defines the uniform streaming completion contract
// and one adapter per AI backend. The orchestrator speaks only this
// contract; provider-specific wire shapes and error types never leak
// past an adapter.
package provider

import (
	"context"
	"strings"
)

// ChatMessage is a canonical conversation message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one element of a lazy completion stream. A stream is a
// channel of fragments closed on completion; a failed stream delivers a
// terminal fragment with Err set and then closes. Streams are not
// restartable — retry means a fresh call.
type Fragment struct {
	Text string
	Err  error
}

// Client is the adapter contract every backend implements.
type Client interface {
	// Name returns the provider name as registered in the catalog.
	Name() string

	// StreamCompletion issues a streaming completion call. The adapter
	// owns satisfying its provider's structural constraints (role
	// alternation, system prompt placement) before calling out.
	StreamCompletion(ctx context.Context, providerModelID, system string, messages []ChatMessage) (<-chan Fragment, error)

	// Complete issues a single-shot completion, used for title
	// generation and summary regeneration.
	Complete(ctx context.Context, providerModelID, system string, messages []ChatMessage) (string, error)

	// Classify maps a provider error into the common taxonomy.
	Classify(err error) ErrorKind

	// Ping cheaply checks reachability for the availability sync.
	Ping(ctx context.Context) error
}

// ComposeSystem joins system prompt fragments in their fixed precedence
// order, dropping empty parts.
func ComposeSystem(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
