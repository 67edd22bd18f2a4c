// Package assembler builds the bounded message list sent to a model:
// a tier-sized trailing window plus optional summary, model-switch
// transcript and alternative-response framing. Pure functions; the
// orchestrator owns all I/O.
package assembler

import (
	"fmt"
	"strings"

	"github.com/aurelia-ai/multichat/internal/entitlement"
	"github.com/aurelia-ai/multichat/internal/model"
	"github.com/aurelia-ai/multichat/internal/provider"
)

// Config bounds the assembler's optional blocks.
type Config struct {
	// MemoryFloor is the trailing window used when memory is disabled;
	// immediate continuity survives even for memoryless tiers.
	MemoryFloor int
	// SwitchExchanges is how many recent exchanges the model-switch
	// transcript embeds.
	SwitchExchanges int
	// AltAnswerLimit truncates the other model's answer in the
	// alternative-response framing.
	AltAnswerLimit int
	// SummaryCadence regenerates the summary every K completed
	// exchanges.
	SummaryCadence int
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MemoryFloor:     4,
		SwitchExchanges: 3,
		AltAnswerLimit:  1000,
		SummaryCadence:  5,
	}
}

// Alternative frames a second model's independent take on a question
// another model already answered.
type Alternative struct {
	Question     string
	OtherModelID string
	OtherAnswer  string
}

// Input is everything Build needs for one dispatch.
type Input struct {
	History   []model.Message
	Effective entitlement.Effective

	Summary     string
	ModelID     string
	PrevModelID string

	BasePrompt         string
	CustomInstructions string
	Alternative        *Alternative
}

// Context is the assembled call shape handed to a provider adapter.
type Context struct {
	System   string
	Messages []provider.ChatMessage
}

// Build assembles the context for one dispatch. System fragments are
// composed in fixed precedence: base prompt, custom instructions,
// model-switch transcript, summary, alternative framing.
func Build(in Input, cfg Config) Context {
	window := in.Effective.ContextWindow
	if !in.Effective.Memory {
		window = cfg.MemoryFloor
	}
	if window < cfg.MemoryFloor {
		window = cfg.MemoryFloor
	}

	trailing := in.History
	if len(trailing) > window {
		trailing = trailing[len(trailing)-window:]
	}

	messages := make([]provider.ChatMessage, 0, len(trailing))
	for _, msg := range trailing {
		if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
			continue
		}
		messages = append(messages, provider.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	var summary string
	if in.Effective.Summarize && in.Effective.Memory && in.Summary != "" {
		summary = "Summary of the conversation so far:\n" + in.Summary
	}

	var switchContext string
	if in.PrevModelID != "" && in.PrevModelID != in.ModelID {
		switchContext = buildSwitchContext(in.History, cfg.SwitchExchanges)
	}

	var altFraming string
	if in.Alternative != nil {
		altFraming = buildAlternativeFraming(in.Alternative, cfg.AltAnswerLimit)
	}

	return Context{
		System: provider.ComposeSystem(
			in.BasePrompt,
			in.CustomInstructions,
			switchContext,
			summary,
			altFraming,
		),
		Messages: messages,
	}
}

// buildSwitchContext embeds a short verbatim transcript of the last few
// exchanges so a newly selected model has situational continuity.
func buildSwitchContext(history []model.Message, exchanges int) string {
	limit := exchanges * 2
	recent := history
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	if len(recent) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You are taking over an ongoing conversation previously handled by a different assistant. Recent transcript:\n")
	for _, msg := range recent {
		switch msg.Role {
		case model.RoleUser:
			sb.WriteString("User: ")
		case model.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			continue
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("Continue the conversation naturally.")
	return sb.String()
}

func buildAlternativeFraming(alt *Alternative, limit int) string {
	answer := alt.OtherAnswer
	if len(answer) > limit {
		answer = answer[:limit] + "…"
	}
	return fmt.Sprintf(
		"The user asked the following question and received an answer from another model (%s). Provide your own independent answer. Do not reference or critique the other answer.\n\nQuestion:\n%s\n\nOther model's answer:\n%s",
		alt.OtherModelID, alt.Question, answer,
	)
}

// SummaryDue reports whether the summary should be regenerated after a
// completed exchange: only on exact multiples of the cadence.
func SummaryDue(exchangeCount, cadence int) bool {
	return cadence > 0 && exchangeCount > 0 && exchangeCount%cadence == 0
}

// SummaryPrompt builds the single-shot request used to regenerate the
// rolling summary. Regeneration replaces the stored summary wholesale.
func SummaryPrompt(history []model.Message) (string, []provider.ChatMessage) {
	var sb strings.Builder
	for _, msg := range history {
		if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
			continue
		}
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	system := "You summarize conversations. Produce a concise summary (at most 200 words) of the transcript, keeping the facts and decisions needed to continue it."
	return system, []provider.ChatMessage{{Role: "user", Content: sb.String()}}
}

// TitlePrompt builds the single-shot request used to title a new
// conversation from its first exchange.
func TitlePrompt(userContent, assistantContent string) (string, []provider.ChatMessage) {
	system := "Generate a short title (at most 6 words) for this conversation. Reply with the title only."
	content := fmt.Sprintf("User: %s\n\nAssistant: %s", userContent, assistantContent)
	return system, []provider.ChatMessage{{Role: "user", Content: content}}
}

// LastModelID returns the model id of the most recent assistant message
// in history, or empty if no assistant has answered yet.
func LastModelID(history []model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleAssistant {
			return history[i].ModelID
		}
	}
	return ""
}
