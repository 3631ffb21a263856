// Package domain contains core domain types for the voice relay.
package domain

import "strings"

// Role tags who authored a message.
type Role string

// Message roles understood by the completion API.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Seed returns a fresh history containing only the system prompt.
func Seed(systemPrompt string) []Message {
	return []Message{{Role: RoleSystem, Content: systemPrompt}}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Trim caps messages at max entries, evicting the oldest messages after the
// system prompt first. A leading assistant message left behind by eviction is
// dropped too, so the history after the system prompt always opens with a user
// turn. The returned slice never aliases the input.
func Trim(messages []Message, max int) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	if max <= 0 || len(out) <= max {
		return out
	}

	head := 0
	if len(out) > 0 && out[0].Role == RoleSystem {
		head = 1
	}

	for len(out) > max && len(out) > head {
		out = append(out[:head], out[head+1:]...)
	}
	for len(out) > head && out[head].Role == RoleAssistant {
		out = append(out[:head], out[head+1:]...)
	}
	return out
}

// Turns counts the completed user/assistant exchanges in messages.
func Turns(messages []Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// IsBlank reports whether an utterance carries no speech.
func IsBlank(utterance string) bool {
	return strings.TrimSpace(utterance) == ""
}
