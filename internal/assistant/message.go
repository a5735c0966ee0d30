package assistant

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ValidateMessages checks every role and returns the index of the latest user message,
// or -1 when there is none.
func ValidateMessages(msgs []Message) (int, error) {
	latest := -1
	for i, m := range msgs {
		if !m.Role.Valid() {
			return -1, fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
		if m.Role == RoleUser {
			latest = i
		}
	}
	return latest, nil
}

func toOpenAI(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
