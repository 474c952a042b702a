package models

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Content part types as they appear on the wire. Tool parts carry a
// "tool-" prefix followed by the tool name.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	toolPrefix    = "tool-"
)

// ContentPart is one element of a message body: plain text, model
// reasoning, or a tool invocation marker.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

func ReasoningPart(text string) ContentPart {
	return ContentPart{Type: PartReasoning, Text: text}
}

func ToolPart(name string) ContentPart {
	return ContentPart{Type: toolPrefix + name}
}

// IsTool reports whether the part records a tool invocation.
func (p ContentPart) IsTool() bool {
	return strings.HasPrefix(p.Type, toolPrefix) || p.Type == "dynamic-tool"
}

// Message is one entry in a conversation transcript.
// Content mirrors the flattened text of the parts for consumers that
// only understand plain strings.
type Message struct {
	ID      string        `json:"id"`
	Role    string        `json:"role"` // "user" or "assistant"
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var messageSeq atomic.Uint64

// NewMessageID returns an identifier that sorts by creation order.
func NewMessageID() string {
	return fmt.Sprintf("%d-%04d", time.Now().UnixMilli(), messageSeq.Add(1)%10000)
}

func NewUserMessage(text string) Message {
	return Message{
		ID:      NewMessageID(),
		Role:    RoleUser,
		Content: text,
		Parts:   []ContentPart{TextPart(text)},
	}
}

func NewAssistantMessage(text string) Message {
	return Message{
		ID:      NewMessageID(),
		Role:    RoleAssistant,
		Content: text,
		Parts:   []ContentPart{TextPart(text)},
	}
}

// Text returns the concatenation of the message's text parts in order.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// SanitizeMessages returns a deep copy reduced to the persisted shape:
// only text parts survive, and Content is rebuilt from them. The input
// is never mutated.
func SanitizeMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		var parts []ContentPart
		var texts []string
		for _, p := range m.Parts {
			if p.Type == PartText {
				parts = append(parts, p)
				texts = append(texts, p.Text)
			}
		}
		content := strings.Join(texts, "\n")
		if len(parts) == 0 && m.Content != "" {
			content = m.Content
			parts = []ContentPart{TextPart(m.Content)}
		}
		out = append(out, Message{
			ID:      m.ID,
			Role:    m.Role,
			Content: content,
			Parts:   parts,
		})
	}
	return out
}
