package models

import "encoding/json"

// Lead is the visitor contact form that opens (or resumes) an inquiry.
type Lead struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Inquiry correlates a verified visitor identity to one persisted
// transcript. The transcript arrives in whatever shape the store last
// saved it (array, JSON string, or {messages: [...]}).
type Inquiry struct {
	ID         string          `json:"id"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
}

// TranscriptMessages decodes the stored transcript, accepting every
// shape the store has historically saved: a message array, a
// {messages: [...]} wrapper, or a JSON string containing either. ok is
// false when the payload is absent or unreadable.
func (i Inquiry) TranscriptMessages() ([]Message, bool) {
	return decodeTranscript(i.Transcript, 0)
}

func decodeTranscript(raw json.RawMessage, depth int) ([]Message, bool) {
	if len(raw) == 0 || depth > 2 {
		return nil, false
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err == nil {
		return msgs, len(msgs) > 0
	}
	var wrapped struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Messages) > 0 {
		return wrapped.Messages, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decodeTranscript(json.RawMessage(s), depth+1)
	}
	return nil, false
}

// LeadResult is the create-or-find response from the inquiry store.
type LeadResult struct {
	Inquiry       Inquiry `json:"inquiry"`
	AlreadyExists bool    `json:"alreadyExists"`
}

// ProviderInfo is the chat completion service's model metadata.
type ProviderInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// UploadResult is the media upload service's response.
type UploadResult struct {
	Paths      []string `json:"paths"`
	SignedURLs []string `json:"signedUrls"`
}
