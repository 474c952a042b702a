package models

// WebSocket event envelope pushed to connected widget clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Event types.
const (
	EventMessageAppended = "message_appended"
	EventMessagePart     = "message_part"
	EventSyncState       = "sync_state"
	EventSessionStarted  = "session_started"
)

// MessageAppended announces a finished message added to the active log.
type MessageAppended struct {
	InquiryID string  `json:"inquiry_id"`
	Message   Message `json:"message"`
}

// MessagePart streams one incremental part of an assistant reply.
type MessagePart struct {
	InquiryID string      `json:"inquiry_id"`
	MessageID string      `json:"message_id"`
	Part      ContentPart `json:"part"`
}

// SyncState reports transcript persistence progress for an inquiry.
type SyncState struct {
	InquiryID string `json:"inquiry_id"`
	State     string `json:"state"` // "pending" | "synced" | "queued" | "invalidated"
}

// API error response

type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
