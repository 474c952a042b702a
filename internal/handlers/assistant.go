package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"dreamhome-assistant/internal/clients"
	"dreamhome-assistant/internal/engine"
	"dreamhome-assistant/internal/flow"
	"dreamhome-assistant/internal/middleware"
	"dreamhome-assistant/internal/models"
)

type AssistantHandler struct {
	engine  *engine.Engine
	auth    *middleware.WidgetAuth
	uploads *clients.UploadClient
}

func NewAssistantHandler(eng *engine.Engine, auth *middleware.WidgetAuth, uploads *clients.UploadClient) *AssistantHandler {
	return &AssistantHandler{engine: eng, auth: auth, uploads: uploads}
}

// Bootstrap mints a conversation id and widget token for a fresh widget
// instance and returns the opening transcript.
func (h *AssistantHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	conversationID := "conv-" + uuid.New().String()

	token, err := h.auth.GenerateWidgetToken(conversationID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to create widget session", r))
		return
	}

	messages, err := h.engine.Transcript(r.Context(), conversationID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to start conversation", r))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"conversationId": conversationID,
		"token":          token,
		"messages":       messages,
	})
}

// SubmitLead registers the visitor's contact details and binds the
// resulting inquiry to this conversation.
func (h *AssistantHandler) SubmitLead(w http.ResponseWriter, r *http.Request) {
	var lead models.Lead
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	fields := map[string]string{}
	if strings.TrimSpace(lead.Name) == "" {
		fields["name"] = "Name is required"
	}
	if strings.TrimSpace(lead.Email) == "" && strings.TrimSpace(lead.Phone) == "" {
		fields["email"] = "Email or phone is required"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	result, err := h.engine.SubmitLead(r.Context(), middleware.GetConversationID(r.Context()), lead)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResp("UPSTREAM_ERROR", "Could not register your details right now", r))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Message consumes one free-text user message and returns the turn.
func (h *AssistantHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message text is required", r))
		return
	}

	result, err := h.engine.UserText(r.Context(), middleware.GetConversationID(r.Context()), req.Text)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to process message", r))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// QuickAction consumes one quick-action tap and returns the turn.
func (h *AssistantHandler) QuickAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Action label is required", r))
		return
	}

	result, err := h.engine.QuickAction(r.Context(), middleware.GetConversationID(r.Context()), req.Label)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to process action", r))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PropertyForm records a structured sell or rent-out submission and
// returns the acknowledging turn.
func (h *AssistantHandler) PropertyForm(w http.ResponseWriter, r *http.Request) {
	var form flow.PropertyForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	fields := map[string]string{}
	if strings.TrimSpace(form.Location) == "" {
		fields["location"] = "Location is required"
	}
	if strings.TrimSpace(form.Type) == "" {
		fields["type"] = "Property type is required"
	}
	if strings.TrimSpace(form.Price) == "" {
		fields["price"] = "Price is required"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	result, err := h.engine.SubmitPropertyForm(r.Context(), middleware.GetConversationID(r.Context()), form)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to record property details", r))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Transcript returns the active message log.
func (h *AssistantHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.engine.Transcript(r.Context(), middleware.GetConversationID(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to load transcript", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// Meta reports the chat provider metadata the widget shows in its footer.
func (h *AssistantHandler) Meta(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.Meta(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResp("UPSTREAM_ERROR", "Chat service unavailable", r))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

const maxUploadBytes = 32 << 20

// Upload forwards visitor attachments to the media upload service.
func (h *AssistantHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid multipart body", r))
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "At least one file is required", r))
		return
	}

	var files []clients.UploadFile
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Could not read uploaded file", r))
			return
		}
		defer f.Close()
		files = append(files, clients.UploadFile{Name: header.Filename, Content: f})
	}

	result, err := h.uploads.Upload(r.Context(), files)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResp("UPSTREAM_ERROR", "Upload service unavailable", r))
		return
	}

	turn, err := h.engine.RecordUpload(r.Context(), middleware.GetConversationID(r.Context()), result)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL", "Failed to attach upload", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"upload":   result,
		"messages": turn.Messages,
	})
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}
