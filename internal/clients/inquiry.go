package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dreamhome-assistant/internal/models"
)

// ErrRecordNotFound is returned when the backend reports that the inquiry
// behind a transcript write no longer exists. Callers invalidate the held
// inquiry id on this error.
var ErrRecordNotFound = errors.New("inquiry record not found")

const recordNotFoundMarker = "Record to update not found"

// InquiryClient talks to the inquiry endpoints of the property backend:
// lead registration and transcript persistence.
type InquiryClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewInquiryClient(baseURL string) *InquiryClient {
	return &InquiryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// CreateLead registers the visitor's contact details and returns the
// inquiry record the backend created or found for them.
func (c *InquiryClient) CreateLead(ctx context.Context, lead models.Lead) (*models.LeadResult, error) {
	payload, err := json.Marshal(lead)
	if err != nil {
		return nil, fmt.Errorf("encoding lead: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/leads", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building lead request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lead response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("lead creation returned status %d: %s", resp.StatusCode, serverError(body))
	}

	var result models.LeadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding lead response: %w", err)
	}
	if result.Inquiry.ID == "" {
		return nil, fmt.Errorf("lead response missing inquiry id")
	}
	return &result, nil
}

type transcriptPatch struct {
	Transcript []models.Message `json:"transcript"`
}

// PatchTranscript replaces the stored transcript for an inquiry with the
// given sanitized snapshot. A context cancellation propagates unchanged
// so supersede and timeout stay distinguishable from real failures.
func (c *InquiryClient) PatchTranscript(ctx context.Context, inquiryID string, transcript []models.Message) error {
	payload, err := json.Marshal(transcriptPatch{Transcript: transcript})
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	endpoint := c.baseURL + "/api/inquiries/" + inquiryID
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building transcript request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to patch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	msg := serverError(body)
	if strings.Contains(msg, recordNotFoundMarker) {
		return ErrRecordNotFound
	}
	return fmt.Errorf("transcript patch returned status %d: %s", resp.StatusCode, msg)
}

func serverError(body []byte) string {
	var decoded errorBody
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(body))
}
