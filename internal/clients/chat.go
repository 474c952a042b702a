package clients

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dreamhome-assistant/internal/models"
)

// ChatClient consumes the chat-completion service. Completions stream as
// one JSON-encoded content part per line; metadata is a plain GET.
type ChatClient struct {
	baseURL    string
	httpClient *http.Client
	metaClient *http.Client
}

func NewChatClient(baseURL string) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		// Streaming responses can legitimately stay open far longer than a
		// metadata call; the request context bounds them instead.
		httpClient: &http.Client{},
		metaClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ChatRequest carries the prior conversation plus whatever profile fields
// the visitor has volunteered so far.
type ChatRequest struct {
	Messages  []models.Message  `json:"messages"`
	SessionID string            `json:"sessionId"`
	Profile   map[string]string `json:"profile,omitempty"`
}

// Meta reports which provider and model back the completion service.
func (c *ChatClient) Meta(ctx context.Context) (*models.ProviderInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/chat", nil)
	if err != nil {
		return nil, fmt.Errorf("building chat meta request: %w", err)
	}

	resp, err := c.metaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat metadata returned status %d", resp.StatusCode)
	}

	var info models.ProviderInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding chat metadata: %w", err)
	}
	return &info, nil
}

// Stream posts the conversation and invokes onPart for every content part
// the service emits, in arrival order. Lines that fail to decode are
// skipped rather than aborting an otherwise healthy stream.
func (c *ChatClient) Stream(ctx context.Context, chatReq ChatRequest, onPart func(models.ContentPart) error) error {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to start chat stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var part models.ContentPart
		if err := json.Unmarshal(line, &part); err != nil {
			continue
		}
		if err := onPart(part); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading chat stream: %w", err)
	}
	return nil
}
