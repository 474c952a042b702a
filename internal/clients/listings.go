package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dreamhome-assistant/internal/models"
)

// ListingsClient queries the public listings search endpoint of the
// property backend. The backend owns filtering and ordering; the
// assistant only forwards accumulated filters.
type ListingsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewListingsClient(baseURL string) *ListingsClient {
	return &ListingsClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type listingsResponse struct {
	Listings []models.Listing `json:"listings"`
}

// Search returns listings matching the query, in backend order. A body
// that fails to decode is logged and treated as an empty result set so
// the conversation flow stays navigable.
func (c *ListingsClient) Search(ctx context.Context, q models.ListingQuery) ([]models.Listing, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.City != "" {
		params.Set("city", q.City)
	}
	if q.MaxPrice != nil {
		params.Set("maxPrice", strconv.Itoa(*q.MaxPrice))
	}
	if q.Bedrooms != nil {
		params.Set("bedrooms", strconv.Itoa(*q.Bedrooms))
	}
	if q.Featured {
		params.Set("featured", "true")
	}

	endpoint := c.baseURL + "/api/public-listings"
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building listings request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listings search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read listings response: %w", err)
	}

	var decoded listingsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		log.Printf("listings response did not decode, treating as empty: %v", err)
		return nil, nil
	}
	return decoded.Listings, nil
}
