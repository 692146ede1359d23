package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"finadvisor/backend/internal/apperr"
)

// HTTPSource queries an external vector-search service:
// POST {url}/search {"domain","query","topK"} -> {"matches":[...]}.
type HTTPSource struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSource creates a client for the search service at url.
func NewHTTPSource(url, apiKey string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{url: url, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

type searchRequest struct {
	Domain string `json:"domain"`
	Query  string `json:"query"`
	TopK   int    `json:"topK"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

// Search posts the query and decodes the matches.
func (s *HTTPSource) Search(ctx context.Context, domain, query string, topK int) ([]Match, error) {
	requestBody, err := json.Marshal(searchRequest{Domain: domain, Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/search", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("failed to search %s: status code %d", domain, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, apperr.Transient(err)
		}
		return nil, err
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return out.Matches, nil
}
