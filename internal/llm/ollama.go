package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama is a Client for a local Ollama server.
type Ollama struct {
	baseURL       string
	model         string
	contextLength int
	httpClient    *http.Client
}

// NewOllama creates an Ollama client.
func NewOllama(baseURL, model string, contextLength int, timeout time.Duration) *Ollama {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Ollama{
		baseURL:       baseURL,
		model:         model,
		contextLength: contextLength,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (c *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	var msgs []ollamaMessage
	if req.System != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollamaMessage{Role: "user", Content: req.Prompt})
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: msgs,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if c.contextLength > 0 {
		payload.Options["num_ctx"] = c.contextLength
	}
	if req.MaxTokens > 0 {
		payload.Options["num_predict"] = req.MaxTokens
	}
	if req.JSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(fmt.Errorf("failed to send request: %w", err), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classify(fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(b)), resp.StatusCode)
	}
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return out.Message.Content, nil
}

// Available checks if the server is reachable.
func (c *Ollama) Available(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}
