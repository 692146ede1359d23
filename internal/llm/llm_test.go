package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finadvisor/backend/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare object", input: ` {"age": 30} `, want: `{"age": 30}`},
		{name: "fenced", input: "Sure!\n```json\n{\"age\": 30}\n```\nDone.", want: `{"age": 30}`},
		{name: "embedded in prose", input: `Here you go: {"monthlyBurnRate": 40000, "x": {"y": 1}} hope that helps`, want: `{"monthlyBurnRate": 40000, "x": {"y": 1}}`},
		{name: "no json", input: "I could not find any numbers.", wantErr: true},
		{name: "broken json", input: `{"age": }`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Equal(t, apperr.CodeExtractionParse, apperr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestOllama_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Role: "assistant", Content: `{"ok":true}`}, Done: true})
	}))
	defer server.Close()

	client := NewOllama(server.URL, "llama3.1:8b", 4096, 0)
	out, err := client.Complete(context.Background(), Request{System: "extract", Prompt: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestOllama_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewOllama(server.URL, "m", 0, 0).Complete(context.Background(), Request{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, apperr.IsTransient(err))
		})
	}
}

func TestAnthropic_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Hello "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}}`))
	}))
	defer server.Close()

	client := NewAnthropic(AnthropicConfig{APIKey: "test", BaseURL: server.URL, Model: "claude-test"})
	out, err := client.Complete(context.Background(), Request{System: "be brief", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)
}

func TestAnthropic_OverloadedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	client := NewAnthropic(AnthropicConfig{APIKey: "test", BaseURL: server.URL, Model: "claude-test"})
	_, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestFunc(t *testing.T) {
	var c Client = Func(func(ctx context.Context, req Request) (string, error) { return req.Prompt + "!", nil })
	out, err := c.Complete(context.Background(), Request{Prompt: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok!", out)
}
