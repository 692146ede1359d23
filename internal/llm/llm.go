// Package llm wraps the language models the pipeline calls for extraction,
// routing, agent synthesis and report prose. Model output is untrusted text;
// callers validate anything structured they pull out of it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"

	"finadvisor/backend/internal/apperr"
)

// Request is a single-turn completion.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks the backend for a JSON object where it supports that.
	JSON bool
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// transientStatus reports HTTP statuses worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// classify marks network failures and retryable statuses as transient.
func classify(err error, status int) error {
	if err == nil {
		return nil
	}
	if status != 0 && transientStatus(status) {
		return apperr.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(err)
	}
	return err
}

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	objectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// ExtractJSON recovers the JSON object in a model reply: the reply itself,
// the contents of a code fence, or the outermost {...} span embedded in prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return json.RawMessage(s), nil
	}
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		inner := strings.TrimSpace(m[1])
		if json.Valid([]byte(inner)) && strings.HasPrefix(inner, "{") {
			return json.RawMessage(inner), nil
		}
	}
	if m := objectPattern.FindString(s); m != "" && json.Valid([]byte(m)) {
		return json.RawMessage(m), nil
	}
	return nil, apperr.New(apperr.CodeExtractionParse, "no JSON object in model output")
}
