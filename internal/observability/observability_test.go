package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"finadvisor/backend/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_ExposesMetrics(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Config{ServiceName: "finadvisor-test"})
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	counter, err := p.Meter("test").Int64Counter("advice_requests")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	_, err = workflow.NewMetrics(p.Meter("workflow"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "advice_requests_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestSetup_Tracer(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Config{ServiceName: "finadvisor-test"})
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	_, span := p.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
