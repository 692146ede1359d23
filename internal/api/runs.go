package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/workflow"
	"finadvisor/backend/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// RunReader looks runs up by idempotency key.
type RunReader interface {
	GetRun(ctx context.Context, key string) (models.WorkflowRun, error)
}

// RunServer exposes run status and the live run event stream. It replaces
// client-side polling of the conversation for the reply.
type RunServer struct {
	runs      RunReader
	hub       *workflow.EventHub
	waitLimit time.Duration
	upgrader  websocket.Upgrader
	log       Logger
}

// NewRunServer creates a RunServer. waitLimit caps ?wait=.
func NewRunServer(runs RunReader, hub *workflow.EventHub, waitLimit time.Duration, log Logger) *RunServer {
	return &RunServer{
		runs:      runs,
		hub:       hub,
		waitLimit: waitLimit,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:       log,
	}
}

// StepSummary is a step record without its payload.
type StepSummary struct {
	Name     string            `json:"name"`
	Status   models.StepStatus `json:"status"`
	Attempts int               `json:"attempts"`
	Error    string            `json:"error,omitempty"`
}

// RunStatusResponse is the body of GET /api/v1/runs/:messageId.
type RunStatusResponse struct {
	MessageID string           `json:"messageId"`
	Status    models.RunStatus `json:"status"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Steps     []StepSummary    `json:"steps"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func runKey(messageID string) string {
	return models.ChatEvent{Type: models.EventChatMessageReceived, MessageID: messageID}.IdempotencyKey()
}

// lookup hides other users' runs behind not-found.
func (s *RunServer) lookup(ctx context.Context, key, userID string) (models.WorkflowRun, error) {
	run, err := s.runs.GetRun(ctx, key)
	if err != nil {
		return models.WorkflowRun{}, err
	}
	if run.UserID != userID {
		return models.WorkflowRun{}, apperr.NotFound("run %s", key)
	}
	return run, nil
}

func (s *RunServer) parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, apperr.New(apperr.CodeValidation, "wait must be a non-negative duration such as 30s")
	}
	if s.waitLimit > 0 && d > s.waitLimit {
		d = s.waitLimit
	}
	return d, nil
}

// GetRun reports the run started by a chat message. With ?wait= it holds
// the request until the run reaches a terminal status or the wait elapses.
// A failed run is reported as a 500 problem document.
// (GET /api/v1/runs/:messageId)
func (s *RunServer) GetRun(c echo.Context) error {
	id, err := caller(c, "")
	if err != nil {
		return err
	}
	wait, err := s.parseWait(c.QueryParam("wait"))
	if err != nil {
		return err
	}
	messageID := c.Param("messageId")
	key := runKey(messageID)
	ctx := c.Request().Context()

	var events <-chan workflow.RunEvent
	if wait > 0 && s.hub != nil {
		ch, cancel := s.hub.Subscribe(key)
		defer cancel()
		events = ch
	}

	run, err := s.lookup(ctx, key, id.UserID)
	if wait > 0 && (apperr.IsNotFound(err) || (err == nil && !run.Status.Terminal())) {
		run, err = s.await(ctx, key, id.UserID, events, wait)
	}
	if err != nil {
		return err
	}

	if run.Status == models.RunFailed {
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		return c.JSON(http.StatusInternalServerError, ProblemDetails{
			Type:     "about:blank",
			Title:    "Run Failed",
			Status:   http.StatusInternalServerError,
			Detail:   run.Error,
			Instance: c.Request().URL.Path,
			Code:     string(apperr.CodeRequiredStep),
		})
	}

	resp := RunStatusResponse{
		MessageID: messageID,
		Status:    run.Status,
		Result:    run.Output,
		Steps:     make([]StepSummary, 0, len(run.Steps)),
		UpdatedAt: run.UpdatedAt,
	}
	for _, st := range run.Steps {
		resp.Steps = append(resp.Steps, StepSummary{Name: st.Name, Status: st.Status, Attempts: st.Attempts, Error: st.Error})
	}
	code := http.StatusOK
	if !run.Status.Terminal() {
		code = http.StatusAccepted
	}
	return c.JSON(code, resp)
}

// await re-reads the run on each terminal event until its stored status is
// terminal too, the wait elapses or the client goes away. Replayed events
// from an earlier delivery can be terminal while the run has resumed.
func (s *RunServer) await(ctx context.Context, key, userID string, events <-chan workflow.RunEvent, wait time.Duration) (models.WorkflowRun, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !evt.Terminal() {
				continue
			}
			run, err := s.lookup(ctx, key, userID)
			if err == nil && run.Status.Terminal() {
				return run, nil
			}
		case <-timer.C:
			return s.lookup(ctx, key, userID)
		case <-ctx.Done():
			return models.WorkflowRun{}, ctx.Err()
		}
	}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// RunEvents upgrades to a websocket and streams the run's events as JSON
// until the run reaches a terminal status or the client disconnects.
// (GET /api/v1/runs/:messageId/events)
func (s *RunServer) RunEvents(c echo.Context) error {
	id, err := caller(c, "")
	if err != nil {
		return err
	}
	if s.hub == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run events are not enabled")
	}
	key := runKey(c.Param("messageId"))
	ctx := c.Request().Context()

	// The run may not exist yet; ownership is then checked on its first event.
	verified := false
	switch run, err := s.runs.GetRun(ctx, key); {
	case err == nil && run.UserID != id.UserID:
		return apperr.NotFound("run %s", key)
	case err == nil:
		verified = true
	case !apperr.IsNotFound(err):
		return err
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}
	defer ws.Close()

	events, cancel := s.hub.Subscribe(key)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if !verified {
				if _, err := s.lookup(ctx, key, id.UserID); err != nil {
					s.closeWith(ws, websocket.ClosePolicyViolation, "not found")
					return nil
				}
				verified = true
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(evt); err != nil {
				return nil
			}
			if evt.Terminal() {
				if run, err := s.runs.GetRun(ctx, key); err == nil && run.Status.Terminal() {
					s.closeWith(ws, websocket.CloseNormalClosure, string(run.Status))
					return nil
				}
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *RunServer) closeWith(ws *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		s.log.Warn("failed to close run event stream", "error", err)
	}
}
