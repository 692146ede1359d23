// Package pipeline is the advisory workflow: one run per chat message,
// built from memoized steps so a redelivered message resumes where the last
// delivery stopped.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"finadvisor/backend/internal/agents"
	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/extraction"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/internal/report"
	"finadvisor/backend/internal/repository"
	"finadvisor/backend/internal/router"
	"finadvisor/backend/internal/workflow"
	"finadvisor/backend/pkg/models"
)

// Step names. They are part of the persisted run record; renaming one
// makes in-flight runs re-execute it.
const (
	StepLoadContext        = "load-context"
	StepExtractData        = "extract-data"
	StepApplyPatch         = "apply-profile-patch"
	StepCheckCompleteness  = "check-completeness"
	StepStoreClarification = "store-clarification"
	StepAnalyze            = "analyze-finances"
	StepPersistVolatility  = "persist-volatility"
	StepRouteIntent        = "route-intent"
	StepComposeReport      = "compose-report"
	StepStoreResponse      = "store-response"
)

// InvokeStep is the step name of an agent invocation.
func InvokeStep(k models.AgentKind) string { return "invoke-" + string(k) }

// ResponseMessageID is the id of the assistant reply to messageID.
func ResponseMessageID(messageID string) string { return messageID + "-response" }

const recentAgentMessages = 5

// Config tunes the advisor.
type Config struct {
	// TransactionWindow is how far back transactions feed the analysis.
	TransactionWindow time.Duration `mapstructure:"transaction_window"`
	// FallbackAgent answers when routing fails or selects nothing.
	FallbackAgent models.AgentKind `mapstructure:"fallback_agent"`
}

func DefaultConfig() Config {
	return Config{TransactionWindow: 180 * 24 * time.Hour, FallbackAgent: models.AgentGeneralQA}
}

// Advisor runs the advisory workflow for chat events.
type Advisor struct {
	store     repository.Store
	engine    *workflow.Engine
	extractor *extraction.Extractor
	router    *router.Router
	agents    *agents.Registry
	analysis  *analysis.Engine
	composer  *report.Composer
	log       *logging.Logger
	cfg       Config
	now       func() time.Time
}

// Deps are the advisor's collaborators.
type Deps struct {
	Store     repository.Store
	Engine    *workflow.Engine
	Extractor *extraction.Extractor
	Router    *router.Router
	Agents    *agents.Registry
	Analysis  *analysis.Engine
	Composer  *report.Composer
	Logger    *logging.Logger
}

func NewAdvisor(d Deps, cfg Config) *Advisor {
	if cfg.TransactionWindow <= 0 {
		cfg.TransactionWindow = DefaultConfig().TransactionWindow
	}
	if cfg.FallbackAgent == "" {
		cfg.FallbackAgent = models.AgentGeneralQA
	}
	if d.Analysis == nil {
		d.Analysis = analysis.NewEngine()
	}
	return &Advisor{
		store:     d.Store,
		engine:    d.Engine,
		extractor: d.Extractor,
		router:    d.Router,
		agents:    d.Agents,
		analysis:  d.Analysis,
		composer:  d.Composer,
		log:       d.Logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Result is the output recorded on a finished run.
type Result struct {
	ChatID            string             `json:"chatId"`
	ResponseMessageID string             `json:"responseMessageId"`
	Reply             string             `json:"reply"`
	Agents            []models.AgentKind `json:"agents"`
	AwaitingInput     bool               `json:"awaitingInput,omitempty"`
	Missing           []analysis.Field   `json:"missingFields,omitempty"`
}

// RunContext is the memoized result of the load-context step.
type RunContext struct {
	User         models.User          `json:"user"`
	Transactions []models.Transaction `json:"transactions"`
	RecentAgents []models.AgentKind   `json:"recentAgents,omitempty"`
}

// Handle runs or resumes the workflow for evt.
func (a *Advisor) Handle(ctx context.Context, evt models.ChatEvent) (models.WorkflowRun, error) {
	if evt.Type == "" {
		evt.Type = models.EventChatMessageReceived
	}
	if evt.UserID == "" || evt.MessageID == "" || evt.ChatID == "" {
		return models.WorkflowRun{}, apperr.New(apperr.CodeValidation, "chat event needs userId, chatId and messageId")
	}
	return a.engine.Execute(ctx, workflow.Trigger{
		Key:       evt.IdempotencyKey(),
		EventType: evt.Type,
		UserID:    evt.UserID,
		Input:     evt,
	}, func(ctx context.Context, run *workflow.Run) (any, error) {
		return a.run(ctx, run, evt)
	})
}

func (a *Advisor) run(ctx context.Context, run *workflow.Run, evt models.ChatEvent) (Result, error) {
	log := a.log.With("run_key", run.Key(), "user_id", evt.UserID)

	rc, err := workflow.Step(ctx, run, StepLoadContext, func(ctx context.Context) (RunContext, error) {
		return a.loadContext(ctx, evt)
	})
	if err != nil {
		return Result{}, err
	}

	extracted, err := workflow.Step(ctx, run, StepExtractData, func(ctx context.Context) (extraction.Result, error) {
		return a.extractor.Extract(ctx, evt.Text)
	}, workflow.Optional())
	if err != nil {
		log.Warn("extraction unavailable, continuing without it", "error", err)
	}

	user := rc.User
	if patch := extracted.Patch(); !patch.Empty() {
		user, err = workflow.Step(ctx, run, StepApplyPatch, func(ctx context.Context) (models.User, error) {
			if err := a.store.ApplyProfilePatch(ctx, evt.UserID, patch); err != nil {
				return models.User{}, err
			}
			return a.store.GetUser(ctx, evt.UserID)
		})
		if err != nil {
			return Result{}, err
		}
	}

	gate, err := workflow.Step(ctx, run, StepCheckCompleteness, func(ctx context.Context) (analysis.GateResult, error) {
		return analysis.Evaluate(user), nil
	})
	if err != nil {
		return Result{}, err
	}
	if gate.HasCriticalGaps {
		return a.awaitInput(ctx, run, evt, gate)
	}

	snap, err := workflow.Step(ctx, run, StepAnalyze, func(ctx context.Context) (analysis.Snapshot, error) {
		return a.analysis.Analyze(user, rc.Transactions), nil
	})
	if err != nil {
		return Result{}, err
	}

	if snap.Availability.Volatility {
		score := snap.Income.Volatility.Score
		if _, err := workflow.Step(ctx, run, StepPersistVolatility, func(ctx context.Context) (float64, error) {
			return score, a.store.SetVolatilityScore(ctx, evt.UserID, score)
		}, workflow.Optional()); err != nil {
			log.Warn("volatility score not persisted", "error", err)
		}
	}

	completeness := analysis.ProfileCompleteness(user)
	decision, err := workflow.Step(ctx, run, StepRouteIntent, func(ctx context.Context) (router.Decision, error) {
		return a.router.Route(ctx, evt.Text, router.Context{
			HasProfile:      user.Profile.EmploymentType != "",
			EmploymentType:  user.Profile.EmploymentType,
			RecentAgents:    rc.RecentAgents,
			CompletenessPct: completeness.Score,
		})
	}, workflow.Optional())
	if err != nil {
		log.Warn("routing failed, using fallback agent", "error", err, "fallback", a.cfg.FallbackAgent)
	}
	routed := decision.Agents
	if len(routed) == 0 {
		routed = []models.AgentKind{a.cfg.FallbackAgent}
	}
	if len(decision.Rejected) > 0 {
		log.Info("router proposed unknown agents", "rejected", decision.Rejected)
	}

	results := a.invokeAgents(ctx, run, evt, user, snap, routed)

	rep, err := workflow.Step(ctx, run, StepComposeReport, func(ctx context.Context) (report.Report, error) {
		return a.composer.Compose(ctx, report.Input{
			Query:        evt.Text,
			Snapshot:     snap,
			Completeness: completeness,
			Routed:       routed,
			Results:      results,
		})
	})
	if err != nil {
		return Result{}, err
	}

	responseID := ResponseMessageID(evt.MessageID)
	if _, err := workflow.Step(ctx, run, StepStoreResponse, func(ctx context.Context) (string, error) {
		return responseID, a.store.AppendMessage(ctx, evt.UserID, evt.ChatID, models.Message{
			MessageID:      responseID,
			Sender:         models.SenderAssistant,
			Text:           rep.Text,
			AgentsInvolved: answered(routed, results),
			Timestamp:      a.now().UTC(),
		})
	}); err != nil {
		return Result{}, err
	}

	return Result{ChatID: evt.ChatID, ResponseMessageID: responseID, Reply: rep.Text, Agents: routed}, nil
}

func (a *Advisor) loadContext(ctx context.Context, evt models.ChatEvent) (RunContext, error) {
	user, err := a.store.GetUser(ctx, evt.UserID)
	if err != nil {
		return RunContext{}, fmt.Errorf("failed to load user: %w", err)
	}
	txns, err := a.store.ListTransactions(ctx, evt.UserID, a.now().Add(-a.cfg.TransactionWindow))
	if err != nil {
		return RunContext{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	rc := RunContext{User: user, Transactions: txns}

	conv, err := a.store.GetConversation(ctx, evt.UserID, evt.ChatID)
	switch {
	case apperr.IsNotFound(err):
	case err != nil:
		return RunContext{}, fmt.Errorf("failed to load conversation: %w", err)
	default:
		rc.RecentAgents = recentAgents(conv.Messages)
	}
	return rc, nil
}

// recentAgents collects the distinct agents of the last few assistant
// replies, newest first.
func recentAgents(msgs []models.Message) []models.AgentKind {
	var out []models.AgentKind
	seen := map[models.AgentKind]bool{}
	n := 0
	for i := len(msgs) - 1; i >= 0 && n < recentAgentMessages; i-- {
		if msgs[i].Sender != models.SenderAssistant {
			continue
		}
		n++
		for _, k := range msgs[i].AgentsInvolved {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func (a *Advisor) awaitInput(ctx context.Context, run *workflow.Run, evt models.ChatEvent, gate analysis.GateResult) (Result, error) {
	text := report.Clarification(gate)
	responseID := ResponseMessageID(evt.MessageID)
	if _, err := workflow.Step(ctx, run, StepStoreClarification, func(ctx context.Context) (string, error) {
		return responseID, a.store.AppendMessage(ctx, evt.UserID, evt.ChatID, models.Message{
			MessageID: responseID,
			Sender:    models.SenderAssistant,
			Text:      text,
			Timestamp: a.now().UTC(),
		})
	}); err != nil {
		return Result{}, err
	}
	run.AwaitInput()
	return Result{
		ChatID:            evt.ChatID,
		ResponseMessageID: responseID,
		Reply:             text,
		Agents:            []models.AgentKind{},
		AwaitingInput:     true,
		Missing:           gate.MissingFields,
	}, nil
}

// invokeAgents runs the routed agents concurrently. Failed or unknown
// agents are simply absent from the result map.
func (a *Advisor) invokeAgents(ctx context.Context, run *workflow.Run, evt models.ChatEvent, user models.User, snap analysis.Snapshot, routed []models.AgentKind) map[models.AgentKind]models.AgentOutput {
	input, err := agents.AttachSnapshot(models.AgentInput{UserID: evt.UserID, RunKey: run.Key(), Message: evt.Text, Profile: user}, snap)
	if err != nil {
		a.log.Warn("agents will analyze the profile alone", "error", err)
	}

	var (
		calls []workflow.Invocation[models.AgentInput, models.AgentOutput]
		kinds []models.AgentKind
	)
	for _, k := range routed {
		agent, ok := a.agents.Get(k)
		if !ok {
			a.log.Warn("no agent registered", "agent", k)
			continue
		}
		calls = append(calls, workflow.Invocation[models.AgentInput, models.AgentOutput]{
			Name:   InvokeStep(k),
			Target: agent.Handle,
			Input:  input,
		})
		kinds = append(kinds, k)
	}

	results := make(map[models.AgentKind]models.AgentOutput, len(calls))
	// Invocations are optional, so InvokeAll only errors on cancellation,
	// which the next step observes.
	outs, _ := workflow.InvokeAll(ctx, run, calls)
	for i, r := range outs {
		k := kinds[i]
		if r.Err != nil {
			a.log.Warn("agent failed", "agent", k, "error", r.Err)
			continue
		}
		if r.Output.Agent == "" {
			r.Output.Agent = k
		}
		results[k] = r.Output
	}
	return results
}

// answered lists the routed agents that produced a result, in routing order.
func answered(routed []models.AgentKind, results map[models.AgentKind]models.AgentOutput) []models.AgentKind {
	out := make([]models.AgentKind, 0, len(results))
	for _, k := range routed {
		if _, ok := results[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
