package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/internal/money"
	"finadvisor/backend/pkg/models"

	"github.com/google/uuid"
)

// GoalStore is the slice of the store the goal agent writes to.
type GoalStore interface {
	AddGoal(ctx context.Context, userID string, goal models.Goal) error
}

var goalNamespace = uuid.MustParse("2b8f4d1a-93c6-4e0f-b1d7-0c5a6e9f3b12")

var goalSchema = llm.MustCompileSchema("goal.json", `{
  "type": "object",
  "properties": {
    "name": {"type": ["string", "null"]},
    "targetAmount": {"type": ["number", "null"], "minimum": 0},
    "timeHorizonMonths": {"type": ["integer", "null"], "minimum": 0},
    "priority": {"enum": ["high", "medium", "low", null]}
  }
}`)

type parsedGoal struct {
	Name              *string  `json:"name"`
	TargetAmount      *float64 `json:"targetAmount"`
	TimeHorizonMonths *int     `json:"timeHorizonMonths"`
	Priority          *string  `json:"priority"`
}

func (p parsedGoal) missing() []string {
	var m []string
	if p.Name == nil || strings.TrimSpace(*p.Name) == "" {
		m = append(m, "goal name")
	}
	if p.TargetAmount == nil || *p.TargetAmount <= 0 {
		m = append(m, "target amount")
	}
	if p.TimeHorizonMonths == nil || *p.TimeHorizonMonths <= 0 {
		m = append(m, "time frame")
	}
	return m
}

// GoalAgent turns "save 5 lakh for a car in 3 years" into a stored goal
// with the monthly saving it needs.
type GoalAgent struct {
	client llm.Client
	store  GoalStore
	now    func() time.Time
}

func NewGoalAgent(client llm.Client, store GoalStore) *GoalAgent {
	return &GoalAgent{client: client, store: store, now: time.Now}
}

func (a *GoalAgent) Kind() models.AgentKind { return models.AgentGoalSetting }

func (a *GoalAgent) Handle(ctx context.Context, in models.AgentInput) (models.AgentOutput, error) {
	prompt := fmt.Sprintf(`Extract a savings goal from this message: %q

Return JSON: {"name": "string", "targetAmount": number in rupees, "timeHorizonMonths": integer, "priority": "high|medium|low"}
Use null for anything the user did not state. Convert years to months and lakh/crore to rupees.`, in.Message)

	var p parsedGoal
	err := llm.CompleteJSON(ctx, a.client, llm.Request{
		System:      "You extract savings goals. Return only JSON.",
		Prompt:      prompt,
		Temperature: 0,
	}, goalSchema, &p)
	if err != nil {
		if c := apperr.CodeOf(err); c == apperr.CodeValidation || c == apperr.CodeExtractionParse {
			return models.AgentOutput{
				Agent:         a.Kind(),
				Error:         "Could not parse goal",
				Clarification: "Please tell me what you are saving for, how much you need, and by when.",
			}, nil
		}
		return models.AgentOutput{}, err
	}
	if missing := p.missing(); len(missing) > 0 {
		return models.AgentOutput{
			Agent:         a.Kind(),
			Error:         "Incomplete goal",
			Clarification: "To set this goal I still need the " + strings.Join(missing, ", ") + ".",
		}, nil
	}

	priority := "medium"
	if p.Priority != nil {
		priority = *p.Priority
	}
	name := strings.TrimSpace(*p.Name)
	months := *p.TimeHorizonMonths
	goal := models.Goal{
		GoalID:            uuid.NewSHA1(goalNamespace, []byte(in.RunKey+":"+strings.ToLower(name))).String(),
		Name:              name,
		TargetAmount:      *p.TargetAmount,
		TimeHorizonMonths: months,
		Priority:          priority,
		MonthlyRequired:   math.Ceil(*p.TargetAmount / float64(months)),
		CreatedAt:         a.now().UTC(),
	}
	if err := a.store.AddGoal(ctx, in.UserID, goal); err != nil {
		return models.AgentOutput{}, fmt.Errorf("failed to add goal: %w", err)
	}

	return models.AgentOutput{
		Agent: a.Kind(),
		Response: fmt.Sprintf("Goal set: %s, %s in %d months (%s priority). Save %s a month to get there.",
			goal.Name, money.INR(goal.TargetAmount), months, priority, money.INR(goal.MonthlyRequired)),
		Goal: &goal,
		Facts: map[string]any{
			"targetAmount":    goal.TargetAmount,
			"months":          float64(months),
			"monthlyRequired": goal.MonthlyRequired,
		},
	}, nil
}
