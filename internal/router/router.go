// Package router classifies a chat message into the sub-agents that should
// handle it. The classifier is a language model; its answer is reduced to
// the closed AgentKind set before anything downstream sees it.
package router

import (
	"context"
	"fmt"
	"math"
	"strings"

	"finadvisor/backend/internal/llm"
	"finadvisor/backend/pkg/models"
)

// Decision is the validated routing outcome. An empty Agents slice means
// "answer generally".
type Decision struct {
	Intent     string             `json:"intent"`
	Agents     []models.AgentKind `json:"agents"`
	Confidence float64            `json:"confidence"`
	Rejected   []string           `json:"rejected,omitempty"`
}

// Has reports whether k was selected.
func (d Decision) Has(k models.AgentKind) bool {
	for _, a := range d.Agents {
		if a == k {
			return true
		}
	}
	return false
}

// Context is what the classifier may know about the user besides the text.
type Context struct {
	HasProfile      bool
	EmploymentType  models.EmploymentType
	RecentAgents    []models.AgentKind
	CompletenessPct int
}

// Router asks the model for a decision.
type Router struct {
	client llm.Client
}

func New(client llm.Client) *Router {
	return &Router{client: client}
}

// The schema is deliberately loose on agent names: unknown names are
// dropped during normalization rather than failing the whole decision.
var schema = llm.MustCompileSchema("route.json", `{
  "type": "object",
  "properties": {
    "intent": {"type": ["string", "null"]},
    "agents": {"type": ["array", "null"], "items": {"type": "string"}},
    "confidence": {"type": ["number", "null"]}
  }
}`)

type rawDecision struct {
	Intent     *string  `json:"intent"`
	Agents     []string `json:"agents"`
	Confidence *float64 `json:"confidence"`
}

const systemPrompt = "You route personal-finance questions to specialist agents. Return only JSON."

func buildPrompt(message string, rc Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this financial message and determine which specialized agents should handle it: %q\n\n", message)
	b.WriteString("Available agents:\n")
	b.WriteString("- tax_itr: Tax planning, ITR filing, regime comparison, deductions\n")
	b.WriteString("- investment_planning: Mutual funds, stocks, asset allocation, SIPs\n")
	b.WriteString("- retirement_pension: NPS, retirement corpus, pension planning\n")
	b.WriteString("- government_schemes: PPF, SSY, PMJJBY, subsidies, schemes\n")
	b.WriteString("- transaction_tracking: Logging an income, expense or saving, or asking for the current balance\n")
	b.WriteString("- goal_setting: Setting a savings goal with a target amount and time frame\n")
	b.WriteString("- analysis: Spending insights, savings rate, overall financial health\n")
	b.WriteString("- general_qa: General financial advice, education\n\n")
	b.WriteString("A message that only records a transaction must route to transaction_tracking alone.\n")
	if rc.HasProfile {
		fmt.Fprintf(&b, "User context: employment=%s, profile %d%% complete", rc.EmploymentType, rc.CompletenessPct)
		if len(rc.RecentAgents) > 0 {
			fmt.Fprintf(&b, ", recently used agents=%v", rc.RecentAgents)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReturn JSON:\n{\"intent\": \"brief description\", \"agents\": [\"agent names\"], \"confidence\": 0.0-1.0}")
	return b.String()
}

// Route classifies message. Model errors are returned as-is so the calling
// step can retry or degrade; malformed output is a validation error.
func (r *Router) Route(ctx context.Context, message string, rc Context) (Decision, error) {
	var raw rawDecision
	err := llm.CompleteJSON(ctx, r.client, llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(message, rc),
		Temperature: 0,
	}, schema, &raw)
	if err != nil {
		return Decision{}, err
	}
	return Normalize(raw.Intent, raw.Agents, raw.Confidence), nil
}

// Normalize reduces raw classifier output to a valid Decision: unknown
// agents are dropped and reported in Rejected, duplicates removed keeping
// first occurrence, and confidence clamped to [0, 1] (missing or NaN is 0).
func Normalize(intent *string, agents []string, confidence *float64) Decision {
	d := Decision{Agents: []models.AgentKind{}}
	if intent != nil {
		d.Intent = strings.TrimSpace(*intent)
	}
	seen := map[models.AgentKind]bool{}
	for _, a := range agents {
		k, ok := models.ParseAgentKind(strings.ToLower(strings.TrimSpace(a)))
		if !ok {
			d.Rejected = append(d.Rejected, a)
			continue
		}
		if !seen[k] {
			seen[k] = true
			d.Agents = append(d.Agents, k)
		}
	}
	if confidence != nil && !math.IsNaN(*confidence) {
		d.Confidence = math.Min(1, math.Max(0, *confidence))
	}
	return d
}
