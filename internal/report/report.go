// Package report composes the final reply of an advisory run. Figures and
// section choice come from the analysis snapshot; the model only writes the
// opening summary, and any summary sentence quoting a figure that was not
// computed is dropped.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"math"
	"strings"
	"text/template"

	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/finmath"
	"finadvisor/backend/internal/grounding"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/internal/money"
	"finadvisor/backend/pkg/models"
)

//go:embed report.md.tmpl
var reportTemplate string

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"inr":     money.INR,
	"pct":     money.Percent,
	"compact": money.Compact,
	"upper":   strings.ToUpper,
	"join":    strings.Join,
	"inc":     func(i int) int { return i + 1 },
}).Parse(reportTemplate))

// Input is everything a report is built from.
type Input struct {
	Query        string
	Snapshot     analysis.Snapshot
	Completeness analysis.Completeness
	// Routed lists the agents the router selected, in order.
	Routed []models.AgentKind
	// Results holds one output per routed agent that was invoked. A routed
	// agent with no result is treated as unavailable.
	Results map[models.AgentKind]models.AgentOutput
}

// Report is the composed reply.
type Report struct {
	Text string `json:"text"`
	// Dropped lists summary sentences removed for quoting ungrounded figures.
	Dropped []string `json:"dropped,omitempty"`
	// Brief is set when the reply only confirms bookkeeping.
	Brief bool `json:"brief,omitempty"`
}

type section struct {
	Title string
	Body  string
}

type view struct {
	S                analysis.Snapshot
	Narrative        string
	EmergencyMonthly float64
	Actions          []string
	Sections         []section
	NotApplicable    []string
	Completeness     analysis.Completeness
}

// Composer renders reports.
type Composer struct {
	client llm.Client
	log    *logging.Logger
}

func NewComposer(client llm.Client, log *logging.Logger) *Composer {
	return &Composer{client: client, log: log}
}

// adviceKinds are the agents whose answers appear as report sections.
var adviceKinds = []models.AgentKind{
	models.AgentTaxITR,
	models.AgentInvestmentPlanning,
	models.AgentRetirementPension,
	models.AgentGovernmentSchemes,
	models.AgentAnalysis,
	models.AgentGeneralQA,
}

func bookkeeping(k models.AgentKind) bool {
	return k == models.AgentTransactionTracking || k == models.AgentGoalSetting
}

// Compose builds the reply. When every routed agent only records data the
// reply is their confirmations alone; otherwise it is the full report. A
// model failure while writing the summary falls back to a fixed summary.
func (c *Composer) Compose(ctx context.Context, in Input) (Report, error) {
	if len(in.Routed) > 0 && allBookkeeping(in.Routed) {
		return Report{Text: brief(in), Brief: true}, nil
	}

	v := view{
		S:             in.Snapshot,
		Completeness:  in.Completeness,
		Actions:       priorityActions(in.Snapshot),
		NotApplicable: []string{},
	}
	if in.Snapshot.EmergencyFund.Status == finmath.EmergencyInsufficient {
		v.EmergencyMonthly = math.Round(in.Snapshot.EmergencyFund.Gap / 12)
	}
	routed := map[models.AgentKind]bool{}
	for _, k := range in.Routed {
		routed[k] = true
		v.Sections = append(v.Sections, section{Title: k.Title(), Body: agentBody(k, in.Results)})
	}
	for _, k := range adviceKinds {
		if !routed[k] {
			v.NotApplicable = append(v.NotApplicable, k.Title())
		}
	}
	if len(in.Routed) == 0 {
		v.NotApplicable = nil
	}

	narrative, dropped := c.narrative(ctx, in)
	v.Narrative = narrative

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return Report{}, fmt.Errorf("failed to render report: %w", err)
	}
	return Report{Text: strings.TrimSpace(buf.String()), Dropped: dropped}, nil
}

func allBookkeeping(kinds []models.AgentKind) bool {
	for _, k := range kinds {
		if !bookkeeping(k) {
			return false
		}
	}
	return true
}

func brief(in Input) string {
	parts := make([]string, 0, len(in.Routed))
	for _, k := range in.Routed {
		parts = append(parts, agentBody(k, in.Results))
	}
	return strings.Join(parts, "\n\n")
}

// agentBody is the text shown for one routed agent.
func agentBody(k models.AgentKind, results map[models.AgentKind]models.AgentOutput) string {
	out, ok := results[k]
	switch {
	case !ok:
		return k.Title() + " unavailable right now. Please try again shortly."
	case out.Failed() && out.Clarification != "":
		return out.Clarification
	case out.Failed():
		return k.Title() + " unavailable right now. Please try again shortly."
	case strings.TrimSpace(out.Response) == "":
		return "No specific advice for this question."
	}
	return out.Response
}

const narrativeSystem = "You are a professional financial advisor writing for an Indian retail investor. Never compute or invent numbers."

func (c *Composer) narrative(ctx context.Context, in Input) (string, []string) {
	facts := factsSummary(in.Snapshot)
	prompt := fmt.Sprintf(`Write a 2-3 sentence executive summary of this user's financial health in reply to: %q

Quote numbers only from this list, exactly as written:
%s
Highlight the most urgent issue first.`, in.Query, facts)

	text, err := c.client.Complete(ctx, llm.Request{System: narrativeSystem, Prompt: prompt, Temperature: 0.4, MaxTokens: 300})
	if err != nil {
		c.log.Warn("summary generation failed, using fixed summary", "error", err)
		return fallbackSummary(in.Snapshot), nil
	}

	allowed := grounding.NewSet(in.Snapshot.Facts()...)
	allowed.AddText(in.Query)
	for _, out := range in.Results {
		for _, v := range out.Facts {
			if f, ok := v.(float64); ok {
				allowed.Add(f)
			}
		}
	}
	kept, dropped := grounding.Filter(text, allowed)
	if len(dropped) > 0 {
		c.log.Info("dropped ungrounded summary sentences", "count", len(dropped))
	}
	if kept == "" {
		return fallbackSummary(in.Snapshot), dropped
	}
	return kept, dropped
}

func factsSummary(s analysis.Snapshot) string {
	lines := []string{
		"monthly income " + money.INR(s.Income.Monthly),
		"monthly expenses " + money.INR(s.Expenses.Monthly),
		"monthly surplus " + money.INR(s.Savings.Monthly),
		"savings rate " + money.Percent(s.Savings.Rate),
		"emergency fund shortfall " + money.INR(s.EmergencyFund.Gap),
		"life cover gap " + money.INR(s.Insurance.Life.Gap),
		"health cover gap " + money.INR(s.Insurance.Health.Gap),
		"debt-to-income " + money.Percent(s.Debt.DebtToIncomeRatio),
		"recommended tax regime " + string(s.Tax.Recommended) + ", saving " + money.INR(s.Tax.Savings),
		"net worth " + money.INR(s.NetWorth.Net),
	}
	if r := s.Retirement; r != nil {
		lines = append(lines, "retirement monthly SIP "+money.INR(r.MonthlySIP))
	}
	return "- " + strings.Join(lines, "\n- ")
}

func fallbackSummary(s analysis.Snapshot) string {
	return fmt.Sprintf("You save %s of your income each month, which is %s. %s",
		money.Percent(s.Savings.Rate), s.Savings.Status, emergencyLine(s))
}

func emergencyLine(s analysis.Snapshot) string {
	if s.EmergencyFund.Status == finmath.EmergencyInsufficient {
		return "Building your emergency fund is the first priority."
	}
	return "Your emergency fund is in good shape."
}

// priorityActions lists the top five actions in fixed priority order.
func priorityActions(s analysis.Snapshot) []string {
	var a []string
	if s.EmergencyFund.Status == finmath.EmergencyInsufficient {
		a = append(a, "URGENT: build your emergency fund by saving "+money.INR(math.Round(s.EmergencyFund.Gap/12))+" a month.")
	} else {
		a = append(a, "Maintain your emergency fund.")
	}
	switch {
	case s.Debt.DebtToIncomeRatio > 40 && s.Debt.HighestInterestDebt != nil:
		a = append(a, "HIGH PRIORITY: reduce debt, starting with the "+s.Debt.HighestInterestDebt.Type+".")
	case s.Debt.TotalOutstanding > 0:
		a = append(a, "Continue debt repayment as planned.")
	default:
		a = append(a, "Start investing your surplus.")
	}
	if s.Tax.Savings > 5000 {
		a = append(a, fmt.Sprintf("SAVE TAX: file under the %s regime to save %s a year.", s.Tax.Recommended, money.INR(s.Tax.Savings)))
	} else {
		a = append(a, "Your tax regime choice makes little difference.")
	}
	if s.Insurance.Life.Gap > 100000 {
		a = append(a, "PROTECT: buy term life cover of "+money.Compact(s.Insurance.Life.Gap)+".")
	} else {
		a = append(a, "Life cover is adequate.")
	}
	if r := s.Retirement; r != nil && r.MonthlySIP > 0 {
		a = append(a, "INVEST: start a retirement SIP of "+money.INR(r.MonthlySIP)+" a month.")
	} else {
		a = append(a, "Review and optimise existing investments.")
	}
	return a
}

// Clarification is the reply sent when the completeness gate stops a run.
func Clarification(gate analysis.GateResult) string {
	var b strings.Builder
	b.WriteString("To give you accurate advice I need a few details first:\n")
	for i, q := range gate.ClarifyingQuestions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, q)
	}
	return b.String()
}
