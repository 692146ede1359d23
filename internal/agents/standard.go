package agents

import (
	"encoding/json"
	"fmt"

	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/knowledge"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/pkg/models"
)

// Store is what the bookkeeping agents persist through.
type Store interface {
	Ledger
	GoalStore
}

// Deps are the collaborators of the standard agent set.
type Deps struct {
	LLM       llm.Client
	Knowledge knowledge.Source
	Store     Store
	Engine    *analysis.Engine
	TopK      int
}

// AttachSnapshot records the run's analysis on in.
func AttachSnapshot(in models.AgentInput, snap analysis.Snapshot) (models.AgentInput, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return in, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	in.Snapshot = raw
	return in, nil
}

// snapshotOf returns the attached analysis, or analyzes the profile alone
// when the caller attached none.
func snapshotOf(e *analysis.Engine, in models.AgentInput) analysis.Snapshot {
	if len(in.Snapshot) > 0 {
		var snap analysis.Snapshot
		if err := json.Unmarshal(in.Snapshot, &snap); err == nil {
			return snap
		}
	}
	return e.Analyze(in.Profile, nil)
}

// Standard builds one agent per AgentKind.
func Standard(d Deps) *Registry {
	if d.Engine == nil {
		d.Engine = analysis.NewEngine()
	}
	topK := d.TopK
	if topK <= 0 {
		topK = 5
	}
	e := d.Engine
	ka := func(kind models.AgentKind, domain, instructions string, facts FactsFunc) Agent {
		return NewKnowledgeAgent(kind, domain, instructions, d.Knowledge, d.LLM, WithTopK(topK), WithFacts(facts))
	}

	return NewRegistry(
		ka(models.AgentTaxITR, knowledge.DomainTax,
			"Explain which income-tax regime suits the user and which deductions matter. Use the computed regime comparison for every tax amount.",
			func(in models.AgentInput) map[string]any {
				t := snapshotOf(e, in).Tax
				return map[string]any{
					"annualIncome":      t.New.GrossIncome,
					"oldRegimeTax":      t.Old.TotalTax,
					"newRegimeTax":      t.New.TotalTax,
					"oldTaxableIncome":  t.Old.TaxableIncome,
					"newTaxableIncome":  t.New.TaxableIncome,
					"regimeSavings":     t.Savings,
					"recommendedRegime": string(t.Recommended),
				}
			}),
		ka(models.AgentInvestmentPlanning, knowledge.DomainInvestment,
			"Suggest an asset allocation and suitable products for the user's surplus and horizon.",
			func(in models.AgentInput) map[string]any {
				s := snapshotOf(e, in)
				return map[string]any{
					"monthlySurplus": s.Savings.Monthly,
					"savingsRate":    s.Savings.Rate,
					"netWorth":       s.NetWorth.Net,
					"investments":    in.Profile.Profile.Assets.Investments(),
					"age":            float64(s.Assumptions.Age),
				}
			}),
		ka(models.AgentRetirementPension, knowledge.DomainRetirement,
			"Explain how the user can reach the retirement corpus, mentioning NPS, EPF and PPF where relevant.",
			func(in models.AgentInput) map[string]any {
				s := snapshotOf(e, in)
				r := s.Retirement
				if r == nil {
					return map[string]any{"age": float64(s.Assumptions.Age)}
				}
				return map[string]any{
					"age":                  float64(s.Assumptions.Age),
					"yearsToRetire":        float64(r.YearsToRetire),
					"futureMonthlyExpense": r.FutureMonthlyExpense,
					"corpusNeeded":         r.CorpusNeeded,
					"monthlySip":           r.MonthlySIP,
				}
			}),
		ka(models.AgentGovernmentSchemes, knowledge.DomainSchemes,
			"Point out government schemes the user is likely eligible for and what each offers.",
			nil),
		ka(models.AgentAnalysis, knowledge.DomainGeneral,
			"Comment on the user's spending, savings rate and overall financial health using the computed figures.",
			func(in models.AgentInput) map[string]any {
				s := snapshotOf(e, in)
				return map[string]any{
					"monthlyIncome":   s.Income.Monthly,
					"monthlyExpenses": s.Expenses.Monthly,
					"monthlySurplus":  s.Savings.Monthly,
					"savingsRate":     s.Savings.Rate,
					"debtToIncome":    s.Debt.DebtToIncomeRatio,
					"emergencyGap":    s.EmergencyFund.Gap,
				}
			}),
		ka(models.AgentGeneralQA, knowledge.DomainGeneral,
			"Answer the user's general personal-finance question plainly.",
			nil),
		NewTransactionAgent(d.LLM, d.Store),
		NewGoalAgent(d.LLM, d.Store),
	)
}
