package models

import "encoding/json"

// AgentKind is the closed set of sub-agents the router may select.
type AgentKind string

const (
	AgentInvestmentPlanning  AgentKind = "investment_planning"
	AgentTaxITR              AgentKind = "tax_itr"
	AgentRetirementPension   AgentKind = "retirement_pension"
	AgentGovernmentSchemes   AgentKind = "government_schemes"
	AgentTransactionTracking AgentKind = "transaction_tracking"
	AgentAnalysis            AgentKind = "analysis"
	AgentGeneralQA           AgentKind = "general_qa"
	AgentGoalSetting         AgentKind = "goal_setting"
)

// AgentKinds lists every kind in a stable order.
var AgentKinds = []AgentKind{
	AgentInvestmentPlanning,
	AgentTaxITR,
	AgentRetirementPension,
	AgentGovernmentSchemes,
	AgentTransactionTracking,
	AgentAnalysis,
	AgentGeneralQA,
	AgentGoalSetting,
}

// ParseAgentKind returns the kind named s and whether it is known.
func ParseAgentKind(s string) (AgentKind, bool) {
	for _, k := range AgentKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Title is the human-readable section name for a kind.
func (k AgentKind) Title() string {
	switch k {
	case AgentInvestmentPlanning:
		return "Investment Strategy"
	case AgentTaxITR:
		return "Tax Optimization"
	case AgentRetirementPension:
		return "Retirement Planning"
	case AgentGovernmentSchemes:
		return "Government Schemes"
	case AgentTransactionTracking:
		return "Transactions"
	case AgentAnalysis:
		return "Financial Analysis"
	case AgentGeneralQA:
		return "General Guidance"
	case AgentGoalSetting:
		return "Goals"
	}
	return string(k)
}

// AgentInput is the request half of an invocation.
type AgentInput struct {
	UserID  string `json:"userId"`
	RunKey  string `json:"runKey"`
	Message string `json:"message"`
	Profile User   `json:"profile"`
	// Snapshot is the run's encoded analysis, so every agent quotes the
	// figures the report is built from.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

// AgentOutput is either a response with optional sources, or an error with a
// clarification the user can act on.
type AgentOutput struct {
	Agent         AgentKind      `json:"agent"`
	Response      string         `json:"response,omitempty"`
	Sources       []string       `json:"sources,omitempty"`
	Error         string         `json:"error,omitempty"`
	Clarification string         `json:"clarification,omitempty"`
	Transactions  []Transaction  `json:"transactions,omitempty"`
	Goal          *Goal          `json:"goal,omitempty"`
	Facts         map[string]any `json:"facts,omitempty"`
}

// Failed reports whether the invocation produced an error result.
func (o AgentOutput) Failed() bool {
	return o.Error != ""
}
