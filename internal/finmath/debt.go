package finmath

import (
	"sort"

	"finadvisor/backend/pkg/models"
)

// DebtStatus buckets the debt-to-income ratio.
type DebtStatus string

const (
	DebtHealthy  DebtStatus = "healthy"
	DebtModerate DebtStatus = "moderate"
	DebtCritical DebtStatus = "critical"
)

// DebtAnalysis summarizes liabilities against monthly income.
type DebtAnalysis struct {
	TotalOutstanding     float64            `json:"totalOutstanding"`
	TotalEMI             float64            `json:"totalEmi"`
	DebtToIncomeRatio    float64            `json:"debtToIncomeRatio"`
	WeightedInterestRate float64            `json:"weightedInterestRate"`
	Status               DebtStatus         `json:"status"`
	Recommendation       string             `json:"recommendation"`
	RepaymentOrder       []models.Liability `json:"repaymentOrder,omitempty"`
	HighestInterestDebt  *models.Liability  `json:"highestInterestDebt,omitempty"`
}

// DebtStatusFor maps a DTI percentage to a status. 50 and above is critical.
func DebtStatusFor(dti float64) DebtStatus {
	switch {
	case dti < 30:
		return DebtHealthy
	case dti < 50:
		return DebtModerate
	default:
		return DebtCritical
	}
}

var debtRecommendations = map[DebtStatus]string{
	DebtHealthy:  "Debt is under control. Keep paying EMIs on time and direct surplus to your emergency fund.",
	DebtModerate: "Debt is taking a noticeable share of income. Prepay the highest-interest loan first or consolidate.",
	DebtCritical: "Debt repayments are consuming half your income or more. Stop new borrowing and get a repayment plan in place now.",
}

// AnalyzeDebt computes DTI, weighted interest rate and the avalanche
// repayment order (highest rate first). It does not modify liabilities.
func AnalyzeDebt(liabilities []models.Liability, monthlyIncome float64) DebtAnalysis {
	var outstanding, emi, weighted float64
	for _, l := range liabilities {
		outstanding += l.Outstanding
		emi += l.MonthlyEMI
		weighted += l.InterestRate * l.Outstanding
	}

	var dti float64
	if monthlyIncome > 0 {
		dti = emi / monthlyIncome * 100
	}
	var rate float64
	if outstanding > 0 {
		rate = weighted / outstanding
	}

	order := make([]models.Liability, len(liabilities))
	copy(order, liabilities)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].InterestRate > order[j].InterestRate
	})

	status := DebtStatusFor(dti)
	res := DebtAnalysis{
		TotalOutstanding:     outstanding,
		TotalEMI:             emi,
		DebtToIncomeRatio:    dti,
		WeightedInterestRate: rate,
		Status:               status,
		Recommendation:       debtRecommendations[status],
	}
	if len(order) > 0 {
		res.RepaymentOrder = order
		top := order[0]
		res.HighestInterestDebt = &top
	}
	return res
}
