package analysis

import (
	"time"

	"finadvisor/backend/internal/finmath"
	"finadvisor/backend/pkg/models"
)

// Snapshot is the derived analysis of one run. It is regenerated each time
// and never updated in place.
type Snapshot struct {
	GeneratedAt   time.Time              `json:"generatedAt"`
	Assumptions   Assumptions            `json:"assumptions"`
	Income        IncomeSummary          `json:"income"`
	Expenses      ExpenseSummary         `json:"expenses"`
	Savings       finmath.Savings        `json:"savings"`
	EmergencyFund finmath.EmergencyFund  `json:"emergencyFund"`
	Insurance     finmath.InsuranceNeeds `json:"insurance"`
	Debt          finmath.DebtAnalysis   `json:"debt"`
	Tax           finmath.TaxComparison  `json:"tax"`
	Retirement    *finmath.Retirement    `json:"retirement,omitempty"`
	NetWorth      NetWorth               `json:"netWorth"`
	Availability  Availability           `json:"availability"`
}

// Assumptions records the inputs the engine settled on.
type Assumptions struct {
	Age            int                   `json:"age"`
	AgeDefaulted   bool                  `json:"ageDefaulted,omitempty"`
	EmploymentType models.EmploymentType `json:"employmentType"`
	Dependents     int                   `json:"dependents"`
}

type IncomeSummary struct {
	Monthly    float64                 `json:"monthly"`
	Annual     float64                 `json:"annual"`
	Source     string                  `json:"source"`
	Months     []finmath.MonthlyBucket `json:"months,omitempty"`
	Volatility finmath.Volatility      `json:"volatility"`
}

type ExpenseSummary struct {
	Monthly float64 `json:"monthly"`
	Annual  float64 `json:"annual"`
}

type NetWorth struct {
	Assets      float64 `json:"assets"`
	Liabilities float64 `json:"liabilities"`
	Net         float64 `json:"net"`
}

// Availability flags which sections rest on real data rather than
// defaults.
type Availability struct {
	Tax           bool `json:"tax"`
	EmergencyFund bool `json:"emergencyFund"`
	Debt          bool `json:"debt"`
	Insurance     bool `json:"insurance"`
	Retirement    bool `json:"retirement"`
	Volatility    bool `json:"volatility"`
}

// Facts flattens every number in the snapshot that the report may quote.
// The report composer uses it to reject narrative numbers that were not
// computed here.
func (s Snapshot) Facts() []float64 {
	f := []float64{
		s.Income.Monthly, s.Income.Annual, s.Income.Volatility.Score, s.Income.Volatility.Coefficient,
		s.Expenses.Monthly, s.Expenses.Annual,
		s.Savings.Monthly, s.Savings.Rate,
		float64(s.EmergencyFund.Months), s.EmergencyFund.Recommended, s.EmergencyFund.Current,
		s.EmergencyFund.Gap, s.EmergencyFund.CoverageMonths,
		s.Insurance.Life.Recommended, s.Insurance.Life.Current, s.Insurance.Life.Gap,
		s.Insurance.Health.Recommended, s.Insurance.Health.Current, s.Insurance.Health.Gap,
		s.Debt.TotalOutstanding, s.Debt.TotalEMI, s.Debt.DebtToIncomeRatio, s.Debt.WeightedInterestRate,
		s.Tax.Old.TotalTax, s.Tax.New.TotalTax, s.Tax.Savings, s.Tax.Old.TaxableIncome, s.Tax.New.TaxableIncome,
		s.NetWorth.Assets, s.NetWorth.Liabilities, s.NetWorth.Net,
		float64(s.Assumptions.Age), float64(s.Assumptions.Dependents),
	}
	for _, l := range s.Debt.RepaymentOrder {
		f = append(f, l.Outstanding, l.InterestRate, l.MonthlyEMI)
	}
	if r := s.Retirement; r != nil {
		f = append(f, float64(r.YearsToRetire), r.FutureMonthlyExpense, r.CorpusNeeded, r.MonthlySIP)
	}
	return f
}
