package finmath

import (
	"testing"
	"time"

	"finadvisor/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmergencyFundTarget(t *testing.T) {
	tests := []struct {
		name       string
		in         EmergencyFundInput
		wantMonths int
		wantAmount float64
		wantStatus string
	}{
		{
			name:       "gig without health insurance",
			in:         EmergencyFundInput{EmploymentType: models.EmploymentGig, MonthlyExpenses: 40000, Dependents: 1},
			wantMonths: 8,
			wantAmount: 320000,
			wantStatus: EmergencyInsufficient,
		},
		{
			name:       "salaried insured",
			in:         EmergencyFundInput{EmploymentType: models.EmploymentSalaried, MonthlyExpenses: 30000, HasHealthInsurance: true, Current: 100000},
			wantMonths: 3,
			wantAmount: 90000,
			wantStatus: EmergencyAdequate,
		},
		{
			name:       "retired with three dependents",
			in:         EmergencyFundInput{EmploymentType: models.EmploymentRetired, MonthlyExpenses: 10000, Dependents: 3, HasHealthInsurance: true},
			wantMonths: 13,
			wantAmount: 130000,
			wantStatus: EmergencyInsufficient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EmergencyFundTarget(tt.in)
			assert.Equal(t, tt.wantMonths, got.Months)
			assert.InDelta(t, tt.wantAmount, got.Recommended, 0.001)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.GreaterOrEqual(t, got.Gap, 0.0)
		})
	}
}

func TestEmergencyFundTarget_GapNeverNegative(t *testing.T) {
	got := EmergencyFundTarget(EmergencyFundInput{MonthlyExpenses: 10000, HasHealthInsurance: true, Current: 1000000})
	assert.Zero(t, got.Gap)
	assert.InDelta(t, 100, got.CoverageMonths, 0.001)
}

func TestAnalyzeDebt(t *testing.T) {
	t.Run("fifty percent is critical", func(t *testing.T) {
		got := AnalyzeDebt([]models.Liability{{MonthlyEMI: 5000}, {MonthlyEMI: 15000}}, 40000)
		assert.InDelta(t, 50, got.DebtToIncomeRatio, 0.0001)
		assert.Equal(t, DebtCritical, got.Status)
	})

	t.Run("zero income yields zero ratio", func(t *testing.T) {
		got := AnalyzeDebt([]models.Liability{{MonthlyEMI: 5000}}, 0)
		assert.Zero(t, got.DebtToIncomeRatio)
		assert.Equal(t, DebtHealthy, got.Status)
	})

	t.Run("no debt", func(t *testing.T) {
		got := AnalyzeDebt(nil, 50000)
		assert.Zero(t, got.WeightedInterestRate)
		assert.Nil(t, got.HighestInterestDebt)
	})

	t.Run("avalanche order and weighted rate", func(t *testing.T) {
		liabilities := []models.Liability{
			{Type: "home", Outstanding: 3000000, InterestRate: 8.5, MonthlyEMI: 26000},
			{Type: "credit_card", Outstanding: 100000, InterestRate: 36, MonthlyEMI: 5000},
			{Type: "car", Outstanding: 400000, InterestRate: 9.5, MonthlyEMI: 9000},
		}
		got := AnalyzeDebt(liabilities, 100000)

		require.NotNil(t, got.HighestInterestDebt)
		assert.Equal(t, "credit_card", got.HighestInterestDebt.Type)
		assert.Equal(t, []string{"credit_card", "car", "home"},
			[]string{got.RepaymentOrder[0].Type, got.RepaymentOrder[1].Type, got.RepaymentOrder[2].Type})
		assert.Equal(t, "home", liabilities[0].Type, "input must not be reordered")
		want := (8.5*3000000 + 36*100000 + 9.5*400000) / 3500000
		assert.InDelta(t, want, got.WeightedInterestRate, 0.0001)
		assert.Equal(t, DebtModerate, got.Status)
	})
}

func TestDebtStatusFor(t *testing.T) {
	assert.Equal(t, DebtHealthy, DebtStatusFor(29.99))
	assert.Equal(t, DebtModerate, DebtStatusFor(30))
	assert.Equal(t, DebtModerate, DebtStatusFor(49.99))
	assert.Equal(t, DebtCritical, DebtStatusFor(50))
}

func TestCalculateInsuranceNeeds(t *testing.T) {
	got := CalculateInsuranceNeeds(InsuranceInput{
		Age:          30,
		AnnualIncome: 1200000,
		Dependents:   2,
		Liabilities:  500000,
		CurrentLife:  5000000,
	})
	// 12L x 30 years x 0.7 + 5L + 2 x 5L
	assert.InDelta(t, 25200000+500000+1000000, got.Life.Recommended, 0.5)
	assert.InDelta(t, 26700000-5000000, got.Life.Gap, 0.5)
	assert.InDelta(t, 500000+600000, got.Health.Recommended, 0.001)
	assert.InDelta(t, 1100000, got.Health.Gap, 0.001)
}

func TestHealthCover_AgeBands(t *testing.T) {
	assert.Equal(t, 500000.0, HealthCover(30, 0))
	assert.Equal(t, 1300000.0, HealthCover(50, 1))
	assert.Equal(t, 1500000.0, HealthCover(65, 2))
	assert.Zero(t, LifeCover(65, 1000000, 0, 0))
}

func TestIncomeVolatility(t *testing.T) {
	t.Run("flat income is stable", func(t *testing.T) {
		got := IncomeVolatility([]float64{50000, 50000, 50000})
		assert.Zero(t, got.Coefficient)
		assert.Zero(t, got.Score)
		assert.Equal(t, VolatilityStable, got.Classification)
	})

	t.Run("swinging income is volatile", func(t *testing.T) {
		got := IncomeVolatility([]float64{20000, 80000, 50000})
		assert.Greater(t, got.Coefficient, 40.0)
		assert.Equal(t, 10.0, got.Score)
		assert.Equal(t, VolatilityVolatile, got.Classification)
	})

	t.Run("too few months", func(t *testing.T) {
		got := IncomeVolatility([]float64{10000, 90000})
		assert.Zero(t, got.Score)
		assert.Equal(t, VolatilityStable, got.Classification)
	})

	t.Run("moderate band", func(t *testing.T) {
		// mean 50000, population sd ~ 12247 -> CV ~ 24.5 -> score 5
		got := IncomeVolatility([]float64{35000, 50000, 65000})
		assert.Equal(t, 5.0, got.Score)
		assert.Equal(t, VolatilityModerate, got.Classification)
	})
}

func TestMonthlyIncomeBuckets(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 10, 0, 0, 0, time.UTC) }
	txns := []models.Transaction{
		{Type: models.TransactionIncome, Amount: 30000, Date: day(2024, 3, 1)},
		{Type: models.TransactionIncome, Amount: 20000, Date: day(2024, 3, 20)},
		{Type: models.TransactionExpense, Amount: 9000, Date: day(2024, 3, 21)},
		{Type: models.TransactionIncome, Amount: 45000, Date: day(2024, 1, 5)},
	}

	got := MonthlyIncomeBuckets(txns)

	assert.Equal(t, []MonthlyBucket{{Month: "2024-01", Amount: 45000}, {Month: "2024-03", Amount: 50000}}, got)
}

func TestRetirementCorpus(t *testing.T) {
	got := RetirementCorpus(30, 30000, DefaultRetirementAssumptions())

	assert.Equal(t, 30, got.YearsToRetire)
	assert.InDelta(t, 172304.7, got.FutureMonthlyExpense, 1)
	assert.InDelta(t, 25845710, got.CorpusNeeded, 100)
	assert.InDelta(t, 7322, got.MonthlySIP, 5)

	past := RetirementCorpus(62, 30000, DefaultRetirementAssumptions())
	assert.Zero(t, past.YearsToRetire)
	assert.Zero(t, past.MonthlySIP)
}

func TestSavingsRate(t *testing.T) {
	tests := []struct {
		income, expenses float64
		want             SavingsClass
	}{
		{100000, 60000, SavingsExcellent},
		{100000, 80000, SavingsGood},
		{100000, 85000, SavingsFair},
		{100000, 95000, SavingsPoor},
		{0, 10000, SavingsPoor},
	}
	for _, tt := range tests {
		got := SavingsRate(tt.income, tt.expenses)
		assert.Equal(t, tt.want, got.Status, "income=%v expenses=%v", tt.income, tt.expenses)
		assert.NotEmpty(t, got.Recommendation)
	}
}
