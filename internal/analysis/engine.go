// Package analysis turns a stored profile and recent transactions into a
// consolidated snapshot using the finmath formulas, and decides whether a
// profile is complete enough to analyze at all.
package analysis

import (
	"time"

	"finadvisor/backend/internal/finmath"
	"finadvisor/backend/pkg/models"
)

// Income sources recorded on the snapshot.
const (
	IncomeFromTransactions = "transactions"
	IncomeFromProfile      = "profile"
	IncomeFromDefault      = "default"
)

// Defaults fill in values the profile does not carry.
type Defaults struct {
	Age                 int     `mapstructure:"age"`
	MonthlyExpenses     float64 `mapstructure:"monthly_expenses"`
	MonthlyIncome       float64 `mapstructure:"monthly_income"`
	Dependents          int     `mapstructure:"dependents"`
	OldRegimeDeductions float64 `mapstructure:"old_regime_deductions"`
}

// DefaultDefaults mirrors the assumptions the advisor has always used.
func DefaultDefaults() Defaults {
	return Defaults{
		Age:                 30,
		MonthlyExpenses:     30000,
		MonthlyIncome:       50000,
		Dependents:          2,
		OldRegimeDeductions: 150000,
	}
}

// Engine computes snapshots. It holds configuration only and is safe for
// concurrent use.
type Engine struct {
	defaults   Defaults
	tax        finmath.TaxConfig
	retirement finmath.RetirementAssumptions
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithDefaults(d Defaults) Option { return func(e *Engine) { e.defaults = d } }

func WithTaxConfig(c finmath.TaxConfig) Option { return func(e *Engine) { e.tax = c } }

func WithRetirement(a finmath.RetirementAssumptions) Option {
	return func(e *Engine) { e.retirement = a }
}

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine builds an Engine with the standard schedules.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		defaults:   DefaultDefaults(),
		tax:        finmath.DefaultTaxConfig(),
		retirement: finmath.DefaultRetirementAssumptions(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// TaxConfig exposes the schedules in use.
func (e *Engine) TaxConfig() finmath.TaxConfig { return e.tax }

// Defaults exposes the fallbacks in use.
func (e *Engine) Defaults() Defaults { return e.defaults }

// Analyze builds a snapshot from the user's stored profile and transactions.
// Neither argument is modified; persisting derived values such as the
// volatility score is left to the caller.
func (e *Engine) Analyze(user models.User, txns []models.Transaction) Snapshot {
	p := user.Profile

	age := user.Age
	if age <= 0 {
		age = e.defaults.Age
	}
	employment := p.EmploymentType
	if employment == "" {
		employment = models.EmploymentSalaried
	}
	dependents := e.defaults.Dependents
	if p.Dependents != nil {
		dependents = *p.Dependents
	}
	expenses := p.MonthlyBurnRate
	if expenses <= 0 {
		expenses = e.defaults.MonthlyExpenses
	}

	buckets := finmath.MonthlyIncomeBuckets(txns)
	income, source := e.monthlyIncome(buckets, p)
	monthly := make([]float64, len(buckets))
	for i, b := range buckets {
		monthly[i] = b.Amount
	}
	volatility := finmath.IncomeVolatility(monthly)

	var totalDebt float64
	for _, l := range p.Liabilities {
		totalDebt += l.Outstanding
	}

	snap := Snapshot{
		GeneratedAt: e.now().UTC(),
		Assumptions: Assumptions{
			Age:            age,
			EmploymentType: employment,
			Dependents:     dependents,
			AgeDefaulted:   user.Age <= 0,
		},
		Income: IncomeSummary{
			Monthly:    income,
			Annual:     income * 12,
			Source:     source,
			Months:     buckets,
			Volatility: volatility,
		},
		Expenses: ExpenseSummary{Monthly: expenses, Annual: expenses * 12},
		Savings:  finmath.SavingsRate(income, expenses),
		EmergencyFund: finmath.EmergencyFundTarget(finmath.EmergencyFundInput{
			EmploymentType:     employment,
			MonthlyExpenses:    expenses,
			Dependents:         dependents,
			HasHealthInsurance: p.Insurance.HealthCover > 0,
			Current:            p.Assets.EmergencyFund,
		}),
		Debt: finmath.AnalyzeDebt(p.Liabilities, income),
		Insurance: finmath.CalculateInsuranceNeeds(finmath.InsuranceInput{
			Age:           age,
			AnnualIncome:  income * 12,
			Dependents:    dependents,
			Liabilities:   totalDebt,
			CurrentLife:   p.Insurance.LifeCover,
			CurrentHealth: p.Insurance.HealthCover,
		}),
		Tax: finmath.CompareTaxRegimes(income*12, e.defaults.OldRegimeDeductions, e.tax),
		NetWorth: NetWorth{
			Assets:      p.Assets.EmergencyFund + p.Assets.Investments() + p.Assets.Gold + p.Assets.RealEstate,
			Liabilities: totalDebt,
		},
		Availability: Availability{
			Tax:           source == IncomeFromTransactions,
			EmergencyFund: p.MonthlyBurnRate > 0 && p.EmploymentType != "",
			Debt:          len(p.Liabilities) > 0,
			Insurance:     user.Age > 0,
			Retirement:    user.Age > 0 && p.MonthlyBurnRate > 0,
			Volatility:    volatility.Months >= finmath.MinVolatilityMonths,
		},
	}
	snap.NetWorth.Net = snap.NetWorth.Assets - snap.NetWorth.Liabilities

	if age < e.retirement.RetirementAge {
		r := finmath.RetirementCorpus(age, expenses, e.retirement)
		snap.Retirement = &r
	}
	return snap
}

func (e *Engine) monthlyIncome(buckets []finmath.MonthlyBucket, p models.Profile) (float64, string) {
	if len(buckets) > 0 {
		var sum float64
		for _, b := range buckets {
			sum += b.Amount
		}
		return sum / float64(len(buckets)), IncomeFromTransactions
	}
	if p.MonthlyIncome > 0 {
		return p.MonthlyIncome, IncomeFromProfile
	}
	return e.defaults.MonthlyIncome, IncomeFromDefault
}
