package finmath

import "math"

// RetirementAssumptions are the rates used when sizing the corpus.
type RetirementAssumptions struct {
	RetirementAge    int     `json:"retirementAge"`
	InflationRate    float64 `json:"inflationRate"`
	ReturnRate       float64 `json:"returnRate"`
	RealReturnSpread float64 `json:"realReturnSpread"`
}

// DefaultRetirementAssumptions: retire at 60, 6% inflation, 12% return,
// post-retirement return of inflation plus 2%.
func DefaultRetirementAssumptions() RetirementAssumptions {
	return RetirementAssumptions{
		RetirementAge:    60,
		InflationRate:    0.06,
		ReturnRate:       0.12,
		RealReturnSpread: 0.02,
	}
}

// Retirement is the corpus target and the SIP that reaches it.
type Retirement struct {
	YearsToRetire        int     `json:"yearsToRetire"`
	FutureMonthlyExpense float64 `json:"futureMonthlyExpense"`
	CorpusNeeded         float64 `json:"corpusNeeded"`
	MonthlySIP           float64 `json:"monthlySip"`
}

// RetirementCorpus inflates today's monthly expense to the retirement date,
// capitalizes a year of it at the real return spread, and solves the
// annuity-due future value formula for the monthly contribution.
func RetirementCorpus(currentAge int, monthlyExpense float64, a RetirementAssumptions) Retirement {
	years := a.RetirementAge - currentAge
	if years < 0 {
		years = 0
	}
	future := monthlyExpense * math.Pow(1+a.InflationRate, float64(years))

	var corpus float64
	if rate := a.InflationRate + a.RealReturnSpread; rate > 0 {
		corpus = future * 12 / rate
	}

	var sip float64
	r := a.ReturnRate / 12
	n := float64(years * 12)
	switch {
	case n == 0:
		sip = 0
	case r == 0:
		sip = corpus / n
	default:
		sip = corpus / (((math.Pow(1+r, n) - 1) / r) * (1 + r))
	}

	return Retirement{
		YearsToRetire:        years,
		FutureMonthlyExpense: future,
		CorpusNeeded:         math.Round(corpus),
		MonthlySIP:           math.Round(sip),
	}
}
