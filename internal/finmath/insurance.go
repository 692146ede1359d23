package finmath

import "math"

// Insurance sizing constants.
const (
	InsuranceRetirementAge  = 60
	IncomeReplacementFactor = 0.7
	LifeCoverPerDependent   = 500000
	HealthCoverBase         = 500000
	HealthCoverOver45       = 1000000
	HealthCoverOver60       = 1500000
	HealthCoverPerDependent = 300000
)

// InsuranceInput describes the household being insured.
type InsuranceInput struct {
	Age           int
	AnnualIncome  float64
	Dependents    int
	Liabilities   float64
	CurrentLife   float64
	CurrentHealth float64
}

// Cover is recommended versus current sum assured.
type Cover struct {
	Recommended float64 `json:"recommended"`
	Current     float64 `json:"current"`
	Gap         float64 `json:"gap"`
}

// InsuranceNeeds is life and health cover sizing.
type InsuranceNeeds struct {
	Life   Cover `json:"life"`
	Health Cover `json:"health"`
}

// LifeCover uses the human life value method: income replaced until 60,
// plus outstanding debt, plus a fixed amount per dependent.
func LifeCover(age int, annualIncome float64, dependents int, liabilities float64) float64 {
	years := math.Max(float64(InsuranceRetirementAge-age), 0)
	cover := annualIncome*years*IncomeReplacementFactor + liabilities + float64(dependents)*LifeCoverPerDependent
	return math.Round(cover)
}

// HealthCover picks an age-banded base and adds a per-dependent amount.
// Above 60 the senior amount replaces the banded total.
func HealthCover(age, dependents int) float64 {
	cover := float64(HealthCoverBase)
	if age > 45 {
		cover = HealthCoverOver45
	}
	if dependents > 0 {
		cover += float64(dependents) * HealthCoverPerDependent
	}
	if age > 60 {
		cover = HealthCoverOver60
	}
	return cover
}

// CalculateInsuranceNeeds sizes both covers and their gaps.
func CalculateInsuranceNeeds(in InsuranceInput) InsuranceNeeds {
	life := LifeCover(in.Age, in.AnnualIncome, in.Dependents, in.Liabilities)
	health := HealthCover(in.Age, in.Dependents)
	return InsuranceNeeds{
		Life:   Cover{Recommended: life, Current: in.CurrentLife, Gap: math.Max(0, life-in.CurrentLife)},
		Health: Cover{Recommended: health, Current: in.CurrentHealth, Gap: math.Max(0, health-in.CurrentHealth)},
	}
}
