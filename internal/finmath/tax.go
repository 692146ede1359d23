package finmath

import (
	"math"

	"finadvisor/backend/pkg/models"
)

// Slab is one marginal-rate bracket. It covers income above the previous
// slab's UpTo and up to its own UpTo.
type Slab struct {
	UpTo float64 `json:"upTo" yaml:"up_to"`
	Rate float64 `json:"rate" yaml:"rate"`
}

// TaxSchedule describes one regime.
type TaxSchedule struct {
	Regime            models.TaxRegime `json:"regime"`
	Slabs             []Slab           `json:"slabs"`
	StandardDeduction float64          `json:"standardDeduction"`
	AllowsDeductions  bool             `json:"allowsDeductions"`
	RebateLimit       float64          `json:"rebateLimit"` // taxable income at or below which the rebate applies
	MaxRebate         float64          `json:"maxRebate"`   // +Inf rebates the whole tax
}

// TaxConfig pairs both regimes with the cess applied to post-rebate tax.
type TaxConfig struct {
	Old      TaxSchedule `json:"old"`
	New      TaxSchedule `json:"new"`
	CessRate float64     `json:"cessRate"`
}

// DefaultTaxConfig returns the FY 2024-25 schedules.
func DefaultTaxConfig() TaxConfig {
	return TaxConfig{
		New: TaxSchedule{
			Regime: models.TaxRegimeNew,
			Slabs: []Slab{
				{UpTo: 300000, Rate: 0},
				{UpTo: 700000, Rate: 0.05},
				{UpTo: 1000000, Rate: 0.10},
				{UpTo: 1200000, Rate: 0.15},
				{UpTo: 1500000, Rate: 0.20},
				{UpTo: math.Inf(1), Rate: 0.30},
			},
			StandardDeduction: 50000,
			RebateLimit:       700000,
			MaxRebate:         math.Inf(1),
		},
		Old: TaxSchedule{
			Regime: models.TaxRegimeOld,
			Slabs: []Slab{
				{UpTo: 250000, Rate: 0},
				{UpTo: 500000, Rate: 0.05},
				{UpTo: 1000000, Rate: 0.20},
				{UpTo: math.Inf(1), Rate: 0.30},
			},
			AllowsDeductions: true,
			RebateLimit:      500000,
			MaxRebate:        12500,
		},
		CessRate: 0.04,
	}
}

// SlabTax applies the marginal rates bracket by bracket: each rate only
// touches the slice of income that falls inside its bracket.
func SlabTax(taxable float64, slabs []Slab) float64 {
	var tax, lower float64
	for _, s := range slabs {
		if taxable <= lower {
			break
		}
		portion := math.Min(taxable, s.UpTo) - lower
		tax += portion * s.Rate
		lower = s.UpTo
	}
	return tax
}

// RegimeTax is the full computation for one regime.
type RegimeTax struct {
	Regime        models.TaxRegime `json:"regime"`
	GrossIncome   float64          `json:"grossIncome"`
	Deductions    float64          `json:"deductions"`
	TaxableIncome float64          `json:"taxableIncome"`
	BaseTax       float64          `json:"baseTax"`
	Rebate        float64          `json:"rebate"`
	Cess          float64          `json:"cess"`
	TotalTax      float64          `json:"totalTax"`
}

// CalculateTax computes tax for gross annual income under s. Deductions are
// ignored by schedules that do not allow them.
func CalculateTax(gross, deductions float64, s TaxSchedule, cessRate float64) RegimeTax {
	if !s.AllowsDeductions {
		deductions = 0
	}
	deductions += s.StandardDeduction
	taxable := math.Max(0, gross-deductions)

	base := SlabTax(taxable, s.Slabs)
	var rebate float64
	if taxable <= s.RebateLimit {
		rebate = math.Min(base, s.MaxRebate)
	}
	afterRebate := base - rebate
	cess := afterRebate * cessRate

	return RegimeTax{
		Regime:        s.Regime,
		GrossIncome:   gross,
		Deductions:    deductions,
		TaxableIncome: taxable,
		BaseTax:       base,
		Rebate:        rebate,
		Cess:          cess,
		TotalTax:      afterRebate + cess,
	}
}

// TaxComparison is the side-by-side result of both regimes.
type TaxComparison struct {
	Old         RegimeTax        `json:"old"`
	New         RegimeTax        `json:"new"`
	Recommended models.TaxRegime `json:"recommended"`
	Savings     float64          `json:"savings"`
}

// CompareTaxRegimes recommends the regime with the lower total tax. A tie
// goes to the new regime, which needs no deduction paperwork.
func CompareTaxRegimes(gross, oldDeductions float64, cfg TaxConfig) TaxComparison {
	oldTax := CalculateTax(gross, oldDeductions, cfg.Old, cfg.CessRate)
	newTax := CalculateTax(gross, 0, cfg.New, cfg.CessRate)

	rec := models.TaxRegimeOld
	if newTax.TotalTax <= oldTax.TotalTax {
		rec = models.TaxRegimeNew
	}
	return TaxComparison{
		Old:         oldTax,
		New:         newTax,
		Recommended: rec,
		Savings:     math.Abs(oldTax.TotalTax - newTax.TotalTax),
	}
}
