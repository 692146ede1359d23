package finmath

import (
	"math"

	"finadvisor/backend/pkg/models"
)

const (
	EmergencyAdequate     = "adequate"
	EmergencyInsufficient = "insufficient"
)

// EmergencyFundInput carries the factors that size the fund.
type EmergencyFundInput struct {
	EmploymentType     models.EmploymentType
	MonthlyExpenses    float64
	Dependents         int
	HasHealthInsurance bool
	Current            float64
}

// EmergencyFund is the target, the current holding and the gap between them.
type EmergencyFund struct {
	Months         int     `json:"months"`
	Recommended    float64 `json:"recommended"`
	Current        float64 `json:"current"`
	Gap            float64 `json:"gap"`
	CoverageMonths float64 `json:"coverageMonths"`
	Status         string  `json:"status"`
}

// EmergencyFundMonths returns base months adjusted additively: volatile
// employment raises the base, more than two dependents add one month and
// missing health cover adds two.
func EmergencyFundMonths(employment models.EmploymentType, dependents int, hasHealthInsurance bool) int {
	months := 3
	switch employment {
	case models.EmploymentGig, models.EmploymentBusiness:
		months = 6
	case models.EmploymentRetired:
		months = 12
	}
	if dependents > 2 {
		months++
	}
	if !hasHealthInsurance {
		months += 2
	}
	return months
}

// EmergencyFundTarget sizes the fund and measures the shortfall.
func EmergencyFundTarget(in EmergencyFundInput) EmergencyFund {
	months := EmergencyFundMonths(in.EmploymentType, in.Dependents, in.HasHealthInsurance)
	recommended := float64(months) * in.MonthlyExpenses

	var coverage float64
	if in.MonthlyExpenses > 0 {
		coverage = in.Current / in.MonthlyExpenses
	}
	status := EmergencyAdequate
	if in.Current < recommended {
		status = EmergencyInsufficient
	}
	return EmergencyFund{
		Months:         months,
		Recommended:    recommended,
		Current:        in.Current,
		Gap:            math.Max(0, recommended-in.Current),
		CoverageMonths: coverage,
		Status:         status,
	}
}
