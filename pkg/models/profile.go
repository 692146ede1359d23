package models

import "strings"

// Profile is the per-user financial aggregate. It is only ever mutated through
// field-scoped patches (ProfilePatch) or the atomic balance increment.
type Profile struct {
	EmploymentType  EmploymentType `json:"employmentType,omitempty"`
	MonthlyIncome   float64        `json:"monthlyIncome,omitempty"`
	MonthlyBurnRate float64        `json:"monthlyBurnRate,omitempty"`
	Dependents      *int           `json:"dependents,omitempty"`
	Assets          Assets         `json:"assets"`
	Liabilities     []Liability    `json:"liabilities,omitempty"`
	Insurance       Insurance      `json:"insurance"`
	TaxDetails      TaxDetails     `json:"taxDetails"`
	VolatilityScore *float64       `json:"incomeVolatilityScore,omitempty"`
	Balance         float64        `json:"balance"`
}

// Assets groups the user's holdings by bucket.
type Assets struct {
	EmergencyFund float64 `json:"emergencyFund,omitempty"`
	FixedDeposits float64 `json:"fixedDeposits,omitempty"`
	MutualFunds   float64 `json:"mutualFunds,omitempty"`
	Stocks        float64 `json:"stocks,omitempty"`
	Gold          float64 `json:"gold,omitempty"`
	RealEstate    float64 `json:"realEstate,omitempty"`
}

// Investments is the sum of market-linked and deposit holdings.
func (a Assets) Investments() float64 {
	return a.FixedDeposits + a.MutualFunds + a.Stocks
}

// Liability is one outstanding loan.
type Liability struct {
	Type         string  `json:"type"`
	Outstanding  float64 `json:"outstandingAmount"`
	InterestRate float64 `json:"interestRate"`
	MonthlyEMI   float64 `json:"monthlyEmi"`
}

// Insurance holds the sum assured of each cover type.
type Insurance struct {
	LifeCover   float64 `json:"lifeInsuranceCover,omitempty"`
	HealthCover float64 `json:"healthInsuranceCover,omitempty"`
}

// TaxRegime is the income-tax regime the user files under.
type TaxRegime string

const (
	TaxRegimeOld TaxRegime = "old"
	TaxRegimeNew TaxRegime = "new"
)

// TaxDetails holds regime choice and PAN.
type TaxDetails struct {
	Regime TaxRegime `json:"regime,omitempty"`
	PAN    string    `json:"pan,omitempty"`
}

// ProfilePatch is a sparse update. A nil field means "leave unchanged"; the
// store writes each non-nil field independently so concurrent patches that
// touch disjoint fields commute.
type ProfilePatch struct {
	Age             *int            `json:"age,omitempty"`
	EmploymentType  *EmploymentType `json:"employmentType,omitempty"`
	MonthlyIncome   *float64        `json:"monthlyIncome,omitempty"`
	MonthlyBurnRate *float64        `json:"monthlyBurnRate,omitempty"`
	Dependents      *int            `json:"dependents,omitempty"`

	EmergencyFund *float64 `json:"emergencyFund,omitempty"`
	FixedDeposits *float64 `json:"fixedDeposits,omitempty"`
	MutualFunds   *float64 `json:"mutualFunds,omitempty"`
	Stocks        *float64 `json:"stocks,omitempty"`
	Gold          *float64 `json:"gold,omitempty"`
	RealEstate    *float64 `json:"realEstate,omitempty"`

	// Liabilities are merged by type: each replaces a stored loan of the
	// same type and the rest are appended.
	Liabilities []Liability `json:"liabilities,omitempty"`

	LifeCover   *float64 `json:"lifeInsuranceCover,omitempty"`
	HealthCover *float64 `json:"healthInsuranceCover,omitempty"`

	TaxRegime *TaxRegime `json:"taxRegime,omitempty"`
	PAN       *string    `json:"pan,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (p ProfilePatch) Empty() bool {
	return p.Age == nil && p.EmploymentType == nil && p.MonthlyIncome == nil &&
		p.MonthlyBurnRate == nil && p.Dependents == nil && p.EmergencyFund == nil &&
		p.FixedDeposits == nil && p.MutualFunds == nil && p.Stocks == nil &&
		p.Gold == nil && p.RealEstate == nil && p.Liabilities == nil &&
		p.LifeCover == nil && p.HealthCover == nil && p.TaxRegime == nil && p.PAN == nil
}

// ApplyTo applies the patch to a user in place. Stores that keep documents
// in memory use it; the Postgres store translates the same fields to JSONB
// path updates.
func (p ProfilePatch) ApplyTo(u *User) {
	if p.Age != nil {
		u.Age = *p.Age
	}
	pr := &u.Profile
	if p.EmploymentType != nil {
		pr.EmploymentType = *p.EmploymentType
	}
	if p.MonthlyIncome != nil {
		pr.MonthlyIncome = *p.MonthlyIncome
	}
	if p.MonthlyBurnRate != nil {
		pr.MonthlyBurnRate = *p.MonthlyBurnRate
	}
	if p.Dependents != nil {
		d := *p.Dependents
		pr.Dependents = &d
	}
	setFloat(&pr.Assets.EmergencyFund, p.EmergencyFund)
	setFloat(&pr.Assets.FixedDeposits, p.FixedDeposits)
	setFloat(&pr.Assets.MutualFunds, p.MutualFunds)
	setFloat(&pr.Assets.Stocks, p.Stocks)
	setFloat(&pr.Assets.Gold, p.Gold)
	setFloat(&pr.Assets.RealEstate, p.RealEstate)
	if p.Liabilities != nil {
		pr.Liabilities = MergeLiabilities(pr.Liabilities, p.Liabilities)
	}
	setFloat(&pr.Insurance.LifeCover, p.LifeCover)
	setFloat(&pr.Insurance.HealthCover, p.HealthCover)
	if p.TaxRegime != nil {
		pr.TaxDetails.Regime = *p.TaxRegime
	}
	if p.PAN != nil {
		pr.TaxDetails.PAN = *p.PAN
	}
}

// LiabilityKey is the identity liabilities are merged on.
func LiabilityKey(l Liability) string {
	return strings.ToLower(strings.TrimSpace(l.Type))
}

// DedupeLiabilities keeps the last liability of each type, in first-seen
// order.
func DedupeLiabilities(in []Liability) []Liability {
	idx := map[string]int{}
	var out []Liability
	for _, l := range in {
		if i, ok := idx[LiabilityKey(l)]; ok {
			out[i] = l
			continue
		}
		idx[LiabilityKey(l)] = len(out)
		out = append(out, l)
	}
	return out
}

// MergeLiabilities drops stored liabilities whose type reappears in
// incoming and appends incoming after the survivors.
func MergeLiabilities(stored, incoming []Liability) []Liability {
	incoming = DedupeLiabilities(incoming)
	replaced := make(map[string]bool, len(incoming))
	for _, l := range incoming {
		replaced[LiabilityKey(l)] = true
	}
	out := make([]Liability, 0, len(stored)+len(incoming))
	for _, l := range stored {
		if !replaced[LiabilityKey(l)] {
			out = append(out, l)
		}
	}
	return append(out, incoming...)
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
