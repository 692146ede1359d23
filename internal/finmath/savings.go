package finmath

// SavingsClass grades the savings rate.
type SavingsClass string

const (
	SavingsExcellent SavingsClass = "excellent"
	SavingsGood      SavingsClass = "good"
	SavingsFair      SavingsClass = "fair"
	SavingsPoor      SavingsClass = "poor"
)

// Savings is the monthly surplus and its share of income.
type Savings struct {
	Monthly        float64      `json:"monthly"`
	Rate           float64      `json:"rate"` // percent
	Status         SavingsClass `json:"status"`
	Recommendation string       `json:"recommendation"`
}

var savingsRecommendations = map[SavingsClass]string{
	SavingsExcellent: "Strong savings habit. Put more of the surplus into long-term equity.",
	SavingsGood:      "Healthy savings rate. Trimming discretionary spend can push it past 30%.",
	SavingsFair:      "Savings are thin. Review recurring expenses and cut where you can.",
	SavingsPoor:      "Very little is being saved. Set a strict monthly budget and reduce expenses now.",
}

// SavingsRate computes (income - expenses) / income as a percentage. Zero
// income yields a zero rate.
func SavingsRate(income, expenses float64) Savings {
	surplus := income - expenses
	var rate float64
	if income > 0 {
		rate = surplus / income * 100
	}
	class := SavingsPoor
	switch {
	case rate >= 30:
		class = SavingsExcellent
	case rate >= 20:
		class = SavingsGood
	case rate >= 10:
		class = SavingsFair
	}
	return Savings{
		Monthly:        surplus,
		Rate:           rate,
		Status:         class,
		Recommendation: savingsRecommendations[class],
	}
}
