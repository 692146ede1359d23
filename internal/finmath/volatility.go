package finmath

import (
	"math"
	"sort"

	"finadvisor/backend/pkg/models"
)

// VolatilityClass is derived from the score, never directly from CV.
type VolatilityClass string

const (
	VolatilityStable   VolatilityClass = "stable"
	VolatilityModerate VolatilityClass = "moderate"
	VolatilityVolatile VolatilityClass = "volatile"
)

// MinVolatilityMonths is the fewest distinct months needed to score.
const MinVolatilityMonths = 3

// Volatility is the income volatility result.
type Volatility struct {
	Score          float64         `json:"score"`
	StdDev         float64         `json:"stdDev"`
	Coefficient    float64         `json:"coefficient"` // CV in percent
	Classification VolatilityClass `json:"classification"`
	Months         int             `json:"months"`
}

// MonthlyBucket is the income total of one calendar month.
type MonthlyBucket struct {
	Month  string  `json:"month"` // YYYY-MM
	Amount float64 `json:"amount"`
}

// MonthlyIncomeBuckets groups income transactions by calendar month (UTC)
// and returns them oldest first.
func MonthlyIncomeBuckets(txns []models.Transaction) []MonthlyBucket {
	totals := make(map[string]float64)
	for _, t := range txns {
		if t.Type != models.TransactionIncome {
			continue
		}
		totals[t.Date.UTC().Format("2006-01")] += t.Amount
	}
	buckets := make([]MonthlyBucket, 0, len(totals))
	for m, amt := range totals {
		buckets = append(buckets, MonthlyBucket{Month: m, Amount: amt})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Month < buckets[j].Month })
	return buckets
}

// IncomeVolatility scores month-to-month variation in income on 0-10.
// Fewer than three months is reported as stable with score 0.
func IncomeVolatility(monthly []float64) Volatility {
	n := len(monthly)
	if n < MinVolatilityMonths {
		return Volatility{Classification: VolatilityStable, Months: n}
	}

	var sum float64
	for _, v := range monthly {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range monthly {
		sq += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(sq / float64(n))

	var cv float64
	if mean > 0 {
		cv = sd / mean * 100
	}
	score := volatilityScore(cv)
	return Volatility{
		Score:          score,
		StdDev:         sd,
		Coefficient:    cv,
		Classification: classifyVolatility(score),
		Months:         n,
	}
}

func volatilityScore(cv float64) float64 {
	switch {
	case cv < 10:
		return 0
	case cv < 20:
		return 3
	case cv < 30:
		return 5
	case cv < 40:
		return 7
	default:
		return 10
	}
}

func classifyVolatility(score float64) VolatilityClass {
	switch {
	case score < 4:
		return VolatilityStable
	case score < 7:
		return VolatilityModerate
	default:
		return VolatilityVolatile
	}
}
