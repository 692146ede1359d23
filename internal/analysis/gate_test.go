package analysis

import (
	"testing"

	"finadvisor/backend/pkg/models"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func completeUser() models.User {
	return models.User{
		UserID: "u-1",
		Age:    32,
		Profile: models.Profile{
			EmploymentType:  models.EmploymentSalaried,
			MonthlyBurnRate: 40000,
			Dependents:      intPtr(1),
			Assets: models.Assets{
				EmergencyFund: 150000,
				MutualFunds:   300000,
				RealEstate:    4000000,
			},
			Liabilities:     []models.Liability{{Type: "car", Outstanding: 300000, InterestRate: 9, MonthlyEMI: 8000}},
			Insurance:       models.Insurance{LifeCover: 10000000, HealthCover: 500000},
			TaxDetails:      models.TaxDetails{Regime: models.TaxRegimeNew, PAN: "ABCDE1234F"},
			VolatilityScore: floatPtr(0),
		},
	}
}

func TestEvaluate_MissingAgeAndEmployment(t *testing.T) {
	u := completeUser()
	u.Age = 0
	u.Profile.EmploymentType = ""

	got := Evaluate(u)

	assert.True(t, got.HasCriticalGaps)
	assert.Equal(t, []Field{FieldAge, FieldEmploymentType}, got.MissingFields)
	assert.Len(t, got.ClarifyingQuestions, 2)
}

func TestEvaluate_ZeroBurnRateIsMissing(t *testing.T) {
	u := completeUser()
	u.Profile.MonthlyBurnRate = 0

	got := Evaluate(u)

	assert.True(t, got.HasCriticalGaps)
	assert.Equal(t, []Field{FieldMonthlyExpenses}, got.MissingFields)
}

func TestEvaluate_QuestionsCappedAndPrioritized(t *testing.T) {
	got := Evaluate(models.User{UserID: "empty"})

	assert.True(t, got.HasCriticalGaps)
	assert.Equal(t, []Field{FieldAge, FieldMonthlyExpenses, FieldEmploymentType}, got.MissingFields)
	assert.Len(t, got.ClarifyingQuestions, MaxClarifyingQuestions)
	assert.Contains(t, got.ClarifyingQuestions[0], "age")
}

func TestEvaluate_TopsUpQuestionsWithNextPriority(t *testing.T) {
	u := models.User{Age: 40, Profile: models.Profile{MonthlyBurnRate: 20000}}

	got := Evaluate(u)

	assert.Equal(t, []Field{FieldEmploymentType}, got.MissingFields)
	assert.Len(t, got.ClarifyingQuestions, 3)
	assert.Contains(t, got.ClarifyingQuestions[1], "emergency fund")
	assert.Contains(t, got.ClarifyingQuestions[2], "life insurance")
}

func TestEvaluate_CompleteProfilePasses(t *testing.T) {
	got := Evaluate(completeUser())

	assert.False(t, got.HasCriticalGaps)
	assert.Empty(t, got.MissingFields)
	assert.Empty(t, got.ClarifyingQuestions)
}

func TestProfileCompleteness(t *testing.T) {
	assert.Equal(t, 100, ProfileCompleteness(completeUser()).Score)

	empty := ProfileCompleteness(models.User{})
	assert.Equal(t, 0, empty.Score)
	assert.Equal(t, 12, empty.TotalFields)
	assert.Equal(t, FieldAge, empty.Missing[0])

	u := completeUser()
	u.Profile.TaxDetails.PAN = ""
	u.Profile.Assets.RealEstate = 0
	// 10 of 12 -> 83.3
	assert.Equal(t, 83, ProfileCompleteness(u).Score)
}
