package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Validated(t *testing.T) {
	out := `{"age": 28, "employmentType": "gig", "monthlyIncome": 80000, "monthlyExpenses": 40000,
		"assets": {"emergencyFund": 100000, "stocks": null}, "insurance": {"lifeInsuranceCover": 500000},
		"taxDetails": {"regime": null, "pan": null}, "liabilities": null}`

	r := Parse(out)
	require.Equal(t, KindValidated, r.Kind)
	assert.Empty(t, r.Issues)

	p := r.Patch()
	require.NotNil(t, p.Age)
	assert.Equal(t, 28, *p.Age)
	assert.Equal(t, models.EmploymentGig, *p.EmploymentType)
	assert.Equal(t, 40000.0, *p.MonthlyBurnRate)
	assert.Equal(t, 100000.0, *p.EmergencyFund)
	assert.Equal(t, 500000.0, *p.LifeCover)
	assert.Nil(t, p.Stocks)
	assert.Nil(t, p.TaxRegime)
	assert.Nil(t, p.Liabilities)
}

func TestParse_RecoversEmbeddedJSON(t *testing.T) {
	r := Parse("Sure, here is the data you asked for: {\"monthlyExpenses\": 35000} Let me know!")
	require.Equal(t, KindValidated, r.Kind)
	p := r.Patch()
	require.NotNil(t, p.MonthlyBurnRate)
	assert.Equal(t, 35000.0, *p.MonthlyBurnRate)
}

func TestParse_NoJSONGivesEmptyExtraction(t *testing.T) {
	r := Parse("I'm not sure what you mean.")
	assert.Equal(t, KindValidated, r.Kind)
	assert.True(t, r.Patch().Empty())
	assert.NotEmpty(t, r.Issues)
}

func TestParse_DropsInvalidFields(t *testing.T) {
	r := Parse(`{"age": -4, "employmentType": "astronaut", "monthlyExpenses": 30000, "taxDetails": {"pan": "not-a-pan"}}`)

	require.Equal(t, KindValidated, r.Kind)
	assert.Equal(t, []string{"age", "employmentType", "taxDetails"}, r.Dropped)
	assert.NotEmpty(t, r.Issues)
	p := r.Patch()
	assert.Nil(t, p.Age)
	assert.Nil(t, p.EmploymentType)
	assert.Nil(t, p.PAN)
	assert.Equal(t, 30000.0, *p.MonthlyBurnRate)
}

func TestPatch_ZeroExpensesLeaveBurnRateAlone(t *testing.T) {
	r := Parse(`{"monthlyExpenses": 0, "liabilities": [{"type": "car loan", "outstandingAmount": 500000, "interestRate": 9, "monthlyEmi": 11000}]}`)
	require.Equal(t, KindValidated, r.Kind)

	p := r.Patch()
	assert.Nil(t, p.MonthlyBurnRate)
	require.Len(t, p.Liabilities, 1)

	u := models.User{Profile: models.Profile{
		MonthlyBurnRate: 40000,
		Liabilities:     []models.Liability{{Type: "home loan", Outstanding: 3000000, InterestRate: 8.5, MonthlyEMI: 26000}},
	}}
	p.ApplyTo(&u)
	assert.Equal(t, 40000.0, u.Profile.MonthlyBurnRate)
	assert.Equal(t, []string{"home loan", "car loan"}, []string{u.Profile.Liabilities[0].Type, u.Profile.Liabilities[1].Type})
}

func TestParse_DropsWrongTypedGroup(t *testing.T) {
	r := Parse(`{"assets": [1, 2]} and also {`)

	assert.Equal(t, KindValidated, r.Kind)
	assert.Equal(t, []string{"assets"}, r.Dropped)
	assert.True(t, r.Patch().Empty())
}

func TestResult_ValidationErrorPatchIsEmpty(t *testing.T) {
	r := Result{Kind: KindValidationError, Issues: []string{"bad"}}
	_, ok := r.Validated()
	assert.False(t, ok)
	assert.True(t, r.Patch().Empty())
}

func TestExtractor_Extract(t *testing.T) {
	var prompt string
	client := llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		assert.True(t, req.JSON)
		return `{"age": 41, "dependents": 3}`, nil
	})

	r, err := NewExtractor(client).Extract(context.Background(), "I'm 41 with 3 kids")
	require.NoError(t, err)
	assert.True(t, strings.Contains(prompt, "I'm 41 with 3 kids"))
	p := r.Patch()
	assert.Equal(t, 41, *p.Age)
	assert.Equal(t, 3, *p.Dependents)
}

func TestExtractor_PropagatesModelErrors(t *testing.T) {
	client := llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		return "", apperr.Transient(errors.New("503"))
	})
	_, err := NewExtractor(client).Extract(context.Background(), "hi")
	assert.True(t, apperr.IsTransient(err))
}
