package services

import (
	"context"
	"testing"
	"time"

	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/repository"
	"finadvisor/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*AdvisoryService, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	return NewAdvisoryService(store, analysis.NewEngine(), 180*24*time.Hour), store
}

func TestAnalyzeProfile(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	_, err := store.EnsureUser(ctx, "u1", "u1@example.com", "")
	require.NoError(t, err)
	age, burn, income, emp := 35, 50000.0, 150000.0, models.EmploymentSalaried
	require.NoError(t, store.ApplyProfilePatch(ctx, "u1", models.ProfilePatch{
		Age: &age, MonthlyBurnRate: &burn, MonthlyIncome: &income, EmploymentType: &emp,
	}))

	res, err := svc.AnalyzeProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 150000.0, res.Snapshot.Income.Monthly)
	assert.Equal(t, 50000.0, res.Snapshot.Expenses.Monthly)
	assert.Equal(t, 35, res.Snapshot.Assumptions.Age)
	assert.Equal(t, 12, res.Completeness.TotalFields)
	assert.Greater(t, res.Completeness.Score, 0)
}

func TestAnalyzeProfile_UnknownUser(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.AnalyzeProfile(context.Background(), "ghost")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCompareTaxRegimes(t *testing.T) {
	svc, _ := newService(t)

	cmp, err := svc.CompareTaxRegimes(1200000, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaxRegimeNew, cmp.Recommended)
	assert.InDelta(t, cmp.Old.TotalTax-cmp.New.TotalTax, cmp.Savings, 0.01)

	zero := 0.0
	withNone, err := svc.CompareTaxRegimes(1200000, &zero)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, withNone.Old.TotalTax, cmp.Old.TotalTax)

	_, err = svc.CompareTaxRegimes(-1, nil)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	neg := -5.0
	_, err = svc.CompareTaxRegimes(100, &neg)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestProfileGaps(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	_, err := store.EnsureUser(ctx, "u1", "u1@example.com", "")
	require.NoError(t, err)

	gaps, err := svc.ProfileGaps(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, gaps.Gate.HasCriticalGaps)
	assert.Equal(t, []analysis.Field{analysis.FieldAge, analysis.FieldMonthlyExpenses, analysis.FieldEmploymentType}, gaps.Gate.MissingFields)
	assert.Len(t, gaps.Gate.ClarifyingQuestions, analysis.MaxClarifyingQuestions)
	assert.Equal(t, 0, gaps.Completeness.Score)
}
