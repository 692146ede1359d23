// Package services exposes the deterministic advisory computations outside
// the chat pipeline, for the MCP tools and the seed command.
package services

import (
	"context"
	"fmt"
	"time"

	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/finmath"
	"finadvisor/backend/pkg/models"
)

// ProfileReader is the read side of the profile store.
type ProfileReader interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListTransactions(ctx context.Context, userID string, since time.Time) ([]models.Transaction, error)
}

// AdvisoryService runs the analysis engine against stored profiles.
type AdvisoryService struct {
	store  ProfileReader
	engine *analysis.Engine
	window time.Duration
	now    func() time.Time
}

// NewAdvisoryService creates an AdvisoryService. window bounds how much
// transaction history feeds the income analysis.
func NewAdvisoryService(store ProfileReader, engine *analysis.Engine, window time.Duration) *AdvisoryService {
	return &AdvisoryService{store: store, engine: engine, window: window, now: time.Now}
}

// ProfileAnalysis is a snapshot plus how much of it rests on real data.
type ProfileAnalysis struct {
	Snapshot     analysis.Snapshot     `json:"snapshot"`
	Completeness analysis.Completeness `json:"completeness"`
}

// AnalyzeProfile computes the user's financial snapshot.
func (s *AdvisoryService) AnalyzeProfile(ctx context.Context, userID string) (ProfileAnalysis, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return ProfileAnalysis{}, fmt.Errorf("failed to load user: %w", err)
	}
	txns, err := s.store.ListTransactions(ctx, userID, s.now().Add(-s.window))
	if err != nil {
		return ProfileAnalysis{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	return ProfileAnalysis{
		Snapshot:     s.engine.Analyze(user, txns),
		Completeness: analysis.ProfileCompleteness(user),
	}, nil
}

// CompareTaxRegimes compares the old and new regimes for an annual income.
// A nil deductions uses the configured default for the old regime.
func (s *AdvisoryService) CompareTaxRegimes(annualIncome float64, deductions *float64) (finmath.TaxComparison, error) {
	if annualIncome < 0 {
		return finmath.TaxComparison{}, apperr.New(apperr.CodeValidation, "annual income must not be negative")
	}
	d := s.engine.Defaults().OldRegimeDeductions
	if deductions != nil {
		if *deductions < 0 {
			return finmath.TaxComparison{}, apperr.New(apperr.CodeValidation, "deductions must not be negative")
		}
		d = *deductions
	}
	return finmath.CompareTaxRegimes(annualIncome, d, s.engine.TaxConfig()), nil
}

// ProfileGaps is what the advisor would still ask the user.
type ProfileGaps struct {
	Gate         analysis.GateResult   `json:"gate"`
	Completeness analysis.Completeness `json:"completeness"`
}

// ProfileGaps evaluates the completeness gate for the user.
func (s *AdvisoryService) ProfileGaps(ctx context.Context, userID string) (ProfileGaps, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return ProfileGaps{}, fmt.Errorf("failed to load user: %w", err)
	}
	return ProfileGaps{
		Gate:         analysis.Evaluate(user),
		Completeness: analysis.ProfileCompleteness(user),
	}, nil
}
