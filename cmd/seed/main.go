package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/config"
	"finadvisor/backend/internal/knowledge"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/internal/repository"
	"finadvisor/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// seedNamespace keeps seeded transaction ids stable across runs.
var seedNamespace = uuid.MustParse("5f1b8e2c-9a43-4c52-8f0e-6f1d2b7a9c31")

func main() {
	var (
		envFile    string
		userID     string
		email      string
		corpusOnly bool
	)
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Validate the knowledge corpus and create a demo user with a complete profile",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(envFile)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
			ctx := cmd.Context()

			if err := validateCorpus(cfg, logger); err != nil {
				return err
			}
			if corpusOnly {
				return nil
			}
			if cfg.Store != "postgres" {
				return fmt.Errorf("seeding needs store=postgres, got %q", cfg.Store)
			}

			pool, err := repository.Connect(ctx, cfg.DB.DSN(), 2)
			if err != nil {
				return err
			}
			defer pool.Close()
			if _, err := repository.Migrate(ctx, pool); err != nil {
				return err
			}
			return seedUser(ctx, repository.NewPostgres(pool), userID, email, logger)
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Path to .env file")
	cmd.Flags().StringVar(&userID, "user", "demo-user", "User id (the OIDC subject) to seed")
	cmd.Flags().StringVar(&email, "email", "demo@example.com", "Email of the seeded user")
	cmd.Flags().BoolVar(&corpusOnly, "corpus-only", false, "Only validate the knowledge corpus")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func validateCorpus(cfg *config.Config, logger *logging.Logger) error {
	if cfg.Knowledge.Source != "corpus" {
		logger.Info("Skipping corpus validation", "source", cfg.Knowledge.Source)
		return nil
	}
	corpus, err := knowledge.LoadCorpus(afero.NewOsFs(), cfg.Knowledge.CorpusPath)
	if err != nil {
		return err
	}
	sizes := corpus.Size()
	for _, domain := range []string{
		knowledge.DomainTax, knowledge.DomainInvestment, knowledge.DomainRetirement,
		knowledge.DomainSchemes, knowledge.DomainGeneral,
	} {
		if sizes[domain] == 0 {
			return fmt.Errorf("corpus %s has no entries for domain %s", cfg.Knowledge.CorpusPath, domain)
		}
	}
	logger.Info("Corpus valid", "path", cfg.Knowledge.CorpusPath, "domains", sizes)
	return nil
}

func seedUser(ctx context.Context, store repository.Store, userID, email string, logger *logging.Logger) error {
	if _, err := store.EnsureUser(ctx, userID, email, "Demo User"); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	age, dependents := 32, 2
	employment, regime := models.EmploymentSalaried, models.TaxRegimeNew
	income, burn := 120000.0, 55000.0
	emergency, mutualFunds, fds := 150000.0, 400000.0, 200000.0
	life, health := 5000000.0, 500000.0
	pan := "ABCDE1234F"
	patch := models.ProfilePatch{
		Age:             &age,
		EmploymentType:  &employment,
		MonthlyIncome:   &income,
		MonthlyBurnRate: &burn,
		Dependents:      &dependents,
		EmergencyFund:   &emergency,
		MutualFunds:     &mutualFunds,
		FixedDeposits:   &fds,
		LifeCover:       &life,
		HealthCover:     &health,
		TaxRegime:       &regime,
		PAN:             &pan,
		Liabilities: []models.Liability{
			{Type: "car", Outstanding: 350000, InterestRate: 9.5, MonthlyEMI: 11000},
		},
	}
	if err := store.ApplyProfilePatch(ctx, userID, patch); err != nil {
		return fmt.Errorf("failed to apply profile: %w", err)
	}

	now := time.Now().UTC()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	salaries := []float64{118000, 120000, 124000}
	for i, amount := range salaries {
		date := month.AddDate(0, i-len(salaries)+1, 0)
		txn := models.Transaction{
			TransactionID: uuid.NewSHA1(seedNamespace, []byte(fmt.Sprintf("%s:salary:%d", userID, i))).String(),
			UserID:        userID,
			Type:          models.TransactionIncome,
			Amount:        amount,
			Category:      "salary",
			Date:          date,
			Source:        "seed",
		}
		inserted, err := store.RecordTransaction(ctx, txn)
		if err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}
		if !inserted {
			logger.Info("Skipping existing transaction", "id", txn.TransactionID)
		}
	}

	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	c := analysis.ProfileCompleteness(user)
	logger.Info("Seeding complete!", "user_id", userID, "completeness", c.Score, "missing", c.Missing)
	return nil
}
