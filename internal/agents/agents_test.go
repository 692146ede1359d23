package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/knowledge"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/internal/repository"
	"finadvisor/backend/pkg/models"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCorpus = `
domains:
  tax_rules:
    - id: tax-80c
      title: Section 80C deductions
      text: Investments in PPF, ELSS and life insurance premiums are deductible up to 1.5 lakh under the old regime.
  financial_literacy:
    - id: lit-budget
      title: Budgeting basics
      text: Track every expense and review your budget monthly.
`

var fixedNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func reply(text string) llm.Client {
	return llm.Func(func(ctx context.Context, req llm.Request) (string, error) { return text, nil })
}

func newStore(t *testing.T, userID string) *repository.Memory {
	t.Helper()
	store := repository.NewMemory()
	_, err := store.EnsureUser(context.Background(), userID, userID+"@example.com", "Test User")
	require.NoError(t, err)
	return store
}

func loadCorpus(t *testing.T) *knowledge.Corpus {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/corpus.yaml", []byte(testCorpus), 0o644))
	c, err := knowledge.LoadCorpus(fs, "/corpus.yaml")
	require.NoError(t, err)
	return c
}

func TestTransactionAgent_RecordsExpense(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "u1")
	a := NewTransactionAgent(reply(`{"intent":"log_transaction","transactions":[{"type":"expense","amount":500,"category":"Groceries"}]}`), store)
	a.now = func() time.Time { return fixedNow }

	in := models.AgentInput{UserID: "u1", RunKey: "chat.message.received:m1", Message: "I spent 500 on groceries"}
	out, err := a.Handle(ctx, in)
	require.NoError(t, err)
	assert.False(t, out.Failed())
	require.Len(t, out.Transactions, 1)

	txn := out.Transactions[0]
	assert.Equal(t, models.TransactionExpense, txn.Type)
	assert.Equal(t, 500.0, txn.Amount)
	assert.Equal(t, "groceries", txn.Category)
	assert.Equal(t, "chat", txn.Source)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), txn.Date)
	assert.Contains(t, out.Response, "Recorded an expense of ₹500 (groceries)")
	assert.Contains(t, out.Response, "Current balance: -₹500.")

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, -500.0, u.Profile.Balance)

	// A replayed invocation for the same run derives the same id.
	out, err = a.Handle(ctx, in)
	require.NoError(t, err)
	assert.Contains(t, out.Response, "Already recorded")
	txns, err := store.ListTransactions(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	u, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, -500.0, u.Profile.Balance)
}

func TestTransactionAgent_MultipleAndSingular(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "u1")

	a := NewTransactionAgent(reply(`{"intent":"log_transaction","transactions":[
		{"type":"income","amount":40000,"category":"salary","date":"2026-10-01"},
		{"type":"savings","amount":5000,"category":"ppf"}]}`), store)
	out, err := a.Handle(ctx, models.AgentInput{UserID: "u1", RunKey: "k1", Message: "got salary 40k, put 5k in PPF"})
	require.NoError(t, err)
	require.Len(t, out.Transactions, 2)
	assert.NotEqual(t, out.Transactions[0].TransactionID, out.Transactions[1].TransactionID)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), out.Transactions[0].Date)

	a = NewTransactionAgent(reply(`{"intent":"log_transaction","transaction":{"type":"expense","amount":1200}}`), store)
	out, err = a.Handle(ctx, models.AgentInput{UserID: "u1", RunKey: "k2", Message: "paid 1200"})
	require.NoError(t, err)
	require.Len(t, out.Transactions, 1)
	assert.Equal(t, "other", out.Transactions[0].Category)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 38800.0, u.Profile.Balance)
}

func TestTransactionAgent_Balance(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "u1")
	_, err := store.RecordTransaction(ctx, models.Transaction{
		TransactionID: "t0", UserID: "u1", Type: models.TransactionIncome, Amount: 150000, Date: fixedNow,
	})
	require.NoError(t, err)

	a := NewTransactionAgent(reply(`{"intent":"get_balance"}`), store)
	out, err := a.Handle(ctx, models.AgentInput{UserID: "u1", RunKey: "k", Message: "what's my balance?"})
	require.NoError(t, err)
	assert.Equal(t, "Your current balance is ₹1,50,000.", out.Response)
	assert.Empty(t, out.Transactions)
}

func TestTransactionAgent_Unparsed(t *testing.T) {
	store := newStore(t, "u1")
	for name, text := range map[string]string{
		"no json":        "I could not understand that.",
		"negative":       `{"intent":"log_transaction","transactions":[{"type":"expense","amount":-5}]}`,
		"unknown type":   `{"intent":"log_transaction","transactions":[{"type":"refund","amount":5}]}`,
		"no transaction": `{"intent":"log_transaction","transactions":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			a := NewTransactionAgent(reply(text), store)
			out, err := a.Handle(context.Background(), models.AgentInput{UserID: "u1", RunKey: "k", Message: "hmm"})
			require.NoError(t, err)
			assert.True(t, out.Failed())
			assert.Equal(t, ErrUnparsedTransaction, out.Error)
			assert.Equal(t, ClarifyTransaction, out.Clarification)
		})
	}
}

func TestTransactionAgent_ModelErrorPropagates(t *testing.T) {
	boom := apperr.Transient(errors.New("503"))
	a := NewTransactionAgent(llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		return "", boom
	}), newStore(t, "u1"))
	_, err := a.Handle(context.Background(), models.AgentInput{UserID: "u1", RunKey: "k", Message: "spent 10"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestGoalAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("complete goal is stored", func(t *testing.T) {
		store := newStore(t, "u1")
		a := NewGoalAgent(reply(`{"name":"Car","targetAmount":500000,"timeHorizonMonths":36,"priority":"high"}`), store)
		out, err := a.Handle(ctx, models.AgentInput{UserID: "u1", RunKey: "k", Message: "save 5 lakh for a car in 3 years"})
		require.NoError(t, err)
		require.NotNil(t, out.Goal)
		assert.Equal(t, 13889.0, out.Goal.MonthlyRequired)
		assert.Contains(t, out.Response, "₹5,00,000 in 36 months")

		_, err = a.Handle(ctx, models.AgentInput{UserID: "u1", RunKey: "k", Message: "save 5 lakh for a car in 3 years"})
		require.NoError(t, err)
		u, err := store.GetUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, u.Goals, 1)
		assert.Equal(t, "high", u.Goals[0].Priority)
	})

	t.Run("missing fields ask for clarification", func(t *testing.T) {
		store := newStore(t, "u1")
		a := NewGoalAgent(reply(`{"name":"House","targetAmount":null,"timeHorizonMonths":null}`), store)
		out, err := a.Handle(ctx, models.AgentInput{UserID: "u1", RunKey: "k", Message: "I want a house"})
		require.NoError(t, err)
		assert.True(t, out.Failed())
		assert.Contains(t, out.Clarification, "target amount, time frame")
		u, err := store.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, u.Goals)
	})
}

func TestKnowledgeAgent_GroundsNumbers(t *testing.T) {
	var prompt string
	client := llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		return "You can claim up to 1.5 lakh under 80C. That would save you exactly 77,777 this year. Consider ELSS funds.", nil
	})
	a := NewKnowledgeAgent(models.AgentTaxITR, knowledge.DomainTax, "Explain deductions.", loadCorpus(t), client,
		WithFacts(func(in models.AgentInput) map[string]any { return map[string]any{"newRegimeTax": 75400.0} }))

	out, err := a.Handle(context.Background(), models.AgentInput{UserID: "u1", Message: "How much can I save with 80C deductions?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tax-80c"}, out.Sources)
	assert.Contains(t, out.Response, "1.5 lakh")
	assert.Contains(t, out.Response, "Consider ELSS funds.")
	assert.NotContains(t, out.Response, "77,777")
	assert.Contains(t, prompt, `"newRegimeTax": 75400`)
	assert.Contains(t, prompt, "[tax-80c]")
}

func TestKnowledgeAgent_SearchFailure(t *testing.T) {
	a := NewKnowledgeAgent(models.AgentGeneralQA, knowledge.DomainGeneral, "", failingSource{}, reply("unused"))
	_, err := a.Handle(context.Background(), models.AgentInput{Message: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

type failingSource struct{}

func (failingSource) Search(ctx context.Context, domain, query string, topK int) ([]knowledge.Match, error) {
	return nil, apperr.Transient(errors.New("vector store down"))
}

func TestStandard_TaxFactsAreComputed(t *testing.T) {
	store := newStore(t, "u1")
	reg := Standard(Deps{LLM: reply("The new regime is cheaper for you."), Knowledge: loadCorpus(t), Store: store, Engine: analysis.NewEngine()})
	assert.Equal(t, models.AgentKinds, reg.Kinds())

	tax, ok := reg.Get(models.AgentTaxITR)
	require.True(t, ok)
	user := models.User{UserID: "u1", Age: 32, Profile: models.Profile{MonthlyIncome: 100000, MonthlyBurnRate: 40000}}
	out, err := tax.Handle(context.Background(), models.AgentInput{UserID: "u1", Message: "Which regime?", Profile: user})
	require.NoError(t, err)
	assert.Equal(t, 1200000.0, out.Facts["annualIncome"])
	assert.Equal(t, "new", out.Facts["recommendedRegime"])
	assert.True(t, strings.HasPrefix(out.Response, "The new regime"))
}

func TestStandard_TaxFactsUseAttachedSnapshot(t *testing.T) {
	store := newStore(t, "u1")
	eng := analysis.NewEngine()
	reg := Standard(Deps{LLM: reply("Compare both regimes."), Knowledge: loadCorpus(t), Store: store, Engine: eng})
	tax, ok := reg.Get(models.AgentTaxITR)
	require.True(t, ok)

	user := models.User{UserID: "u1", Age: 35, Profile: models.Profile{MonthlyBurnRate: 60000, EmploymentType: models.EmploymentSalaried}}
	now := time.Now()
	var txns []models.Transaction
	for i := 0; i < 3; i++ {
		txns = append(txns, models.Transaction{Type: models.TransactionIncome, Amount: 150000, Date: now.Add(-time.Duration(i) * 31 * 24 * time.Hour)})
	}
	snap := eng.Analyze(user, txns)
	in, err := AttachSnapshot(models.AgentInput{UserID: "u1", Message: "Which regime?", Profile: user}, snap)
	require.NoError(t, err)

	out, err := tax.Handle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1800000.0, out.Facts["annualIncome"])
	assert.Equal(t, snap.Tax.New.TotalTax, out.Facts["newRegimeTax"])
	assert.Equal(t, snap.Tax.Old.TotalTax, out.Facts["oldRegimeTax"])
}
