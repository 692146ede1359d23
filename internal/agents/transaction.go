package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/internal/money"
	"finadvisor/backend/pkg/models"

	"github.com/google/uuid"
)

// Ledger is the slice of the store the transaction agent writes to.
type Ledger interface {
	RecordTransaction(ctx context.Context, txn models.Transaction) (bool, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
}

const (
	intentLogTransaction = "log_transaction"
	intentGetBalance     = "get_balance"

	transactionSource = "chat"
)

// Clarifications returned when a message cannot be turned into a record.
const (
	ErrUnparsedTransaction = "Could not parse transaction"
	ClarifyTransaction     = "Please specify: type (income/expense), amount, category, and date."
)

var transactionNamespace = uuid.MustParse("6f1c1e4e-8a0b-4f57-9a43-5d2f0b8c7e21")

var transactionSchema = llm.MustCompileSchema("transaction.json", `{
  "$defs": {
    "txn": {
      "type": "object",
      "required": ["type", "amount"],
      "properties": {
        "type": {"enum": ["income", "expense", "savings"]},
        "amount": {"type": "number", "exclusiveMinimum": 0},
        "category": {"type": ["string", "null"]},
        "date": {"type": ["string", "null"]},
        "description": {"type": ["string", "null"]}
      }
    }
  },
  "type": "object",
  "required": ["intent"],
  "properties": {
    "intent": {"enum": ["log_transaction", "get_balance"]},
    "transactions": {"type": "array", "items": {"$ref": "#/$defs/txn"}},
    "transaction": {"$ref": "#/$defs/txn"}
  }
}`)

type parsedTxn struct {
	Type        models.TransactionType `json:"type"`
	Amount      float64                `json:"amount"`
	Category    *string                `json:"category"`
	Date        *string                `json:"date"`
	Description *string                `json:"description"`
}

type parsedLedgerRequest struct {
	Intent       string      `json:"intent"`
	Transactions []parsedTxn `json:"transactions"`
	Transaction  *parsedTxn  `json:"transaction"`
}

// TransactionAgent records income, expenses and savings stated in a message
// and answers balance queries. Transaction ids derive from the run key and
// the position in the message, so replaying an invocation never
// double-books.
type TransactionAgent struct {
	client llm.Client
	ledger Ledger
	now    func() time.Time
}

func NewTransactionAgent(client llm.Client, ledger Ledger) *TransactionAgent {
	return &TransactionAgent{client: client, ledger: ledger, now: time.Now}
}

func (a *TransactionAgent) Kind() models.AgentKind { return models.AgentTransactionTracking }

func (a *TransactionAgent) Handle(ctx context.Context, in models.AgentInput) (models.AgentOutput, error) {
	today := a.now().UTC()
	prompt := fmt.Sprintf(`Extract transaction details from this message: %q

Today is %s. Amounts are in Indian rupees.
If the user is asking for their balance, return {"intent": "get_balance"}.
Otherwise return:
{"intent": "log_transaction", "transactions": [{"type": "income|expense|savings", "amount": number, "category": "string", "date": "YYYY-MM-DD", "description": "string"}]}
List every transaction mentioned, in the order they appear.`, in.Message, today.Format(time.DateOnly))

	var req parsedLedgerRequest
	err := llm.CompleteJSON(ctx, a.client, llm.Request{
		System:      "You extract structured bookkeeping records. Return only JSON.",
		Prompt:      prompt,
		Temperature: 0,
	}, transactionSchema, &req)
	if err != nil {
		if c := apperr.CodeOf(err); c == apperr.CodeValidation || c == apperr.CodeExtractionParse {
			return unparsed(), nil
		}
		return models.AgentOutput{}, err
	}

	if req.Intent == intentGetBalance {
		u, err := a.ledger.GetUser(ctx, in.UserID)
		if err != nil {
			return models.AgentOutput{}, fmt.Errorf("failed to read balance: %w", err)
		}
		return models.AgentOutput{
			Agent:    a.Kind(),
			Response: "Your current balance is " + money.INR(u.Profile.Balance) + ".",
			Facts:    map[string]any{"balance": u.Profile.Balance},
		}, nil
	}

	parsed := req.Transactions
	if len(parsed) == 0 && req.Transaction != nil {
		parsed = []parsedTxn{*req.Transaction}
	}
	if len(parsed) == 0 {
		return unparsed(), nil
	}

	out := models.AgentOutput{Agent: a.Kind(), Facts: map[string]any{}}
	var lines []string
	for i, p := range parsed {
		txn := a.build(in, i, p, today)
		inserted, err := a.ledger.RecordTransaction(ctx, txn)
		if err != nil {
			return models.AgentOutput{}, fmt.Errorf("failed to record transaction %d: %w", i, err)
		}
		out.Transactions = append(out.Transactions, txn)
		out.Facts["amount"+strconv.Itoa(i)] = txn.Amount
		verb := "Recorded"
		if !inserted {
			verb = "Already recorded"
		}
		lines = append(lines, fmt.Sprintf("%s %s of %s (%s) on %s.",
			verb, article(txn.Type), money.INR(txn.Amount), txn.Category, txn.Date.Format("2 Jan 2006")))
	}

	u, err := a.ledger.GetUser(ctx, in.UserID)
	if err != nil {
		return models.AgentOutput{}, fmt.Errorf("failed to read balance: %w", err)
	}
	out.Facts["balance"] = u.Profile.Balance
	lines = append(lines, "Current balance: "+money.INR(u.Profile.Balance)+".")
	out.Response = strings.Join(lines, " ")
	return out, nil
}

func (a *TransactionAgent) build(in models.AgentInput, i int, p parsedTxn, today time.Time) models.Transaction {
	category := "other"
	if p.Category != nil && strings.TrimSpace(*p.Category) != "" {
		category = strings.ToLower(strings.TrimSpace(*p.Category))
	}
	date := today.Truncate(24 * time.Hour)
	if p.Date != nil {
		if d, err := time.Parse(time.DateOnly, strings.TrimSpace(*p.Date)); err == nil {
			date = d
		}
	}
	var desc string
	if p.Description != nil {
		desc = *p.Description
	}
	return models.Transaction{
		TransactionID: transactionID(in.RunKey, i),
		UserID:        in.UserID,
		Type:          p.Type,
		Amount:        p.Amount,
		Category:      category,
		Date:          date,
		Description:   desc,
		Source:        transactionSource,
		CreatedAt:     today,
	}
}

func transactionID(runKey string, i int) string {
	return uuid.NewSHA1(transactionNamespace, []byte(runKey+":"+strconv.Itoa(i))).String()
}

func article(t models.TransactionType) string {
	if t == models.TransactionIncome || t == models.TransactionExpense {
		return "an " + string(t)
	}
	return string(t)
}

func unparsed() models.AgentOutput {
	return models.AgentOutput{
		Agent:         models.AgentTransactionTracking,
		Error:         ErrUnparsedTransaction,
		Clarification: ClarifyTransaction,
	}
}
