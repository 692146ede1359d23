package models

import "time"

// TransactionType is the direction of a money movement.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
	TransactionSavings TransactionType = "savings"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionIncome || t == TransactionExpense || t == TransactionSavings
}

// BalanceDelta is the signed effect of a transaction of this type on the
// cached running balance. Savings move money between buckets and leave the
// balance unchanged.
func (t TransactionType) BalanceDelta(amount float64) float64 {
	switch t {
	case TransactionIncome:
		return amount
	case TransactionExpense:
		return -amount
	}
	return 0
}

// Transaction is immutable once created.
type Transaction struct {
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	Type          TransactionType `json:"type"`
	Amount        float64         `json:"amount"`
	Category      string          `json:"category"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description,omitempty"`
	Source        string          `json:"source"`
	CreatedAt     time.Time       `json:"createdAt"`
}
