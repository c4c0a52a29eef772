package domain

import (
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TypeIncome     TransactionType = "income"
	TypeExpense    TransactionType = "expense"
	TypeInvestment TransactionType = "investment"
)

// CategoryOther is the catch-all category which requires a longer description.
const CategoryOther = "other"

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeInvestment:
		return true
	}
	return false
}

// Transaction is one ledger record. ID, CreatedAt and UpdatedAt are assigned
// by the store; everything else is business content.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type" validate:"required,oneof=income expense investment"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required,len=3,uppercase"`
	Category    string          `json:"category" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Date        civil.Date      `json:"date"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// MarshalJSON writes the amount as a bare JSON number so exported files stay
// readable by clients that expect numeric amounts.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	return json.Marshal(&struct {
		Amount json.Number `json:"amount"`
		*Alias
	}{
		Amount: json.Number(t.Amount.String()),
		Alias:  (*Alias)(&t),
	})
}

// ContentKey identifies a transaction by its business fields only. Two
// transactions with equal keys are duplicates regardless of ID.
type ContentKey struct {
	Type        TransactionType
	Amount      string
	Currency    string
	Category    string
	Description string
	Date        string
}

// ContentKey returns the duplicate-detection key of t. The amount is rendered
// canonically so 10, 10.0 and 10.00 compare equal.
func (t Transaction) ContentKey() ContentKey {
	return ContentKey{
		Type:        t.Type,
		Amount:      t.Amount.String(),
		Currency:    t.Currency,
		Category:    t.Category,
		Description: t.Description,
		Date:        t.Date.String(),
	}
}

func (k ContentKey) String() string {
	return strings.Join([]string{string(k.Type), k.Amount, k.Currency, k.Category, k.Description, k.Date}, "|")
}
