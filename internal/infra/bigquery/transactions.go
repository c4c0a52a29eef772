package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/shopspring/decimal"
)

// numericScale is the number of fractional digits a BigQuery NUMERIC keeps.
const numericScale = 9

// TransactionRow is one row of the transactions table.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED

	Type        string   `bigquery:"type"`          // REQUIRED: income | expense | investment
	Amount      *big.Rat `bigquery:"amount"`        // REQUIRED NUMERIC
	Currency    string   `bigquery:"currency"`      // REQUIRED ISO 4217
	Category    string   `bigquery:"category_name"` // REQUIRED
	Description string   `bigquery:"description"`   // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	CreatedTS time.Time `bigquery:"created_ts"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

// toRow maps a domain transaction onto a table row owned by userID.
func toRow(userID string, tx domain.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionID:   tx.ID,
		UserID:          userID,
		Type:            string(tx.Type),
		Amount:          tx.Amount.Rat(),
		Currency:        tx.Currency,
		Category:        tx.Category,
		Description:     tx.Description,
		TransactionDate: tx.Date,
		CreatedTS:       tx.CreatedAt.UTC(),
		UpdatedTS:       tx.UpdatedAt.UTC(),
	}
}

// toDomain maps a table row back onto a domain transaction.
func (r *TransactionRow) toDomain() domain.Transaction {
	amount := decimal.Zero
	if r.Amount != nil {
		if d, err := decimal.NewFromString(r.Amount.FloatString(numericScale)); err == nil {
			amount = d
		}
	}
	return domain.Transaction{
		ID:          r.TransactionID,
		Type:        domain.TransactionType(r.Type),
		Amount:      amount,
		Currency:    r.Currency,
		Category:    r.Category,
		Description: r.Description,
		Date:        r.TransactionDate,
		CreatedAt:   r.CreatedTS.UTC(),
		UpdatedAt:   r.UpdatedTS.UTC(),
	}
}
