package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/dvloznov/finance-backup/internal/domain"
)

// projection is the subset of a transaction that contributes to the checksum.
// Field order is fixed by the struct, which keeps the encoding stable.
type projection struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Date        string `json:"date"`
	CreatedAt   string `json:"createdAt"`

	created time.Time
	key     string
}

// Checksum returns the lowercase hex SHA-256 of txs. The result does not
// depend on input order: rows are sorted by creation time (then ID and
// content) before hashing.
func Checksum(txs []domain.Transaction) string {
	rows := make([]projection, len(txs))
	for i, tx := range txs {
		rows[i] = projection{
			ID:          tx.ID,
			Type:        string(tx.Type),
			Amount:      tx.Amount.String(),
			Currency:    tx.Currency,
			Category:    tx.Category,
			Description: tx.Description,
			Date:        tx.Date.String(),
			CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339Nano),
			created:     tx.CreatedAt,
			key:         tx.ContentKey().String(),
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.key < b.key
	})

	// Marshalling a slice of flat string structs cannot fail.
	data, _ := json.Marshal(rows)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DateRange returns the earliest and latest valid dates in txs, or nil when
// there are none.
func DateRange(txs []domain.Transaction) *domain.DateRange {
	var r *domain.DateRange
	for _, tx := range txs {
		if !tx.Date.IsValid() {
			continue
		}
		if r == nil {
			r = &domain.DateRange{Min: tx.Date, Max: tx.Date}
			continue
		}
		if tx.Date.Before(r.Min) {
			r.Min = tx.Date
		}
		if tx.Date.After(r.Max) {
			r.Max = tx.Date
		}
	}
	return r
}
