package mongodb

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func sampleTx() domain.Transaction {
	created := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	return domain.Transaction{
		ID:          "tx-1",
		Type:        domain.TypeIncome,
		Amount:      decimal.RequireFromString("1250.75"),
		Currency:    "GBP",
		Category:    "salary",
		Description: "May salary",
		Date:        civil.Date{Year: 2024, Month: 5, Day: 1},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestDocumentMapping(t *testing.T) {
	tx := sampleTx()

	doc, err := toDocument("user-1", tx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", doc.UserID)
	assert.Equal(t, "2024-05-01", doc.Date)
	assert.Equal(t, "1250.75", doc.Amount.String())

	// The stored document survives a BSON round trip.
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded document
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	back, err := decoded.toDomain()
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(back.Amount))
	assert.Equal(t, tx.ID, back.ID)
	assert.Equal(t, tx.Date, back.Date)
	assert.True(t, tx.CreatedAt.Equal(back.CreatedAt))
}

func TestDocumentMapping_BadDateBecomesZero(t *testing.T) {
	doc, err := toDocument("u", sampleTx())
	require.NoError(t, err)
	doc.Date = "not-a-date"

	tx, err := doc.toDomain()
	require.NoError(t, err)
	assert.False(t, tx.Date.IsValid())
}

func TestContentFilter(t *testing.T) {
	since := time.Date(2024, 5, 10, 7, 55, 0, 0, time.UTC)
	filter, err := contentFilter("user-1", sampleTx().ContentKey(), since)
	require.NoError(t, err)

	assert.Equal(t, "user-1", filter["user_id"])
	assert.Equal(t, "income", filter["type"])
	assert.Equal(t, "2024-05-01", filter["date"])
	assert.Equal(t, bson.M{"$gte": since}, filter["created_at"])

	_, err = contentFilter("user-1", domain.ContentKey{Amount: "abc"}, since)
	assert.Error(t, err)
}
