package memory

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func tx(id, desc string, created time.Time) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		Type:        domain.TypeExpense,
		Amount:      decimal.RequireFromString("9.99"),
		Currency:    "GBP",
		Category:    "books",
		Description: desc,
		Date:        civil.Date{Year: 2024, Month: 2, Day: 29},
		CreatedAt:   created,
	}
}

func TestStore_InsertAssignsFields(t *testing.T) {
	s := NewStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	created, err := s.Insert(ctx, tx("", "novel", time.Time{}))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, now, created.CreatedAt)
	assert.Equal(t, now, created.UpdatedAt)

	_, err = s.Insert(ctx, created)
	assert.Error(t, err, "IDs are unique")
}

func TestStore_InsertBatchIsAllOrNothing(t *testing.T) {
	s := NewStore()
	s.Seed(tx("a", "one", now))

	err := s.InsertBatch(context.Background(), []domain.Transaction{tx("b", "two", now), tx("a", "dup", now)})
	assert.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestStore_PagesInCreationOrder(t *testing.T) {
	s := NewStore()
	s.Seed(
		tx("c", "third", now.Add(2*time.Minute)),
		tx("a", "first", now),
		tx("b", "second", now.Add(time.Minute)),
	)

	all, err := ledger.FetchAll(context.Background(), s, 2)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	page, err := s.ListPage(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestStore_DeleteAndFind(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.Seed(tx("a", "same", now), tx("b", "same", now.Add(time.Minute)), tx("c", "other", now))

	found, err := s.FindByContent(ctx, tx("", "same", time.Time{}).ContentKey(), now.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b", found[0].ID)

	require.NoError(t, s.DeleteBatch(ctx, []string{"a", "missing"}))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.DeleteAll(ctx))
	assert.Equal(t, 0, s.Len())
}
