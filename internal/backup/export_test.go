package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport_RoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 12)...)

	file, err := f.orch.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, file.TotalTransactions)
	assert.Equal(t, domain.SnapshotVersion, file.Version)
	assert.Equal(t, base, file.ExportDate)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(file))
	assert.Contains(t, buf.String(), `"exportDate":"2024-06-01T10:00:00Z"`)
	assert.Contains(t, buf.String(), `"amount":1,`)

	decoded, issues, err := DecodeExport(&buf)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, decoded.Transactions, 12)
	assert.True(t, file.Transactions[3].Amount.Equal(decoded.Transactions[3].Amount))
	assert.Equal(t, file.Transactions[3].Date, decoded.Transactions[3].Date)
}

func TestExport_EmptyLedger(t *testing.T) {
	f := newFixture(t, Options{})
	file, err := f.orch.Export(context.Background())
	require.NoError(t, err)

	raw, err := json.Marshal(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"transactions":[]`)
}

func TestDecodeExport_RejectsBadRecords(t *testing.T) {
	input := `{
		"transactions": [
			{"id": "a", "type": "expense", "amount": "12.50", "currency": "USD", "category": "food", "description": "lunch", "date": "2024-01-05"},
			{"id": "b", "type": "income", "amount": 100, "currency": "USD", "category": "salary", "date": "2024-13-40"}
		],
		"exportDate": "2024-02-01T00:00:00Z",
		"version": "1.0",
		"totalTransactions": 3
	}`

	_, issues, err := DecodeExport(strings.NewReader(input))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, issues, "record 0: amount must be a number, got string")
	assert.Contains(t, issues, "record 1: missing description")
	assert.Contains(t, issues, `record 1: date "2024-13-40" does not parse`)
	assert.Contains(t, issues, "totalTransactions is 3 but the file holds 2")
}

func TestDecodeExport_NotAnExport(t *testing.T) {
	for _, input := range []string{"", "[1,2,3]", `{"version":"1.0"}`} {
		_, _, err := DecodeExport(strings.NewReader(input))
		assert.True(t, apperr.Is(err, apperr.KindValidation), input)
	}
}

func TestRestoreFromExport(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 5)...)

	file, err := f.orch.Export(context.Background())
	require.NoError(t, err)
	file.Transactions = append(file.Transactions, makeTxs(5, 3)...)

	res := f.orch.RestoreFromExport(context.Background(), file, RestoreOptions{})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, res.TransactionsRestored)
	assert.Equal(t, 5, res.ConflictsResolved)
	assert.Equal(t, 8, f.store.Len())
	assert.Equal(t, 1, f.recorder.get("restore:merge:success"))
}

func TestDecodeExport_RejectsInvalidTransactions(t *testing.T) {
	input := `{
		"transactions": [
			{"id": "a", "type": "bogus", "amount": -5, "currency": "usd", "category": "food", "description": "lunch", "date": "2024-01-05"},
			{"id": "b", "type": "income", "amount": 100, "currency": "USD", "category": "salary", "description": "pay", "date": "2024-01-31"}
		],
		"version": "1.0"
	}`

	file, issues, err := DecodeExport(strings.NewReader(input))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, file.Transactions)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "a: ")
	assert.Contains(t, issues[0], "type: oneof")
	assert.Contains(t, issues[0], "currency: uppercase")
	assert.Contains(t, issues[0], "amount: positive")
}
