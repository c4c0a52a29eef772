package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/integrity"
	"github.com/dvloznov/finance-backup/internal/ledger"
)

// maxImportSize caps the bytes DecodeExport reads.
const maxImportSize = 64 << 20

// Export returns the whole ledger in the interchange format.
func (o *Orchestrator) Export(ctx context.Context) (domain.ExportFile, error) {
	txs, err := ledger.FetchAll(ctx, o.store, o.pageSize)
	if err != nil {
		return domain.ExportFile{}, apperr.StorageFailure("Export", err)
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return domain.ExportFile{
		Transactions:      txs,
		ExportDate:        o.now().UTC(),
		Version:           domain.SnapshotVersion,
		TotalTransactions: len(txs),
	}, nil
}

// rawExport is the export file with transactions left undecoded so their
// JSON types can be checked first.
type rawExport struct {
	Transactions      []map[string]any `json:"transactions"`
	Version           string           `json:"version"`
	TotalTransactions *int             `json:"totalTransactions"`
}

// DecodeExport parses an export file. Every record problem is returned in
// issues together with a validation error; nothing is decoded partially.
func DecodeExport(r io.Reader) (domain.ExportFile, []string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return domain.ExportFile{}, nil, apperr.ValidationFailure("DecodeExport", fmt.Errorf("read: %w", err))
	}
	if len(data) > maxImportSize {
		return domain.ExportFile{}, nil, apperr.ValidationFailure("DecodeExport", fmt.Errorf("file exceeds %d bytes", maxImportSize))
	}

	var raw rawExport
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return domain.ExportFile{}, nil, apperr.ValidationFailure("DecodeExport", fmt.Errorf("not an export file: %w", err))
	}
	if raw.Transactions == nil {
		return domain.ExportFile{}, nil, apperr.ValidationFailure("DecodeExport", fmt.Errorf("missing transactions array"))
	}

	issues := integrity.ValidateRecords(raw.Transactions)
	if raw.TotalTransactions != nil && *raw.TotalTransactions != len(raw.Transactions) {
		issues = append(issues, fmt.Sprintf("totalTransactions is %d but the file holds %d", *raw.TotalTransactions, len(raw.Transactions)))
	}
	if len(issues) > 0 {
		return domain.ExportFile{}, issues, apperr.ValidationFailure("DecodeExport", fmt.Errorf("%d problem(s) in export file", len(issues)))
	}

	var file domain.ExportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return domain.ExportFile{}, nil, apperr.ValidationFailure("DecodeExport", err)
	}
	if issues := integrity.NewChecker().ValidateAll(file.Transactions); len(issues) > 0 {
		return domain.ExportFile{}, issues, apperr.ValidationFailure("DecodeExport", fmt.Errorf("%d invalid transaction(s) in export file", len(issues)))
	}
	file.TotalTransactions = len(file.Transactions)
	return file, nil, nil
}
