package dedup

import (
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/ledger"
)

// FindDuplicates scans txs in creation order and returns every transaction
// whose content key was already seen. The first occurrence of each key is
// kept. The input slice is not modified.
func FindDuplicates(txs []domain.Transaction) []domain.Transaction {
	_, dups := partition(txs)
	return dups
}

// partition splits txs, in creation order, into the first occurrence of each
// content key and the rest.
func partition(txs []domain.Transaction) (kept, dups []domain.Transaction) {
	ordered := make([]domain.Transaction, len(txs))
	copy(ordered, txs)
	ledger.SortByCreation(ordered)

	seen := make(map[domain.ContentKey]struct{}, len(ordered))
	for _, tx := range ordered {
		key := tx.ContentKey()
		if _, ok := seen[key]; ok {
			dups = append(dups, tx)
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, tx)
	}
	return kept, dups
}

// deletion is the delete plan for a set of duplicates.
type deletion struct {
	// ids are the distinct IDs carried only by duplicate rows.
	ids []string
	// rows is the number of stored rows each ID covers.
	rows map[string]int
	// shared counts duplicates that cannot be deleted by ID because a kept
	// row has the same ID, or because they have none.
	shared int
}

// planDeletion works out which duplicates of txs can be removed by ID
// without touching a kept row.
func planDeletion(txs []domain.Transaction) deletion {
	kept, dups := partition(txs)
	keptIDs := make(map[string]struct{}, len(kept))
	for _, tx := range kept {
		keptIDs[tx.ID] = struct{}{}
	}

	plan := deletion{rows: make(map[string]int)}
	for _, tx := range dups {
		if _, ok := keptIDs[tx.ID]; ok || tx.ID == "" {
			plan.shared++
			continue
		}
		if plan.rows[tx.ID] == 0 {
			plan.ids = append(plan.ids, tx.ID)
		}
		plan.rows[tx.ID]++
	}
	return plan
}

// DuplicateIDs counts IDs that occur more than once; each extra occurrence
// counts once.
func DuplicateIDs(txs []domain.Transaction) int {
	seen := make(map[string]struct{}, len(txs))
	extra := 0
	for _, tx := range txs {
		if _, ok := seen[tx.ID]; ok {
			extra++
			continue
		}
		seen[tx.ID] = struct{}{}
	}
	return extra
}
