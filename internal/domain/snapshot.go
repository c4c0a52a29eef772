package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// SnapshotVersion is the format version written into new snapshots and exports.
const SnapshotVersion = "1.0"

// Snapshot is an immutable capture of the full transaction set.
// Listings may return snapshots with Transactions left nil; TransactionCount
// is always populated.
type Snapshot struct {
	ID               string        `json:"id"`
	Transactions     []Transaction `json:"transactions,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
	Version          string        `json:"version"`
	Description      string        `json:"description"`
	Checksum         string        `json:"checksum"`
	TransactionCount int           `json:"transactionCount"`
}

// Summary returns a copy of s without the transaction payload.
func (s Snapshot) Summary() Snapshot {
	s.Transactions = nil
	return s
}

// ExportFile is the interchange format for export and import. Field names
// must not change: previously exported files depend on them.
type ExportFile struct {
	Transactions      []Transaction `json:"transactions"`
	ExportDate        time.Time     `json:"exportDate"`
	Version           string        `json:"version"`
	TotalTransactions int           `json:"totalTransactions"`
}

// MergePolicy selects how a restore resolves existing data.
type MergePolicy string

const (
	// PolicyReplace deletes the current ledger and inserts the snapshot.
	PolicyReplace MergePolicy = "replace"
	// PolicyMerge inserts only snapshot rows absent by id and by content.
	PolicyMerge MergePolicy = "merge"
	// PolicyMergeNewer currently behaves exactly like PolicyMerge.
	PolicyMergeNewer MergePolicy = "merge-newer"
)

// ParseMergePolicy converts s into a MergePolicy. An empty string yields merge.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(s) {
	case PolicyReplace, PolicyMerge, PolicyMergeNewer:
		return MergePolicy(s), nil
	case "":
		return PolicyMerge, nil
	}
	return "", fmt.Errorf("unknown merge policy %q", s)
}

// Severity ranks a data-loss alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert records a suspected data loss, raised when the transaction count
// drops between two integrity checks.
type Alert struct {
	Severity         Severity  `json:"severity"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
	TransactionCount int       `json:"transactionCount"`
	PreviousCount    int       `json:"previousCount"`
}

// DateRange is the span of transaction dates observed in a set.
type DateRange struct {
	Min civil.Date `json:"min"`
	Max civil.Date `json:"max"`
}

// IntegrityReport is the transient result of one integrity check.
type IntegrityReport struct {
	Passed           bool       `json:"passed"`
	Issues           []string   `json:"issues"`
	TransactionCount int        `json:"transactionCount"`
	DateRange        *DateRange `json:"dateRange,omitempty"`
	Checksum         string     `json:"checksum"`
	CheckedAt        time.Time  `json:"checkedAt"`
}
