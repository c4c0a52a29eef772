// Package integrity computes ledger checksums and validates the structural
// correctness of a transaction set.
package integrity

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/finance-backup/internal/dedup"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/go-playground/validator/v10"
)

const (
	minYear = 1900
	maxYear = 2100

	// minOtherDescription is the shortest description accepted for the
	// "other" category.
	minOtherDescription = 3

	// maxListedIDs caps how many offending IDs one issue line names.
	maxListedIDs = 5
)

// Checker validates transaction sets and remembers the count and checksum of
// the previous check so the next one can detect regressions.
// It is safe for concurrent use.
type Checker struct {
	validate *validator.Validate
	now      func() time.Time

	mu           sync.Mutex
	checked      bool
	lastCount    int
	lastChecksum string
}

// NewChecker creates a Checker using the wall clock.
func NewChecker() *Checker {
	return NewCheckerWithClock(time.Now)
}

// NewCheckerWithClock creates a Checker that timestamps reports and alerts with now.
func NewCheckerWithClock(now func() time.Time) *Checker {
	return &Checker{
		validate: newValidator(),
		now:      now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	v.RegisterStructValidation(transactionRules, domain.Transaction{})
	return v
}

// transactionRules covers the checks that struct tags cannot express.
func transactionRules(sl validator.StructLevel) {
	tx := sl.Current().Interface().(domain.Transaction)

	if !tx.Amount.IsPositive() {
		sl.ReportError(tx.Amount, "amount", "Amount", "positive", "")
	}
	if strings.EqualFold(tx.Category, domain.CategoryOther) &&
		len(strings.TrimSpace(tx.Description)) < minOtherDescription {
		sl.ReportError(tx.Description, "description", "Description", "min_other", fmt.Sprint(minOtherDescription))
	}
}

// Check validates txs and returns the report. All checks run; issues are
// accumulated. The returned alert is non-nil when the count dropped since the
// previous call.
func (c *Checker) Check(txs []domain.Transaction) (domain.IntegrityReport, *domain.Alert) {
	now := c.now()
	checksum := Checksum(txs)
	count := len(txs)

	var issues []string
	var alert *domain.Alert

	c.mu.Lock()
	checked, lastCount, lastChecksum := c.checked, c.lastCount, c.lastChecksum
	c.checked, c.lastCount, c.lastChecksum = true, count, checksum
	c.mu.Unlock()

	if checked && count < lastCount {
		delta := lastCount - count
		msg := fmt.Sprintf("transaction count dropped from %d to %d (%d missing)", lastCount, count, delta)
		issues = append(issues, msg)
		alert = &domain.Alert{
			Severity:         domain.SeverityCritical,
			Message:          "possible data loss: " + msg,
			Timestamp:        now,
			TransactionCount: count,
			PreviousCount:    lastCount,
		}
	}

	issues = append(issues, c.fieldIssues(txs)...)
	issues = append(issues, dateIssues(txs)...)

	if n := dedup.DuplicateIDs(txs); n > 0 {
		issues = append(issues, fmt.Sprintf("%d transaction(s) share an ID with another transaction", n))
	}
	if dups := dedup.FindDuplicates(txs); len(dups) > 0 {
		issues = append(issues, fmt.Sprintf("%d content duplicate(s) found: %s", len(dups), listIDs(dups)))
	}

	if checked && lastChecksum != "" && count == lastCount && checksum != lastChecksum {
		issues = append(issues, fmt.Sprintf(
			"checksum changed from %s to %s with count unchanged at %d: possible silent corruption",
			short(lastChecksum), short(checksum), count))
	}

	report := domain.IntegrityReport{
		Passed:           len(issues) == 0,
		Issues:           issues,
		TransactionCount: count,
		DateRange:        DateRange(txs),
		Checksum:         checksum,
		CheckedAt:        now,
	}
	if report.Issues == nil {
		report.Issues = []string{}
	}
	return report, alert
}

// Reset forgets the previous count and checksum.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked, c.lastCount, c.lastChecksum = false, 0, ""
}

// LastCount returns the count seen by the previous check and whether one ran.
func (c *Checker) LastCount() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCount, c.checked
}

// Validate reports the field problems of a single transaction, or nil.
func (c *Checker) Validate(tx domain.Transaction) []string {
	var out []string
	if err := c.validate.Struct(tx); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				out = append(out, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
		} else {
			out = append(out, err.Error())
		}
	}
	if msg := dateProblem(tx); msg != "" {
		out = append(out, "date: "+msg)
	}
	return out
}

// ValidateAll reports one issue per invalid transaction in txs, naming the
// transaction and every problem found with it.
func (c *Checker) ValidateAll(txs []domain.Transaction) []string {
	var out []string
	for i, tx := range txs {
		if problems := c.Validate(tx); len(problems) > 0 {
			out = append(out, fmt.Sprintf("%s: %s", label(tx, i), strings.Join(problems, ", ")))
		}
	}
	return out
}

func (c *Checker) fieldIssues(txs []domain.Transaction) []string {
	var bad []string
	for i, tx := range txs {
		err := c.validate.Struct(tx)
		if err == nil {
			continue
		}
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
		} else {
			fields = append(fields, err.Error())
		}
		bad = append(bad, fmt.Sprintf("%s [%s]", label(tx, i), strings.Join(fields, ", ")))
	}
	if len(bad) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("%d transaction(s) have missing or invalid fields: %s", len(bad), joinCapped(bad))}
}

func dateIssues(txs []domain.Transaction) []string {
	var bad []string
	for i, tx := range txs {
		if msg := dateProblem(tx); msg != "" {
			bad = append(bad, fmt.Sprintf("%s [%s]", label(tx, i), msg))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("%d transaction(s) have invalid dates: %s", len(bad), joinCapped(bad))}
}

func dateProblem(tx domain.Transaction) string {
	if !tx.Date.IsValid() {
		return fmt.Sprintf("%s is not a calendar date", tx.Date)
	}
	if tx.Date.Year < minYear || tx.Date.Year > maxYear {
		return fmt.Sprintf("%s outside %d-%d", tx.Date, minYear, maxYear)
	}
	return ""
}

func label(tx domain.Transaction, index int) string {
	if tx.ID != "" {
		return tx.ID
	}
	return fmt.Sprintf("#%d", index)
}

func listIDs(txs []domain.Transaction) string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = label(tx, i)
	}
	return joinCapped(ids)
}

func joinCapped(items []string) string {
	if len(items) <= maxListedIDs {
		return strings.Join(items, "; ")
	}
	return strings.Join(items[:maxListedIDs], "; ") + fmt.Sprintf("; and %d more", len(items)-maxListedIDs)
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
