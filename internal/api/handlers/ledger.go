package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dvloznov/finance-backup/internal/api/middleware"
	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/backup"
	"github.com/dvloznov/finance-backup/internal/dedup"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// maxTransactionBody bounds a single transaction submission.
const maxTransactionBody = 1 << 20

// Ledger is the backup and integrity surface the HTTP API exposes.
// *backup.Orchestrator implements it.
type Ledger interface {
	Backup(ctx context.Context, description string) backup.BackupResult
	Snapshots(ctx context.Context) ([]domain.Snapshot, error)
	Snapshot(ctx context.Context, id string) (domain.Snapshot, error)
	Restore(ctx context.Context, snapshotID string, opts backup.RestoreOptions) backup.RestoreResult
	RestoreFromExport(ctx context.Context, file domain.ExportFile, opts backup.RestoreOptions) backup.RestoreResult
	Export(ctx context.Context) (domain.ExportFile, error)
	CheckIntegrity(ctx context.Context) (domain.IntegrityReport, error)
	Alerts() []domain.Alert
	Cleanup(ctx context.Context) dedup.CleanupResult
	AddTransaction(ctx context.Context, tx domain.Transaction, intentional bool) (domain.Transaction, dedup.AccidentalCheck, error)
}

// LedgerHandler handles backup, restore and integrity endpoints.
type LedgerHandler struct {
	ledger Ledger
	log    zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(ledger Ledger, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		log:    log,
	}
}

// CreateBackup handles POST /api/backups
func (h *LedgerHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	res := h.ledger.Backup(r.Context(), req.Description)
	switch {
	case res.Skipped:
		middleware.WriteJSON(w, http.StatusAccepted, res)
	case res.Success:
		middleware.WriteJSON(w, http.StatusCreated, res)
	default:
		middleware.WriteJSON(w, http.StatusInternalServerError, res)
	}
}

// ListSnapshots handles GET /api/snapshots
func (h *LedgerHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.ledger.Snapshots(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list snapshots")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

// GetSnapshot handles GET /api/snapshots/{id}
func (h *LedgerHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := h.ledger.Snapshot(r.Context(), id)
	if errors.Is(err, apperr.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Snapshot not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("snapshot_id", id).Msg("Failed to get snapshot")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get snapshot")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, snap)
}

// RestoreSnapshot handles POST /api/snapshots/{id}/restore
func (h *LedgerHandler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	opts := backup.RestoreOptions{SafetyBackup: true}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if _, err := domain.ParseMergePolicy(string(opts.Policy)); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.ledger.Restore(r.Context(), id, opts)
	if errors.Is(res.Err, apperr.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Snapshot not found")
		return
	}
	h.writeRestore(w, res)
}

// Export handles GET /api/export
func (h *LedgerHandler) Export(w http.ResponseWriter, r *http.Request) {
	file, err := h.ledger.Export(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to export ledger")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to export ledger")
		return
	}

	name := fmt.Sprintf("finance-backup-%s.json", file.ExportDate.Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	middleware.WriteJSON(w, http.StatusOK, file)
}

// Import handles POST /api/import?policy=&safety_backup=
func (h *LedgerHandler) Import(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	policy, err := domain.ParseMergePolicy(query.Get("policy"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := backup.RestoreOptions{Policy: policy, SafetyBackup: true}
	if v := query.Get("safety_backup"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid safety_backup value")
			return
		}
		opts.SafetyBackup = b
	}

	file, issues, err := backup.DecodeExport(r.Body)
	if len(issues) > 0 {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Invalid export file",
			"issues": issues,
		})
		return
	}
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeRestore(w, h.ledger.RestoreFromExport(r.Context(), file, opts))
}

func (h *LedgerHandler) writeRestore(w http.ResponseWriter, res backup.RestoreResult) {
	if !res.Success {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// CheckIntegrity handles POST /api/integrity/check
func (h *LedgerHandler) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.CheckIntegrity(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Integrity check failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Integrity check failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// ListAlerts handles GET /api/alerts
func (h *LedgerHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.ledger.Alerts()
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// CreateTransaction handles POST /api/transactions?intentional=true
func (h *LedgerHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTransactionBody)).Decode(&tx); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	intentional, _ := strconv.ParseBool(r.URL.Query().Get("intentional"))

	created, check, err := h.ledger.AddTransaction(r.Context(), tx, intentional)
	switch {
	case errors.Is(err, apperr.ErrAccidentalDuplicate):
		middleware.WriteJSON(w, http.StatusConflict, check)
	case apperr.Is(err, apperr.KindValidation):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.log.Error().Err(err).Msg("Failed to insert transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to insert transaction")
	default:
		middleware.WriteJSON(w, http.StatusCreated, created)
	}
}

// CleanupDuplicates handles POST /api/duplicates/cleanup
func (h *LedgerHandler) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	res := h.ledger.Cleanup(r.Context())
	switch {
	case res.Skipped:
		middleware.WriteJSON(w, http.StatusAccepted, res)
	case res.Success:
		middleware.WriteJSON(w, http.StatusOK, res)
	default:
		middleware.WriteJSON(w, http.StatusInternalServerError, res)
	}
}

// Ensure *backup.Orchestrator implements Ledger.
var _ Ledger = (*backup.Orchestrator)(nil)
