package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-backup/internal/api/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RouterConfig holds what NewRouter mounts. Jobs and Metrics are optional.
type RouterConfig struct {
	Ledger  *LedgerHandler
	Jobs    *JobsHandler
	Metrics http.Handler
	Log     zerolog.Logger
}

// NewRouter builds the HTTP API with middleware applied.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	l := cfg.Ledger
	api.HandleFunc("/backups", l.CreateBackup).Methods(http.MethodPost)
	api.HandleFunc("/snapshots", l.ListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/{id}", l.GetSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/{id}/restore", l.RestoreSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/export", l.Export).Methods(http.MethodGet)
	api.HandleFunc("/import", l.Import).Methods(http.MethodPost)
	api.HandleFunc("/integrity/check", l.CheckIntegrity).Methods(http.MethodPost)
	api.HandleFunc("/alerts", l.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/transactions", l.CreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/duplicates/cleanup", l.CleanupDuplicates).Methods(http.MethodPost)

	if j := cfg.Jobs; j != nil {
		api.HandleFunc("/jobs", j.ListJobs).Methods(http.MethodGet)
		api.HandleFunc("/jobs", j.CreateJob).Methods(http.MethodPost)
		api.HandleFunc("/jobs/{id}", j.GetJob).Methods(http.MethodGet)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	return middleware.Recovery(cfg.Log)(
		middleware.RequestID(
			middleware.Logger(cfg.Log)(
				middleware.CORS(r),
			),
		),
	)
}
