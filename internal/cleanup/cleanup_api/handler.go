package cleanup_api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	cleanup "ms-admission/internal/cleanup/service"
	"ms-admission/internal/config"
	"ms-admission/internal/logger"
	"ms-admission/internal/utils"
)

// Handler exposes the cleanup engine to the cron trigger. Requests missing
// an option fall back to the configured defaults.
type Handler struct {
	Service  *cleanup.Service
	Defaults config.CleanupConfig
	Logger   *logger.Logger
}

func NewHandler(svc *cleanup.Service, defaults config.CleanupConfig, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Defaults: defaults, Logger: log}
}

type cleanupRequest struct {
	DryRun                bool  `json:"dryRun"`
	MaxAgeHours           *int  `json:"maxAgeHours,omitempty"`
	BatchSize             *int  `json:"batchSize,omitempty"`
	IncludeFailedPayments *bool `json:"includeFailedPayments,omitempty"`
	StatsOnly             bool  `json:"statsOnly"`
}

func (h *Handler) defaultMaxAgeHours() int {
	return int(h.Defaults.MaxAge.Hours())
}

// GetStats handles GET /internal/cleanup/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxAge := h.defaultMaxAgeHours()
	if v := q.Get("maxAgeHours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "maxAgeHours must be an integer", err)
			return
		}
		maxAge = n
	}
	includeFailed := h.Defaults.IncludeFailedPayments
	if v := q.Get("includeFailedPayments"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "includeFailedPayments must be a boolean", err)
			return
		}
		includeFailed = b
	}

	stats, err := h.Service.GetStats(r.Context(), maxAge, includeFailed)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("cleanup statistics", stats))
}

// RunCleanup handles POST /internal/cleanup. An empty body runs with defaults.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	opts := cleanup.Options{
		DryRun:                req.DryRun,
		MaxAge:                h.Defaults.MaxAge,
		BatchSize:             h.Defaults.BatchSize,
		IncludeFailedPayments: h.Defaults.IncludeFailedPayments,
		StatsOnly:             req.StatsOnly,
	}
	if req.MaxAgeHours != nil {
		opts.MaxAge = time.Duration(*req.MaxAgeHours) * time.Hour
	}
	if req.BatchSize != nil {
		opts.BatchSize = *req.BatchSize
	}
	if req.IncludeFailedPayments != nil {
		opts.IncludeFailedPayments = *req.IncludeFailedPayments
	}

	report, err := h.Service.Cleanup(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("cleanup finished", report))
}

// CleanupOrphans handles POST /internal/cleanup/orphaned-transactions?dryRun=.
func (h *Handler) CleanupOrphans(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "dryRun must be a boolean", err)
			return
		}
		dryRun = b
	}

	report, err := h.Service.CleanupOrphanedTransactions(r.Context(), dryRun)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("orphaned transactions processed", report))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, cleanup.ErrInvalidOptions) {
		utils.WriteError(w, http.StatusBadRequest, "invalid cleanup options", err)
		return
	}
	utils.WriteError(w, http.StatusInternalServerError, "cleanup failed", nil)
}
