package wristband_api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	"ms-admission/internal/utils"
	wristbands "ms-admission/internal/wristbands/service"
)

type Handler struct {
	WristbandService *wristbands.WristbandService
	Logger           *logger.Logger
	RequestTimeout   time.Duration
}

func NewHandler(svc *wristbands.WristbandService, log *logger.Logger, timeout time.Duration) *Handler {
	return &Handler{WristbandService: svc, Logger: log, RequestTimeout: timeout}
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.RequestTimeout)
}

// VerifyWristband validates a wristband code; with checkIn set it spends a scan.
func (h *Handler) VerifyWristband(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		status, resp := models.NewVerifyResponse(models.CodeInvalidInput, nil)
		utils.WriteJSON(w, status, resp)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var res models.ScanResult
	if req.CheckIn {
		res = h.WristbandService.Scan(ctx, req.EncryptedCode, req.ScopeID, req.Location, req.Device)
	} else {
		res = h.WristbandService.Validate(ctx, req.EncryptedCode, req.ScopeID)
	}

	var snapshot interface{}
	if res.Wristband != nil {
		snapshot = res.Wristband
	}
	status, resp := models.NewVerifyResponse(res.Code, snapshot)
	utils.WriteJSON(w, status, resp)
}

type issueRequest struct {
	ScopeID string `json:"scopeId"`
	wristbands.IssueRequest
}

type issueResponse struct {
	Wristband     models.WristbandSnapshot `json:"wristband"`
	EncryptedCode string                   `json:"encryptedCode"`
}

func (h *Handler) IssueWristband(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil || req.ScopeID == "" {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	band, code, err := h.WristbandService.Issue(ctx, req.IssueRequest, req.ScopeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("wristband issued", issueResponse{
		Wristband:     band.Snapshot(),
		EncryptedCode: code,
	}))
}

func (h *Handler) RevokeWristband(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScopeID string `json:"scopeId"`
	}
	if err := utils.DecodeJSON(w, r, &req); err != nil || req.ScopeID == "" {
		utils.WriteError(w, http.StatusBadRequest, "scopeId is required", err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.WristbandService.Revoke(ctx, chi.URLParam(r, "wristbandId"), req.ScopeID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("wristband revoked", nil))
}

func (h *Handler) ScanHistory(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scopeId")
	if scopeID == "" {
		utils.WriteError(w, http.StatusBadRequest, "scopeId is required", nil)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	logs, err := h.WristbandService.History(ctx, chi.URLParam(r, "wristbandId"), scopeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("scan history", logs))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wristbands.ErrInvalidWristband):
		utils.WriteError(w, http.StatusBadRequest, "invalid wristband", err)
	case errors.Is(err, wristbands.ErrWristbandNotFound), errors.Is(err, wristbands.ErrEventNotFound):
		utils.WriteError(w, http.StatusNotFound, "not found", nil)
	case errors.Is(err, wristbands.ErrAlreadyRevoked):
		utils.WriteError(w, http.StatusConflict, "wristband is not active", nil)
	default:
		h.Logger.Error("API", "wristband request failed: "+err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
