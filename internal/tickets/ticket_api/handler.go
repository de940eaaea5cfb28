package ticket_api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	qr "ms-admission/internal/tickets/qr_generator"
	tickets "ms-admission/internal/tickets/service"
	"ms-admission/internal/utils"
)

type Handler struct {
	TicketService  *tickets.TicketService
	QRGenerator    *qr.QRGenerator
	Logger         *logger.Logger
	RequestTimeout time.Duration
}

// NewHandler creates a new Handler instance
func NewHandler(ticketService *tickets.TicketService, qrGen *qr.QRGenerator, log *logger.Logger, timeout time.Duration) *Handler {
	return &Handler{
		TicketService:  ticketService,
		QRGenerator:    qrGen,
		Logger:         log,
		RequestTimeout: timeout,
	}
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.RequestTimeout)
}

// VerifyTicket validates a scanned code and, with checkIn set, admits it.
// Expected POST body: {"encryptedCode": "...", "scopeId": "...", "checkIn": true}
func (h *Handler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		status, resp := models.NewVerifyResponse(models.CodeInvalidInput, nil)
		utils.WriteJSON(w, status, resp)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var res models.VerificationResult
	if req.CheckIn {
		res = h.TicketService.CheckIn(ctx, req.EncryptedCode, req.ScopeID)
	} else {
		res = h.TicketService.Validate(ctx, req.EncryptedCode, req.ScopeID)
	}

	var snapshot interface{}
	if res.Ticket != nil {
		snapshot = res.Ticket
	}
	status, resp := models.NewVerifyResponse(res.Code, snapshot)
	utils.WriteJSON(w, status, resp)
}

// UndoCheckIn reverses an admission. Admin only.
// Expected POST body: {"scopeId": "..."}
func (h *Handler) UndoCheckIn(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	var req struct {
		ScopeID string `json:"scopeId"`
	}
	if err := utils.DecodeJSON(w, r, &req); err != nil || req.ScopeID == "" {
		utils.WriteError(w, http.StatusBadRequest, "scopeId is required", err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	snap, err := h.TicketService.UndoCheckIn(ctx, ticketID, req.ScopeID)
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		utils.WriteError(w, http.StatusNotFound, "ticket not found", nil)
	case errors.Is(err, tickets.ErrInvalidTransition):
		utils.WriteError(w, http.StatusConflict, "ticket cannot be reset", err)
	case err != nil:
		h.Logger.Error("API", "undo check-in failed: "+err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "undo check-in failed", nil)
	default:
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("check-in undone", snap))
	}
}

// TicketQR serves the ticket's issued code as a PNG.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	scopeID := r.URL.Query().Get("scopeId")
	if scopeID == "" {
		utils.WriteError(w, http.StatusBadRequest, "scopeId is required", nil)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	code, err := h.TicketService.IssuedCode(ctx, ticketID, scopeID)
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		utils.WriteError(w, http.StatusNotFound, "ticket not found", nil)
		return
	case errors.Is(err, tickets.ErrCodeUnavailable):
		utils.WriteError(w, http.StatusConflict, "ticket has no active code", nil)
		return
	case err != nil:
		h.Logger.Error("API", "qr lookup failed: "+err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "qr lookup failed", nil)
		return
	}

	img, err := h.QRGenerator.Render(code)
	if err != nil {
		h.Logger.Error("API", "qr render failed for "+ticketID+": "+err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "qr render failed", nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
