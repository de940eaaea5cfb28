package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ms-admission/internal/auth"
	"ms-admission/internal/cleanup/cleanup_api"
	"ms-admission/internal/logger"
	"ms-admission/internal/tickets/ticket_api"
	"ms-admission/internal/wristbands/wristband_api"
)

type routes struct {
	Tickets    *ticket_api.Handler
	Wristbands *wristband_api.Handler
	Cleanup    *cleanup_api.Handler
	Verifier   auth.TokenVerifier // nil disables bearer auth
	CronSecret string
	Logger     *logger.Logger
}

func (rt routes) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rt.accessLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/admission", func(r chi.Router) {
		if rt.Verifier != nil {
			r.Use(auth.Middleware(rt.Verifier, rt.Logger))
		}

		r.Group(func(r chi.Router) {
			rt.require(r, auth.RoleScanner)
			r.Post("/verify", rt.Tickets.VerifyTicket)
			r.Post("/wristbands/verify", rt.Wristbands.VerifyWristband)
		})

		r.Group(func(r chi.Router) {
			rt.require(r, auth.RoleAdmin)
			r.Post("/tickets/{ticketId}/undo-checkin", rt.Tickets.UndoCheckIn)
			r.Get("/tickets/{ticketId}/qr", rt.Tickets.TicketQR)
			r.Post("/wristbands", rt.Wristbands.IssueWristband)
			r.Post("/wristbands/{wristbandId}/revoke", rt.Wristbands.RevokeWristband)
			r.Get("/wristbands/{wristbandId}/scans", rt.Wristbands.ScanHistory)
		})
	})

	r.Route("/internal/cleanup", func(r chi.Router) {
		r.Use(auth.CronSecret(rt.CronSecret, rt.Logger))
		r.Get("/stats", rt.Cleanup.GetStats)
		r.Post("/", rt.Cleanup.RunCleanup)
		r.Post("/orphaned-transactions", rt.Cleanup.CleanupOrphans)
	})
	return r
}

func (rt routes) require(r chi.Router, role string) {
	if rt.Verifier != nil {
		r.Use(auth.RequireRole(role))
	}
}

func (rt routes) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		rt.Logger.LogAPI(r.Method, r.URL.Path, http.StatusText(ww.Status()), time.Since(start).String())
	})
}
