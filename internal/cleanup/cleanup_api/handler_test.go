package cleanup_api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-admission/internal/auth"
	"ms-admission/internal/cleanup/cleanup_api"
	cleanupdb "ms-admission/internal/cleanup/db"
	cleanup "ms-admission/internal/cleanup/service"
	"ms-admission/internal/config"
	"ms-admission/internal/database"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"
)

const cronSecret = "cron-secret"

func setup(t *testing.T) (http.Handler, *bun.DB) {
	t.Helper()
	ctx := context.Background()
	bunDB, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	now := time.Now().UTC()
	event := models.Event{ID: uuid.NewString(), OrganizerID: "org-1", Name: "Fest", StartsAt: now, EndsAt: now.Add(time.Hour), CreatedAt: now}
	txn := models.Transaction{ID: uuid.NewString(), UserID: "u", Amount: decimal.NewFromInt(5), Currency: "USD",
		PaymentStatus: models.PaymentPending, VerificationState: models.VerificationNone, CreatedAt: now, UpdatedAt: now}
	old := now.Add(-48 * time.Hour)
	ticket := models.Ticket{ID: uuid.NewString(), Status: models.TicketPending, EventID: event.ID, TicketTypeID: "tt",
		TransactionID: txn.ID, UserID: "u", QRCodeStatus: models.QRCodeNone, CreatedAt: old, UpdatedAt: old}
	for _, row := range []interface{}{&event, &txn, &ticket} {
		_, err := bunDB.NewInsert().Model(row).Exec(ctx)
		require.NoError(t, err)
	}

	svc := cleanup.NewService(&cleanupdb.DB{Bun: bunDB}, logger.Discard())
	h := cleanup_api.NewHandler(svc, config.CleanupConfig{MaxAge: 24 * time.Hour, BatchSize: 100, IncludeFailedPayments: true}, logger.Discard())

	r := chi.NewRouter()
	r.Route("/internal/cleanup", func(r chi.Router) {
		r.Use(auth.CronSecret(cronSecret, logger.Discard()))
		r.Get("/stats", h.GetStats)
		r.Post("/", h.RunCleanup)
		r.Post("/orphaned-transactions", h.CleanupOrphans)
	})
	return r, bunDB
}

func do(h http.Handler, method, path, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func pendingCount(t *testing.T, db *bun.DB) int {
	n, err := db.NewSelect().Model((*models.Ticket)(nil)).Where("status = ?", models.TicketPending).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRequiresCronSecret(t *testing.T) {
	r, _ := setup(t)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/internal/cleanup/stats", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/internal/cleanup/stats", "", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/internal/cleanup/stats", "", cronSecret).Code)
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := setup(t)
	rec := do(r, http.MethodGet, "/internal/cleanup/stats?maxAgeHours=72", "", cronSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data cleanup.Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Data.TotalPending)
	assert.Zero(t, resp.Data.EligibleForDeletion)
	assert.Equal(t, 72, resp.Data.MaxAgeHours)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/internal/cleanup/stats?maxAgeHours=x", "", cronSecret).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/internal/cleanup/stats?maxAgeHours=0", "", cronSecret).Code)
}

func TestRunCleanupEndpoint(t *testing.T) {
	r, db := setup(t)

	rec := do(r, http.MethodPost, "/internal/cleanup/", `{"dryRun":true}`, cronSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, pendingCount(t, db))

	rec = do(r, http.MethodPost, "/internal/cleanup/", `{"batchSize":0}`, cronSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/internal/cleanup/", `{"unknown":1}`, cronSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/internal/cleanup/", "", cronSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data cleanup.Report `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Data.DeletedTickets)
	assert.Zero(t, pendingCount(t, db))
}

func TestOrphansEndpoint(t *testing.T) {
	r, _ := setup(t)
	rec := do(r, http.MethodPost, "/internal/cleanup/orphaned-transactions?dryRun=true", "", cronSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodPost, "/internal/cleanup/orphaned-transactions?dryRun=maybe", "", cronSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
