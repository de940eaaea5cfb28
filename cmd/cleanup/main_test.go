package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cleanupdb "ms-admission/internal/cleanup/db"
	cleanup "ms-admission/internal/cleanup/service"
	"ms-admission/internal/config"
	"ms-admission/internal/database"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"
)

var defaults = config.CleanupConfig{MaxAge: 24 * time.Hour, BatchSize: 500, IncludeFailedPayments: true, Timeout: time.Minute}

func TestParseFlagsDefaults(t *testing.T) {
	f, err := parseFlags(nil, defaults)
	require.NoError(t, err)
	assert.Equal(t, cleanup.Options{MaxAge: 24 * time.Hour, BatchSize: 500, IncludeFailedPayments: true}, f.options())
	assert.False(t, f.orphans)
}

func TestParseFlagsOverrides(t *testing.T) {
	f, err := parseFlags([]string{"--dry-run", "--max-age=48h", "--batch-size", "20", "--include-failed-payments=false", "--orphans"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, cleanup.Options{DryRun: true, MaxAge: 48 * time.Hour, BatchSize: 20}, f.options())
	assert.True(t, f.orphans)

	_, err = parseFlags([]string{"--batch-size=many"}, defaults)
	assert.Error(t, err)
}

func TestRunDryRunWithOrphans(t *testing.T) {
	ctx := context.Background()
	bunDB, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	defer bunDB.Close()

	now := time.Now().UTC()
	old := now.Add(-72 * time.Hour)
	ticket := models.Ticket{ID: uuid.NewString(), Status: models.TicketPending, EventID: "e", TicketTypeID: "tt",
		TransactionID: "x", UserID: "u", QRCodeStatus: models.QRCodeNone, CreatedAt: old, UpdatedAt: old}
	_, err = bunDB.NewInsert().Model(&ticket).Exec(ctx)
	require.NoError(t, err)

	f, err := parseFlags([]string{"--dry-run", "--orphans"}, defaults)
	require.NoError(t, err)
	out, err := run(ctx, cleanup.NewService(&cleanupdb.DB{Bun: bunDB}, logger.Discard()), f)
	require.NoError(t, err)

	report := out["cleanup"].(cleanup.Report)
	assert.Equal(t, 1, report.Candidates)
	assert.Zero(t, report.DeletedTickets)
	assert.Contains(t, out, "orphans")

	n, err := bunDB.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
