package db_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-admission/internal/database"
	"ms-admission/internal/models"
	"ms-admission/internal/tickets/db"
)

type fixture struct {
	db     *db.DB
	bun    *bun.DB
	event  models.Event
	ttype  models.TicketType
	txn    models.Transaction
	ticket models.Ticket
}

func setupTestDB(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	bunDB, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	now := time.Now().UTC()
	f := &fixture{db: &db.DB{Bun: bunDB}, bun: bunDB}
	f.event = models.Event{ID: uuid.NewString(), OrganizerID: "org-1", Name: "Fest", StartsAt: now, EndsAt: now.Add(6 * time.Hour), CreatedAt: now}
	f.ttype = models.TicketType{ID: uuid.NewString(), EventID: f.event.ID, Name: "GA", Capacity: 10, Available: 9}
	f.txn = models.Transaction{ID: uuid.NewString(), UserID: "user-1", Amount: decimal.RequireFromString("25.00"), Currency: "USD",
		PaymentStatus: models.PaymentSuccess, VerificationState: models.VerificationNone, CreatedAt: now, UpdatedAt: now}
	f.ticket = models.Ticket{ID: uuid.NewString(), Status: models.TicketActive, EventID: f.event.ID, TicketTypeID: f.ttype.ID,
		TransactionID: f.txn.ID, UserID: "user-1", QRCodeStatus: models.QRCodeIssued, CreatedAt: now, UpdatedAt: now}

	for _, row := range []interface{}{&f.event, &f.ttype, &f.txn} {
		_, err := bunDB.NewInsert().Model(row).Exec(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, f.db.CreateTicket(ctx, &f.ticket))
	return f
}

func TestCreateAndGetTicket(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	ticket, err := f.db.GetTicketByID(ctx, f.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ticket.ID, ticket.ID)
	assert.Equal(t, models.TicketActive, ticket.Status)

	_, err = f.db.GetTicketByID(ctx, "non-existent")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestGetTicketInScope(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	ticket, err := f.db.GetTicketInScope(ctx, f.ticket.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, f.ticket.ID, ticket.ID)

	_, err = f.db.GetTicketInScope(ctx, f.ticket.ID, "org-2")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCheckInOnlyOnce(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ticket, err := f.db.CheckIn(ctx, f.ticket.ID, "org-1", now)
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, ticket.Status)
	assert.True(t, ticket.CheckedIn)
	require.NotNil(t, ticket.CheckInTime)

	_, err = f.db.CheckIn(ctx, f.ticket.ID, "org-1", now)
	assert.ErrorIs(t, err, db.ErrConflict)

	rows, err := database.ListAudit(ctx, f.bun, models.AuditTicketCheckedIn)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestConcurrentCheckInSingleWinner(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	const scanners = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.db.CheckIn(ctx, f.ticket.ID, "org-1", time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, db.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, scanners-1, conflicts)
}

func TestCheckInRequiresActive(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := f.ticket
	pending.ID = uuid.NewString()
	pending.Status = models.TicketPending
	require.NoError(t, f.db.CreateTicket(ctx, &pending))

	_, err := f.db.CheckIn(ctx, pending.ID, "org-1", now)
	assert.ErrorIs(t, err, db.ErrConflict)
}

func TestActivateStoresCode(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := f.ticket
	pending.ID = uuid.NewString()
	pending.Status = models.TicketPending
	pending.QRCodeStatus = models.QRCodeNone
	require.NoError(t, f.db.CreateTicket(ctx, &pending))

	audit := models.TicketActivated{TicketID: pending.ID, TransactionID: pending.TransactionID}
	require.NoError(t, f.db.Activate(ctx, pending.ID, "aa:bb", audit, now))

	got, err := f.db.GetTicketByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketActive, got.Status)
	assert.Equal(t, models.QRCodeIssued, got.QRCodeStatus)
	require.NotNil(t, got.EncryptedCode)
	assert.Equal(t, "aa:bb", *got.EncryptedCode)

	assert.ErrorIs(t, f.db.Activate(ctx, pending.ID, "cc:dd", audit, now), db.ErrConflict)
}

func TestReleaseRestoresInventory(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	audit := models.TicketRefundedAudit{TicketID: f.ticket.ID, TransactionID: f.txn.ID}
	require.NoError(t, f.db.Release(ctx, &f.ticket, models.TicketRefunded, audit, now))

	got, err := f.db.GetTicketByID(ctx, f.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketRefunded, got.Status)
	assert.Equal(t, models.QRCodeRevoked, got.QRCodeStatus)
	assert.Nil(t, got.EncryptedCode)

	var ttype models.TicketType
	require.NoError(t, f.bun.NewSelect().Model(&ttype).Where("id = ?", f.ttype.ID).Scan(ctx))
	assert.Equal(t, 10, ttype.Available)

	// stale observed status
	assert.ErrorIs(t, f.db.Release(ctx, &f.ticket, models.TicketCancelled, audit, now), db.ErrConflict)
}

func TestUndoCheckIn(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := f.db.CheckIn(ctx, f.ticket.ID, "org-1", now)
	require.NoError(t, err)

	audit := models.CheckInUndone{TicketID: f.ticket.ID, ScopeID: "org-1", PreviousStatus: string(models.TicketUsed), PreviousTime: &now}
	require.NoError(t, f.db.UndoCheckIn(ctx, f.ticket.ID, models.TicketUsed, audit, now))

	got, err := f.db.GetTicketByID(ctx, f.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketActive, got.Status)
	assert.False(t, got.CheckedIn)
	assert.Nil(t, got.CheckInTime)

	_, err = f.db.CheckIn(ctx, f.ticket.ID, "org-1", now)
	assert.NoError(t, err)
}

func TestExpireTickets(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := models.Event{ID: uuid.NewString(), OrganizerID: "org-1", Name: "Old", StartsAt: now.Add(-48 * time.Hour), EndsAt: now.Add(-24 * time.Hour), CreatedAt: now}
	_, err := f.bun.NewInsert().Model(&past).Exec(ctx)
	require.NoError(t, err)

	old := f.ticket
	old.ID = uuid.NewString()
	old.EventID = past.ID
	require.NoError(t, f.db.CreateTicket(ctx, &old))

	used := old
	used.ID = uuid.NewString()
	used.Status = models.TicketUsed
	used.CheckedIn = true
	used.CheckInTime = &now
	require.NoError(t, f.db.CreateTicket(ctx, &used))

	n, err := f.db.ExpireTickets(ctx, []models.TicketStatus{models.TicketPending, models.TicketActive}, now, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.db.GetTicketByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketExpired, got.Status)

	got, err = f.db.GetTicketByID(ctx, used.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, got.Status)

	got, err = f.db.GetTicketByID(ctx, f.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketActive, got.Status)
}

func TestUpdatePaymentStateGuarded(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	from := f.txn.State()
	to := from
	to.Status = models.PaymentRefunded
	require.NoError(t, f.db.UpdatePaymentState(ctx, f.txn.ID, from, to, nil, now))

	got, err := f.db.GetTransaction(ctx, f.txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
	assert.True(t, decimal.RequireFromString("25").Equal(got.Amount))

	assert.ErrorIs(t, f.db.UpdatePaymentState(ctx, f.txn.ID, from, to, nil, now), db.ErrConflict)
}
