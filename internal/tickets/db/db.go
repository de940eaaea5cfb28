package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-admission/internal/database"
	"ms-admission/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional write matched no row: another writer
	// moved the row first.
	ErrConflict = errors.New("conditional update matched no row")
)

type DB struct {
	Bun *bun.DB
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(ticket).Exec(ctx)
	return err
}

func (d *DB) CreateHolder(ctx context.Context, holder *models.TicketHolder) error {
	_, err := d.Bun.NewInsert().Model(holder).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &ticket, nil
}

// GetTicketInScope loads a ticket only when its event belongs to scopeID.
// A ticket of another organizer is reported as ErrNotFound.
func (d *DB) GetTicketInScope(ctx context.Context, id, scopeID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Join("JOIN events AS e ON e.id = ?TableAlias.event_id").
		Where("?TableAlias.id = ?", id).
		Where("e.organizer_id = ?", scopeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByTransaction(ctx context.Context, transactionID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Scan(ctx)
	return tickets, err
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().Model(&event).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}

func (d *DB) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var txn models.Transaction
	err := d.Bun.NewSelect().Model(&txn).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &txn, nil
}

// CheckIn flips an ACTIVE, not yet admitted ticket to USED. The guard is
// the whole admission decision: exactly one concurrent caller wins, the
// rest get ErrConflict.
func (d *DB) CheckIn(ctx context.Context, id, scopeID string, now time.Time) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketUsed).
			Set("checked_in = ?", true).
			Set("check_in_time = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status = ?", models.TicketActive).
			Where("checked_in = ?", false).
			Exec(ctx)
		if err := singleRow(res, err); err != nil {
			return err
		}
		if err := database.InsertAudit(ctx, tx, models.TicketCheckedIn{TicketID: id, ScopeID: scopeID, At: now}, now); err != nil {
			return err
		}
		return tx.NewSelect().Model(&ticket).Where("id = ?", id).Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Activate moves a PENDING ticket to ACTIVE and stores its encrypted code.
func (d *DB) Activate(ctx context.Context, id, encryptedCode string, audit models.AuditEvent, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketActive).
			Set("encrypted_code = ?", encryptedCode).
			Set("qr_code_status = ?", models.QRCodeIssued).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status = ?", models.TicketPending).
			Exec(ctx)
		if err := singleRow(res, err); err != nil {
			return err
		}
		return database.InsertAudit(ctx, tx, audit, now)
	})
}

// Release moves a ticket out of circulation (cancelled or refunded). The
// code is revoked and one unit of inventory goes back to the ticket type.
func (d *DB) Release(ctx context.Context, ticket *models.Ticket, to models.TicketStatus, audit models.AuditEvent, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", to).
			Set("qr_code_status = ?", models.QRCodeRevoked).
			Set("encrypted_code = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", ticket.ID).
			Where("status = ?", ticket.Status).
			Exec(ctx)
		if err := singleRow(res, err); err != nil {
			return err
		}
		_, err = tx.NewUpdate().
			Model((*models.TicketType)(nil)).
			Set("available = available + 1").
			Where("id = ?", ticket.TicketTypeID).
			Where("available < capacity").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("restore inventory for %s: %w", ticket.TicketTypeID, err)
		}
		return database.InsertAudit(ctx, tx, audit, now)
	})
}

// UndoCheckIn returns an admitted ticket to ACTIVE. from is the status the
// caller observed; a concurrent change yields ErrConflict.
func (d *DB) UndoCheckIn(ctx context.Context, id string, from models.TicketStatus, audit models.AuditEvent, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketActive).
			Set("checked_in = ?", false).
			Set("check_in_time = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status = ?", from).
			Exec(ctx)
		if err := singleRow(res, err); err != nil {
			return err
		}
		return database.InsertAudit(ctx, tx, audit, now)
	})
}

// ExpireTickets soft-marks unused tickets of events that ended before
// cutoff. Rows are kept.
func (d *DB) ExpireTickets(ctx context.Context, from []models.TicketStatus, cutoff, now time.Time) (int, error) {
	var affected int
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ended := tx.NewSelect().
			Model((*models.Event)(nil)).
			Column("id").
			Where("ends_at < ?", cutoff)
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketExpired).
			Set("updated_at = ?", now).
			Where("status IN (?)", bun.In(from)).
			Where("checked_in = ?", false).
			Where("event_id IN (?)", ended).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		affected = int(n)
		if affected == 0 {
			return nil
		}
		return database.InsertAudit(ctx, tx, models.TicketsExpired{EventEndedBefore: cutoff, Count: affected}, now)
	})
	return affected, err
}

// UpdatePaymentState moves a transaction from one composite payment state
// to another. The write is guarded on the observed state.
func (d *DB) UpdatePaymentState(ctx context.Context, id string, from, to models.PaymentState, audit models.AuditEvent, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Transaction)(nil)).
			Set("payment_status = ?", to.Status).
			Set("payment_method = ?", to.Method).
			Set("awaiting_manual_verification = ?", to.AwaitingManualVerification).
			Set("verification_state = ?", to.Verification).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("payment_status = ?", from.Status).
			Where("verification_state = ?", from.Verification).
			Exec(ctx)
		if err := singleRow(res, err); err != nil {
			return err
		}
		if audit == nil {
			return nil
		}
		return database.InsertAudit(ctx, tx, audit, now)
	})
}

func singleRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
