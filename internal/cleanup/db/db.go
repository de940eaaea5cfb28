package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-admission/internal/database"
	"ms-admission/internal/models"
)

// TerminalPaymentStatuses are the payment outcomes that can never settle.
var TerminalPaymentStatuses = []models.PaymentStatus{models.PaymentFailed, models.PaymentExpired}

type DB struct {
	Bun *bun.DB
}

// PendingRow is one PENDING ticket with the payment status of its
// transaction. PaymentStatus is empty when the transaction is gone.
type PendingRow struct {
	ID            string               `bun:"id"`
	TransactionID string               `bun:"transaction_id"`
	TicketTypeID  string               `bun:"ticket_type_id"`
	CreatedAt     time.Time            `bun:"created_at"`
	PaymentStatus models.PaymentStatus `bun:"payment_status"`
}

func (d *DB) pendingQuery() *bun.SelectQuery {
	return d.Bun.NewSelect().
		TableExpr("tickets AS t").
		ColumnExpr("t.id, t.transaction_id, t.ticket_type_id, t.created_at").
		ColumnExpr("tr.payment_status").
		Join("LEFT JOIN transactions AS tr ON tr.id = t.transaction_id").
		Where("t.status = ?", models.TicketPending)
}

// ListPending returns every PENDING ticket. Used for statistics only.
func (d *DB) ListPending(ctx context.Context) ([]PendingRow, error) {
	var rows []PendingRow
	if err := d.pendingQuery().Order("t.created_at ASC").Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list pending tickets: %w", err)
	}
	return rows, nil
}

// Candidates selects up to limit PENDING tickets created before cutoff or,
// when includeFailed is set, tied to a failed or expired payment.
func (d *DB) Candidates(ctx context.Context, cutoff time.Time, includeFailed bool, limit int) ([]PendingRow, error) {
	var rows []PendingRow
	err := d.pendingQuery().
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("t.created_at < ?", cutoff)
			if includeFailed {
				q = q.WhereOr("tr.payment_status IN (?)", bun.In(TerminalPaymentStatuses))
			}
			return q
		}).
		Order("t.created_at ASC").
		Limit(limit).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("select cleanup candidates: %w", err)
	}
	return rows, nil
}

// BatchResult counts what one delete batch removed.
type BatchResult struct {
	DeletedTickets       int
	DeletedHolders       int
	AffectedTransactions int
	AffectedTicketTypes  int
}

// DeleteBatch hard-deletes the given tickets and their holders in one
// transaction, bracketed by CleanupStarted and CleanupCompleted audit rows.
// Tickets go first, guarded on status PENDING; holders are removed only for
// the tickets that delete returned, so a ticket that moved on since
// selection keeps its holder.
func (d *DB) DeleteBatch(ctx context.Context, ids []string, started models.CleanupStarted, now time.Time) (BatchResult, error) {
	var result BatchResult
	begin := time.Now()
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := database.InsertAudit(ctx, tx, started, now); err != nil {
			return err
		}

		var deleted []PendingRow
		err := tx.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Where("status = ?", models.TicketPending).
			Returning("id, transaction_id, ticket_type_id").
			Scan(ctx, &deleted)
		if err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
		if len(deleted) == 0 {
			return database.InsertAudit(ctx, tx, models.CleanupCompleted{}, now)
		}

		gone := make([]string, 0, len(deleted))
		txns := map[string]struct{}{}
		types := map[string]struct{}{}
		for _, row := range deleted {
			gone = append(gone, row.ID)
			txns[row.TransactionID] = struct{}{}
			types[row.TicketTypeID] = struct{}{}
		}

		res, err := tx.NewDelete().
			Model((*models.TicketHolder)(nil)).
			Where("ticket_id IN (?)", bun.In(gone)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete ticket holders: %w", err)
		}
		holders, err := res.RowsAffected()
		if err != nil {
			return err
		}

		result = BatchResult{
			DeletedTickets:       len(deleted),
			DeletedHolders:       int(holders),
			AffectedTransactions: len(txns),
			AffectedTicketTypes:  len(types),
		}
		return database.InsertAudit(ctx, tx, models.CleanupCompleted{
			DeletedTickets:       result.DeletedTickets,
			DeletedHolders:       result.DeletedHolders,
			AffectedTransactions: result.AffectedTransactions,
			AffectedTicketTypes:  result.AffectedTicketTypes,
			ElapsedMillis:        time.Since(begin).Milliseconds(),
		}, now)
	})
	if err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

func orphanQuery(q *bun.SelectQuery) *bun.SelectQuery {
	return q.
		Where("?TableAlias.payment_status IN (?)", bun.In(TerminalPaymentStatuses)).
		Where("NOT EXISTS (SELECT 1 FROM tickets AS t WHERE t.transaction_id = ?TableAlias.id)")
}

// FindOrphans returns failed or expired transactions without any ticket.
func (d *DB) FindOrphans(ctx context.Context) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := d.Bun.NewSelect().
		Model(&txns).
		Apply(orphanQuery).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find orphaned transactions: %w", err)
	}
	return txns, nil
}

// PurgeOrphans deletes orphaned transactions and their dependent rows in one
// transaction. Transactions that gained a ticket since selection are kept.
func (d *DB) PurgeOrphans(ctx context.Context, ids []string, now time.Time) (models.OrphanedTransactionsPurged, error) {
	var purged models.OrphanedTransactionsPurged
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var still []string
		err := tx.NewSelect().
			Model((*models.Transaction)(nil)).
			Column("id").
			Where("?TableAlias.id IN (?)", bun.In(ids)).
			Apply(orphanQuery).
			Scan(ctx, &still)
		if err != nil {
			return fmt.Errorf("reselect orphans: %w", err)
		}
		if len(still) == 0 {
			return nil
		}

		counts := make([]int, 3)
		for i, model := range []interface{}{
			(*models.BuyerInfo)(nil),
			(*models.OrderItem)(nil),
			(*models.PaymentRecord)(nil),
		} {
			res, err := tx.NewDelete().Model(model).Where("transaction_id IN (?)", bun.In(still)).Exec(ctx)
			if err != nil {
				return fmt.Errorf("delete %T: %w", model, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			counts[i] = int(n)
		}

		if _, err := tx.NewDelete().
			Model((*models.Transaction)(nil)).
			Where("id IN (?)", bun.In(still)).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}

		purged = models.OrphanedTransactionsPurged{
			TransactionIDs: still,
			BuyerInfos:     counts[0],
			OrderItems:     counts[1],
			PaymentRecords: counts[2],
		}
		return database.InsertAudit(ctx, tx, purged, now)
	})
	if err != nil {
		return models.OrphanedTransactionsPurged{}, err
	}
	return purged, nil
}
