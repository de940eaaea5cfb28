package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-admission/internal/database"
	"ms-admission/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the scan budget or status guard rejected the write.
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

func (d *DB) GetEventInScope(ctx context.Context, eventID, scopeID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Where("organizer_id = ?", scopeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}

func (d *DB) CreateWristband(ctx context.Context, w *models.Wristband) error {
	_, err := d.Bun.NewInsert().Model(w).Exec(ctx)
	return err
}

// GetWristbandInScope loads a wristband whose event belongs to scopeID.
func (d *DB) GetWristbandInScope(ctx context.Context, id, scopeID string) (*models.Wristband, error) {
	var w models.Wristband
	err := d.Bun.NewSelect().
		Model(&w).
		Join("JOIN events AS e ON e.id = ?TableAlias.event_id").
		Where("?TableAlias.id = ?", id).
		Where("e.organizer_id = ?", scopeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// RecordScan spends one scan. The increment is guarded on status and the
// remaining budget so concurrent scans can never push scan_count past
// max_scans. The scan log row and audit row commit with it.
func (d *DB) RecordScan(ctx context.Context, id, scopeID string, entry *models.WristbandScanLog) (*models.Wristband, error) {
	var w models.Wristband
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Wristband)(nil)).
			Set("scan_count = scan_count + 1").
			Set("updated_at = ?", entry.ScannedAt).
			Where("id = ?", id).
			Where("status = ?", models.WristbandActive).
			Where("(max_scans IS NULL OR scan_count < max_scans)").
			Exec(ctx)
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
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
			return err
		}
		if err := tx.NewSelect().Model(&w).Where("id = ?", id).Scan(ctx); err != nil {
			return err
		}
		return database.InsertAudit(ctx, tx, models.WristbandScanned{
			WristbandID: id,
			ScopeID:     scopeID,
			ScanCount:   w.ScanCount,
			Location:    entry.Location,
		}, entry.ScannedAt)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// AppendScanLog records a rejected scan.
func (d *DB) AppendScanLog(ctx context.Context, entry *models.WristbandScanLog) error {
	_, err := d.Bun.NewInsert().Model(entry).Exec(ctx)
	return err
}

func (d *DB) ListScanLogs(ctx context.Context, wristbandID string) ([]models.WristbandScanLog, error) {
	var logs []models.WristbandScanLog
	err := d.Bun.NewSelect().
		Model(&logs).
		Where("wristband_id = ?", wristbandID).
		Order("scanned_at ASC").
		Scan(ctx)
	return logs, err
}

func (d *DB) Revoke(ctx context.Context, id string, now time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Wristband)(nil)).
		Set("status = ?", models.WristbandRevoked).
		Set("encrypted_code = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.WristbandActive).
		Exec(ctx)
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
