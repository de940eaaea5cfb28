package models

import (
	"time"

	"github.com/uptrace/bun"
)

type WristbandStatus string

const (
	WristbandActive  WristbandStatus = "ACTIVE"
	WristbandRevoked WristbandStatus = "REVOKED"
	WristbandExpired WristbandStatus = "EXPIRED"
)

type Wristband struct {
	bun.BaseModel `bun:"table:wristbands"`

	ID            string          `bun:"id,pk" json:"id"`
	EventID       string          `bun:"event_id,notnull" json:"event_id"`
	Name          string          `bun:"name,notnull" json:"name"`
	MaxScans      *int            `bun:"max_scans" json:"max_scans,omitempty"`
	ScanCount     int             `bun:"scan_count,notnull,default:0" json:"scan_count"`
	ValidFrom     *time.Time      `bun:"valid_from" json:"valid_from,omitempty"`
	ValidUntil    *time.Time      `bun:"valid_until" json:"valid_until,omitempty"`
	Status        WristbandStatus `bun:"status,notnull" json:"status"`
	EncryptedCode *string         `bun:"encrypted_code" json:"-"`
	CreatedAt     time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// WithinWindow reports whether now falls inside [ValidFrom, ValidUntil].
// Unset bounds are open.
func (w Wristband) WithinWindow(now time.Time) bool {
	if w.ValidFrom != nil && now.Before(*w.ValidFrom) {
		return false
	}
	if w.ValidUntil != nil && now.After(*w.ValidUntil) {
		return false
	}
	return true
}

// Exhausted reports whether the scan budget is used up.
func (w Wristband) Exhausted() bool {
	return w.MaxScans != nil && w.ScanCount >= *w.MaxScans
}

type WristbandSnapshot struct {
	WristbandID string          `json:"wristband_id"`
	EventID     string          `json:"event_id"`
	Name        string          `json:"name"`
	Status      WristbandStatus `json:"status"`
	ScanCount   int             `json:"scan_count"`
	MaxScans    *int            `json:"max_scans,omitempty"`
}

func (w Wristband) Snapshot() WristbandSnapshot {
	return WristbandSnapshot{
		WristbandID: w.ID,
		EventID:     w.EventID,
		Name:        w.Name,
		Status:      w.Status,
		ScanCount:   w.ScanCount,
		MaxScans:    w.MaxScans,
	}
}

// WristbandScanLog is append-only history. Result is "OK" or an ErrorCode.
type WristbandScanLog struct {
	bun.BaseModel `bun:"table:wristband_scan_logs"`

	ID          string    `bun:"id,pk" json:"id"`
	WristbandID string    `bun:"wristband_id,notnull" json:"wristband_id"`
	ScannedAt   time.Time `bun:"scanned_at,notnull" json:"scanned_at"`
	Result      string    `bun:"result,notnull" json:"result"`
	Location    string    `bun:"location" json:"location,omitempty"`
	Device      string    `bun:"device" json:"device,omitempty"`
}

const ScanResultOK = "OK"
