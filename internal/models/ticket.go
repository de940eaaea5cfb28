package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "PENDING"
	TicketActive    TicketStatus = "ACTIVE"
	TicketUsed      TicketStatus = "USED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketExpired   TicketStatus = "EXPIRED"
	TicketRefunded  TicketStatus = "REFUNDED"
)

type QRCodeStatus string

const (
	QRCodeNone    QRCodeStatus = "NONE"
	QRCodeIssued  QRCodeStatus = "ISSUED"
	QRCodeRevoked QRCodeStatus = "REVOKED"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID            string       `bun:"id,pk" json:"id"`
	Status        TicketStatus `bun:"status,notnull" json:"status"`
	EventID       string       `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID  string       `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	TransactionID string       `bun:"transaction_id,notnull" json:"transaction_id"`
	UserID        string       `bun:"user_id,notnull" json:"user_id"`
	CheckedIn     bool         `bun:"checked_in,notnull,default:false" json:"checked_in"`
	CheckInTime   *time.Time   `bun:"check_in_time" json:"check_in_time,omitempty"`
	QRCodeStatus  QRCodeStatus `bun:"qr_code_status,notnull,default:'NONE'" json:"qr_code_status"`
	EncryptedCode *string      `bun:"encrypted_code" json:"-"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time    `bun:"updated_at,notnull" json:"updated_at"`
}

type TicketHolder struct {
	bun.BaseModel `bun:"table:ticket_holders"`

	ID       string `bun:"id,pk" json:"id"`
	TicketID string `bun:"ticket_id,notnull" json:"ticket_id"`
	FullName string `bun:"full_name,notnull" json:"full_name"`
	Email    string `bun:"email" json:"email"`
	Phone    string `bun:"phone" json:"phone"`
}

// TicketSnapshot is what a scanner gets back. It never carries the code.
type TicketSnapshot struct {
	TicketID     string       `json:"ticket_id"`
	EventID      string       `json:"event_id"`
	TicketTypeID string       `json:"ticket_type_id"`
	Status       TicketStatus `json:"status"`
	CheckedIn    bool         `json:"checked_in"`
	CheckInTime  *time.Time   `json:"check_in_time,omitempty"`
}

func (t Ticket) Snapshot() TicketSnapshot {
	return TicketSnapshot{
		TicketID:     t.ID,
		EventID:      t.EventID,
		TicketTypeID: t.TicketTypeID,
		Status:       t.Status,
		CheckedIn:    t.CheckedIn,
		CheckInTime:  t.CheckInTime,
	}
}
