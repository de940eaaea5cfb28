package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuditKind string

const (
	AuditTicketActivated              AuditKind = "ticket_activated"
	AuditTicketCheckedIn              AuditKind = "ticket_checked_in"
	AuditCheckInUndone                AuditKind = "check_in_undone"
	AuditTicketCancelled              AuditKind = "ticket_cancelled"
	AuditTicketRefunded               AuditKind = "ticket_refunded"
	AuditTicketsExpired               AuditKind = "tickets_expired"
	AuditWristbandScanned             AuditKind = "wristband_scanned"
	AuditCleanupStarted               AuditKind = "cleanup_started"
	AuditCleanupCompleted             AuditKind = "cleanup_completed"
	AuditOrphanedTransactionsPurged   AuditKind = "orphaned_transactions_purged"
	AuditManualVerificationSuperseded AuditKind = "manual_verification_superseded"
)

// AuditEvent is one of the fixed audit variants below. Each variant owns
// its shape; there is no free-form metadata.
type AuditEvent interface {
	AuditKind() AuditKind
}

type TicketActivated struct {
	TicketID      string `json:"ticketId"`
	TransactionID string `json:"transactionId"`
}

type TicketCheckedIn struct {
	TicketID string    `json:"ticketId"`
	ScopeID  string    `json:"scopeId"`
	At       time.Time `json:"at"`
}

type CheckInUndone struct {
	TicketID       string     `json:"ticketId"`
	ScopeID        string     `json:"scopeId"`
	PreviousStatus string     `json:"previousStatus"`
	PreviousTime   *time.Time `json:"previousTime,omitempty"`
}

type TicketCancelledAudit struct {
	TicketID      string `json:"ticketId"`
	TransactionID string `json:"transactionId"`
	From          string `json:"from"`
}

type TicketRefundedAudit struct {
	TicketID      string `json:"ticketId"`
	TransactionID string `json:"transactionId"`
}

type TicketsExpired struct {
	EventEndedBefore time.Time `json:"eventEndedBefore"`
	Count            int       `json:"count"`
}

type WristbandScanned struct {
	WristbandID string `json:"wristbandId"`
	ScopeID     string `json:"scopeId"`
	ScanCount   int    `json:"scanCount"`
	Location    string `json:"location,omitempty"`
}

type CleanupStarted struct {
	Candidates            int       `json:"candidates"`
	Cutoff                time.Time `json:"cutoff"`
	BatchSize             int       `json:"batchSize"`
	IncludeFailedPayments bool      `json:"includeFailedPayments"`
}

type CleanupCompleted struct {
	DeletedTickets       int   `json:"deletedTickets"`
	DeletedHolders       int   `json:"deletedHolders"`
	AffectedTransactions int   `json:"affectedTransactions"`
	AffectedTicketTypes  int   `json:"affectedTicketTypes"`
	ElapsedMillis        int64 `json:"elapsedMillis"`
}

type OrphanedTransactionsPurged struct {
	TransactionIDs []string `json:"transactionIds"`
	BuyerInfos     int      `json:"buyerInfos"`
	OrderItems     int      `json:"orderItems"`
	PaymentRecords int      `json:"paymentRecords"`
}

type ManualVerificationSuperseded struct {
	TransactionID string `json:"transactionId"`
	Method        string `json:"method"`
}

func (TicketActivated) AuditKind() AuditKind              { return AuditTicketActivated }
func (TicketCheckedIn) AuditKind() AuditKind              { return AuditTicketCheckedIn }
func (CheckInUndone) AuditKind() AuditKind                { return AuditCheckInUndone }
func (TicketCancelledAudit) AuditKind() AuditKind         { return AuditTicketCancelled }
func (TicketRefundedAudit) AuditKind() AuditKind          { return AuditTicketRefunded }
func (TicketsExpired) AuditKind() AuditKind               { return AuditTicketsExpired }
func (WristbandScanned) AuditKind() AuditKind             { return AuditWristbandScanned }
func (CleanupStarted) AuditKind() AuditKind               { return AuditCleanupStarted }
func (CleanupCompleted) AuditKind() AuditKind             { return AuditCleanupCompleted }
func (OrphanedTransactionsPurged) AuditKind() AuditKind   { return AuditOrphanedTransactionsPurged }
func (ManualVerificationSuperseded) AuditKind() AuditKind { return AuditManualVerificationSuperseded }

type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs"`

	ID            string          `bun:"id,pk"`
	Kind          AuditKind       `bun:"kind,notnull"`
	TicketID      string          `bun:"ticket_id"`
	TransactionID string          `bun:"transaction_id"`
	ScopeID       string          `bun:"scope_id"`
	Payload       json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
}

// NewAuditLog serializes ev into a row. The ticket/transaction/scope
// columns are lifted from the variant so they stay queryable.
func NewAuditLog(ev AuditEvent, now time.Time) (*AuditLog, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s audit event: %w", ev.AuditKind(), err)
	}
	row := &AuditLog{
		ID:        uuid.New().String(),
		Kind:      ev.AuditKind(),
		Payload:   payload,
		CreatedAt: now,
	}
	switch e := ev.(type) {
	case TicketActivated:
		row.TicketID, row.TransactionID = e.TicketID, e.TransactionID
	case TicketCheckedIn:
		row.TicketID, row.ScopeID = e.TicketID, e.ScopeID
	case CheckInUndone:
		row.TicketID, row.ScopeID = e.TicketID, e.ScopeID
	case TicketCancelledAudit:
		row.TicketID, row.TransactionID = e.TicketID, e.TransactionID
	case TicketRefundedAudit:
		row.TicketID, row.TransactionID = e.TicketID, e.TransactionID
	case WristbandScanned:
		row.ScopeID = e.ScopeID
	case ManualVerificationSuperseded:
		row.TransactionID = e.TransactionID
	}
	return row, nil
}

// Event decodes the payload back into its variant.
func (a AuditLog) Event() (AuditEvent, error) {
	var ev AuditEvent
	switch a.Kind {
	case AuditTicketActivated:
		ev = &TicketActivated{}
	case AuditTicketCheckedIn:
		ev = &TicketCheckedIn{}
	case AuditCheckInUndone:
		ev = &CheckInUndone{}
	case AuditTicketCancelled:
		ev = &TicketCancelledAudit{}
	case AuditTicketRefunded:
		ev = &TicketRefundedAudit{}
	case AuditTicketsExpired:
		ev = &TicketsExpired{}
	case AuditWristbandScanned:
		ev = &WristbandScanned{}
	case AuditCleanupStarted:
		ev = &CleanupStarted{}
	case AuditCleanupCompleted:
		ev = &CleanupCompleted{}
	case AuditOrphanedTransactionsPurged:
		ev = &OrphanedTransactionsPurged{}
	case AuditManualVerificationSuperseded:
		ev = &ManualVerificationSuperseded{}
	default:
		return nil, fmt.Errorf("unknown audit kind %q", a.Kind)
	}
	if err := json.Unmarshal(a.Payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s audit payload: %w", a.Kind, err)
	}
	return ev, nil
}
