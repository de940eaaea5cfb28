package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentExpired  PaymentStatus = "EXPIRED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Terminal reports whether the payment can no longer settle.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentExpired
}

type VerificationState string

const (
	VerificationNone       VerificationState = "NONE"
	VerificationAwaiting   VerificationState = "AWAITING"
	VerificationApproved   VerificationState = "APPROVED"
	VerificationRejected   VerificationState = "REJECTED"
	VerificationSuperseded VerificationState = "SUPERSEDED"
)

// PaymentState is the composite payment state of a transaction. Awaiting
// manual verification is its own field, never a pseudo-status.
type PaymentState struct {
	Status                     PaymentStatus     `json:"status"`
	Method                     string            `json:"method"`
	AwaitingManualVerification bool              `json:"awaiting_manual_verification"`
	Verification               VerificationState `json:"verification"`
}

type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	ID                         string            `bun:"id,pk" json:"id"`
	UserID                     string            `bun:"user_id,notnull" json:"user_id"`
	Amount                     decimal.Decimal   `bun:"amount,type:decimal(12,2),notnull" json:"amount"`
	Currency                   string            `bun:"currency,notnull,default:'USD'" json:"currency"`
	PaymentStatus              PaymentStatus     `bun:"payment_status,notnull" json:"payment_status"`
	PaymentMethod              string            `bun:"payment_method" json:"payment_method"`
	AwaitingManualVerification bool              `bun:"awaiting_manual_verification,notnull,default:false" json:"awaiting_manual_verification"`
	VerificationState          VerificationState `bun:"verification_state,notnull,default:'NONE'" json:"verification_state"`
	CreatedAt                  time.Time         `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt                  time.Time         `bun:"updated_at,notnull" json:"updated_at"`
}

func (t Transaction) State() PaymentState {
	return PaymentState{
		Status:                     t.PaymentStatus,
		Method:                     t.PaymentMethod,
		AwaitingManualVerification: t.AwaitingManualVerification,
		Verification:               t.VerificationState,
	}
}

// PaymentSettledEvent is published by the payment subsystem on payments.settled.
type PaymentSettledEvent struct {
	TransactionID string        `json:"transactionId"`
	Status        PaymentStatus `json:"status"`
	Method        string        `json:"method,omitempty"`
	SettledAt     time.Time     `json:"settledAt"`
}
