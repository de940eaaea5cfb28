package models

import (
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Dependent rows of a transaction. Only the orphaned transaction cleanup
// touches them.

type BuyerInfo struct {
	bun.BaseModel `bun:"table:buyer_infos"`

	ID            string `bun:"id,pk"`
	TransactionID string `bun:"transaction_id,notnull"`
	FullName      string `bun:"full_name"`
	Email         string `bun:"email"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID            string          `bun:"id,pk"`
	TransactionID string          `bun:"transaction_id,notnull"`
	TicketTypeID  string          `bun:"ticket_type_id,notnull"`
	Quantity      int             `bun:"quantity,notnull"`
	UnitPrice     decimal.Decimal `bun:"unit_price,type:decimal(12,2),notnull"`
}

type PaymentRecord struct {
	bun.BaseModel `bun:"table:payment_records"`

	ID            string        `bun:"id,pk"`
	TransactionID string        `bun:"transaction_id,notnull"`
	Provider      string        `bun:"provider"`
	ProviderRef   string        `bun:"provider_ref"`
	Status        PaymentStatus `bun:"status,notnull"`
}
