package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is read-only here. OrganizerID is the tenant boundary every
// ticket and wristband lookup is scoped to.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `bun:"id,pk" json:"id"`
	OrganizerID string    `bun:"organizer_id,notnull" json:"organizer_id"`
	Name        string    `bun:"name,notnull" json:"name"`
	StartsAt    time.Time `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt      time.Time `bun:"ends_at,notnull" json:"ends_at"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID        string `bun:"id,pk" json:"id"`
	EventID   string `bun:"event_id,notnull" json:"event_id"`
	Name      string `bun:"name,notnull" json:"name"`
	Capacity  int    `bun:"capacity,notnull" json:"capacity"`
	Available int    `bun:"available,notnull" json:"available"`
}
