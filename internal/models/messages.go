package models

import "time"

// Messages this service publishes. Keys are the subject id.

type TicketActivatedMessage struct {
	TicketID      string     `json:"ticketId"`
	EventID       string     `json:"eventId"`
	UserID        string     `json:"userId"`
	TransactionID string     `json:"transactionId"`
	EncryptedCode string     `json:"encryptedCode"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type TicketCheckedInMessage struct {
	TicketID    string    `json:"ticketId"`
	EventID     string    `json:"eventId"`
	ScopeID     string    `json:"scopeId"`
	CheckedInAt time.Time `json:"checkedInAt"`
}

type TicketCancelledMessage struct {
	TicketID      string       `json:"ticketId"`
	TransactionID string       `json:"transactionId"`
	TicketTypeID  string       `json:"ticketTypeId"`
	Status        TicketStatus `json:"status"`
}

type WristbandScannedMessage struct {
	WristbandID string    `json:"wristbandId"`
	EventID     string    `json:"eventId"`
	ScopeID     string    `json:"scopeId"`
	ScanCount   int       `json:"scanCount"`
	ScannedAt   time.Time `json:"scannedAt"`
	Location    string    `json:"location,omitempty"`
}

type CleanupCompletedMessage struct {
	DeletedTickets       int       `json:"deletedTickets"`
	DeletedHolders       int       `json:"deletedHolders"`
	AffectedTransactions int       `json:"affectedTransactions"`
	PurgedTransactions   int       `json:"purgedTransactions"`
	ExpiredTickets       int       `json:"expiredTickets"`
	FinishedAt           time.Time `json:"finishedAt"`
}
