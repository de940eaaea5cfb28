package tickets

import (
	"context"
	"errors"
	"time"

	"ms-admission/internal/codec"
	"ms-admission/internal/config"
	"ms-admission/internal/logger"
	"ms-admission/internal/metrics"
	"ms-admission/internal/models"
	ticketdb "ms-admission/internal/tickets/db"
)

type TicketDBLayer interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketInScope(ctx context.Context, id, scopeID string) (*models.Ticket, error)
	GetTicketsByTransaction(ctx context.Context, transactionID string) ([]models.Ticket, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	CheckIn(ctx context.Context, id, scopeID string, now time.Time) (*models.Ticket, error)
	Activate(ctx context.Context, id, encryptedCode string, audit models.AuditEvent, now time.Time) error
	Release(ctx context.Context, ticket *models.Ticket, to models.TicketStatus, audit models.AuditEvent, now time.Time) error
	UndoCheckIn(ctx context.Context, id string, from models.TicketStatus, audit models.AuditEvent, now time.Time) error
	ExpireTickets(ctx context.Context, from []models.TicketStatus, cutoff, now time.Time) (int, error)
	UpdatePaymentState(ctx context.Context, id string, from, to models.PaymentState, audit models.AuditEvent, now time.Time) error
}

// Publisher streams domain events. A nil Publisher disables streaming.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type TicketService struct {
	DB        TicketDBLayer
	Codec     *codec.Codec
	Publisher Publisher
	Topics    config.TopicConfig
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewTicketService(db TicketDBLayer, c *codec.Codec, pub Publisher, topics config.TopicConfig, log *logger.Logger) *TicketService {
	return &TicketService{
		DB:        db,
		Codec:     c,
		Publisher: pub,
		Topics:    topics,
		Logger:    log,
		Now:       time.Now,
	}
}

func (s *TicketService) now() time.Time {
	return s.Now().UTC()
}

// Validate decides whether the code admits its holder to an event of
// scopeID, without changing anything.
func (s *TicketService) Validate(ctx context.Context, encryptedCode, scopeID string) models.VerificationResult {
	start := time.Now()
	ticket, subject, code := s.validate(ctx, encryptedCode, scopeID)
	s.record(metrics.OpValidate, scopeID, subject, code, start)
	return result(ticket, code)
}

// CheckIn validates the code and admits the ticket. Of any number of
// concurrent calls for one ticket exactly one succeeds; the others get
// ALREADY_USED.
func (s *TicketService) CheckIn(ctx context.Context, encryptedCode, scopeID string) models.VerificationResult {
	start := time.Now()
	ticket, subject, code := s.validate(ctx, encryptedCode, scopeID)
	if code == "" {
		ticket, code = s.checkIn(ctx, ticket, scopeID)
	}
	s.record(metrics.OpCheckIn, scopeID, subject, code, start)
	return result(ticket, code)
}

func (s *TicketService) validate(ctx context.Context, encryptedCode, scopeID string) (*models.Ticket, string, models.ErrorCode) {
	if scopeID == "" {
		return nil, "-", models.CodeInvalidInput
	}
	payload, err := s.Codec.Decode(encryptedCode, codec.KindTicket)
	if err != nil {
		return nil, "-", codec.CodeOf(err)
	}

	ticket, err := s.DB.GetTicketInScope(ctx, payload.TicketID, scopeID)
	if errors.Is(err, ticketdb.ErrNotFound) {
		return nil, payload.TicketID, models.CodeTicketNotFound
	}
	if err != nil {
		s.Logger.Error("ADMISSION", "ticket lookup failed for "+payload.TicketID+": "+err.Error())
		return nil, payload.TicketID, models.CodeInternalError
	}

	if ticket.CheckedIn || ticket.Status == models.TicketUsed {
		return ticket, ticket.ID, models.CodeAlreadyUsed
	}
	if ticket.Status != models.TicketActive ||
		ticket.EventID != payload.EventID ||
		ticket.TransactionID != payload.TransactionID ||
		ticket.UserID != payload.UserID {
		return ticket, ticket.ID, models.CodeStatusInvalid
	}
	return ticket, ticket.ID, ""
}

func (s *TicketService) checkIn(ctx context.Context, ticket *models.Ticket, scopeID string) (*models.Ticket, models.ErrorCode) {
	now := s.now()
	updated, err := s.DB.CheckIn(ctx, ticket.ID, scopeID, now)
	if errors.Is(err, ticketdb.ErrConflict) {
		return ticket, models.CodeAlreadyUsed
	}
	if err != nil {
		s.Logger.Error("ADMISSION", "check-in write failed for "+ticket.ID+": "+err.Error())
		return ticket, models.CodeInternalError
	}
	metrics.TrackTransition(string(models.TicketActive), string(models.TicketUsed))
	s.publish(ctx, s.Topics.TicketCheckedIn, updated.ID, models.TicketCheckedInMessage{
		TicketID:    updated.ID,
		EventID:     updated.EventID,
		ScopeID:     scopeID,
		CheckedInAt: now,
	})
	return updated, ""
}

func (s *TicketService) record(op, scopeID, subject string, code models.ErrorCode, start time.Time) {
	metrics.TrackAdmission(metrics.KindTicket, op, string(code), time.Since(start))
	s.Logger.LogAdmission("ticket", scopeID, subject, string(code))
}

func (s *TicketService) publish(ctx context.Context, topic, key string, value interface{}) {
	if s.Publisher == nil || topic == "" {
		return
	}
	if err := s.Publisher.Publish(ctx, topic, key, value); err != nil {
		s.Logger.LogKafka("PUBLISH_FAILED", topic, key+": "+err.Error())
	}
}

func result(ticket *models.Ticket, code models.ErrorCode) models.VerificationResult {
	res := models.VerificationResult{Valid: code == "", Code: code}
	if ticket != nil && (code == "" || code == models.CodeAlreadyUsed || code == models.CodeStatusInvalid) {
		snap := ticket.Snapshot()
		res.Ticket = &snap
	}
	return res
}
