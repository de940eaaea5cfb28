package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-admission/internal/codec"
	"ms-admission/internal/metrics"
	"ms-admission/internal/models"
	ticketdb "ms-admission/internal/tickets/db"
	"ms-admission/internal/tickets/lifecycle"
)

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid ticket transition")
	ErrCodeUnavailable     = errors.New("ticket has no issued code")
)

func (s *TicketService) loadTicket(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, id)
	if errors.Is(err, ticketdb.ErrNotFound) {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrTicketNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", id, err)
	}
	return ticket, nil
}

func transitionError(ticketID string, err error) error {
	var invalid *lifecycle.InvalidTransitionError
	if errors.As(err, &invalid) {
		return fmt.Errorf("ticket %s: %v: %w", ticketID, err, ErrInvalidTransition)
	}
	if errors.Is(err, ticketdb.ErrConflict) {
		return fmt.Errorf("ticket %s changed concurrently: %w", ticketID, ErrInvalidTransition)
	}
	return fmt.Errorf("ticket %s: %w", ticketID, err)
}

// Activate confirms payment for a PENDING ticket: its encrypted code is
// generated and stored and the notification subsystem is told.
func (s *TicketService) Activate(ctx context.Context, ticketID string) error {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	to, err := lifecycle.Next(ticket.Status, lifecycle.PaymentConfirmed)
	if err != nil {
		return transitionError(ticketID, err)
	}

	event, err := s.DB.GetEvent(ctx, ticket.EventID)
	if err != nil {
		return fmt.Errorf("load event %s for ticket %s: %w", ticket.EventID, ticketID, err)
	}
	payload := s.Codec.Generate(codec.TicketIdentity{
		TicketID:      ticket.ID,
		EventID:       ticket.EventID,
		UserID:        ticket.UserID,
		TransactionID: ticket.TransactionID,
		TicketTypeID:  ticket.TicketTypeID,
	}, &event.EndsAt)
	encrypted, err := s.Codec.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("encrypt code for ticket %s: %w", ticketID, err)
	}

	audit := models.TicketActivated{TicketID: ticket.ID, TransactionID: ticket.TransactionID}
	if err := s.DB.Activate(ctx, ticket.ID, encrypted, audit, s.now()); err != nil {
		return transitionError(ticketID, err)
	}
	metrics.TrackTransition(string(ticket.Status), string(to))
	s.Logger.LogLifecycle("ACTIVATE", ticket.ID, "code issued")
	s.publish(ctx, s.Topics.TicketActivated, ticket.ID, models.TicketActivatedMessage{
		TicketID:      ticket.ID,
		EventID:       ticket.EventID,
		UserID:        ticket.UserID,
		TransactionID: ticket.TransactionID,
		EncryptedCode: encrypted,
		ExpiresAt:     payload.ExpiresAt,
	})
	return nil
}

// Cancel handles a rejected payment.
func (s *TicketService) Cancel(ctx context.Context, ticketID string) error {
	return s.release(ctx, ticketID, lifecycle.PaymentRejected)
}

// Refund handles a refunded payment. An unpaid ticket ends up CANCELLED,
// a paid unused one REFUNDED.
func (s *TicketService) Refund(ctx context.Context, ticketID string) error {
	return s.release(ctx, ticketID, lifecycle.PaymentRefunded)
}

func (s *TicketService) release(ctx context.Context, ticketID string, ev lifecycle.Event) error {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	to, err := lifecycle.Next(ticket.Status, ev)
	if err != nil {
		return transitionError(ticketID, err)
	}

	var audit models.AuditEvent = models.TicketCancelledAudit{
		TicketID:      ticket.ID,
		TransactionID: ticket.TransactionID,
		From:          string(ticket.Status),
	}
	if to == models.TicketRefunded {
		audit = models.TicketRefundedAudit{TicketID: ticket.ID, TransactionID: ticket.TransactionID}
	}
	if err := s.DB.Release(ctx, ticket, to, audit, s.now()); err != nil {
		return transitionError(ticketID, err)
	}
	metrics.TrackTransition(string(ticket.Status), string(to))
	s.Logger.LogLifecycle(string(ev), ticket.ID, fmt.Sprintf("%s -> %s", ticket.Status, to))
	s.publish(ctx, s.Topics.TicketCancelled, ticket.ID, models.TicketCancelledMessage{
		TicketID:      ticket.ID,
		TransactionID: ticket.TransactionID,
		TicketTypeID:  ticket.TicketTypeID,
		Status:        to,
	})
	return nil
}

// UndoCheckIn reverses an admission. Privileged; scanner routes never call it.
func (s *TicketService) UndoCheckIn(ctx context.Context, ticketID, scopeID string) (*models.TicketSnapshot, error) {
	ticket, err := s.DB.GetTicketInScope(ctx, ticketID, scopeID)
	if errors.Is(err, ticketdb.ErrNotFound) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrTicketNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	to, err := lifecycle.Next(ticket.Status, lifecycle.AdminUndo)
	if err != nil {
		return nil, transitionError(ticketID, err)
	}

	audit := models.CheckInUndone{
		TicketID:       ticket.ID,
		ScopeID:        scopeID,
		PreviousStatus: string(ticket.Status),
		PreviousTime:   ticket.CheckInTime,
	}
	if err := s.DB.UndoCheckIn(ctx, ticket.ID, ticket.Status, audit, s.now()); err != nil {
		return nil, transitionError(ticketID, err)
	}
	metrics.TrackTransition(string(ticket.Status), string(to))
	s.Logger.LogLifecycle("UNDO_CHECKIN", ticket.ID, "scope "+scopeID)

	ticket.Status = to
	ticket.CheckedIn = false
	ticket.CheckInTime = nil
	snap := ticket.Snapshot()
	return &snap, nil
}

// IssuedCode returns the stored encrypted code of an ACTIVE ticket in scopeID.
func (s *TicketService) IssuedCode(ctx context.Context, ticketID, scopeID string) (string, error) {
	ticket, err := s.DB.GetTicketInScope(ctx, ticketID, scopeID)
	if errors.Is(err, ticketdb.ErrNotFound) {
		return "", fmt.Errorf("ticket %s: %w", ticketID, ErrTicketNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	if ticket.Status != models.TicketActive || ticket.QRCodeStatus != models.QRCodeIssued || ticket.EncryptedCode == nil {
		return "", fmt.Errorf("ticket %s is %s: %w", ticketID, ticket.Status, ErrCodeUnavailable)
	}
	return *ticket.EncryptedCode, nil
}

// ExpireTickets marks unused tickets of events that ended before cutoff.
func (s *TicketService) ExpireTickets(ctx context.Context, eventEndedBefore time.Time) (int, error) {
	n, err := s.DB.ExpireTickets(ctx, lifecycle.Sources(lifecycle.TimeExpired), eventEndedBefore.UTC(), s.now())
	if err != nil {
		return 0, fmt.Errorf("expire tickets of events ended before %s: %w", eventEndedBefore.Format(time.RFC3339), err)
	}
	if n > 0 {
		s.Logger.LogLifecycle("EXPIRE", "-", fmt.Sprintf("%d tickets expired", n))
	}
	return n, nil
}

// SettlementResult summarizes what one payment settlement changed.
type SettlementResult struct {
	TransactionID string
	Transitioned  int
	Skipped       int
}

// ApplySettlement records the settled payment status on the transaction
// and moves each of its tickets accordingly. Redelivery is harmless:
// tickets already past the relevant transition are skipped.
func (s *TicketService) ApplySettlement(ctx context.Context, ev models.PaymentSettledEvent) (SettlementResult, error) {
	res := SettlementResult{TransactionID: ev.TransactionID}
	txn, err := s.DB.GetTransaction(ctx, ev.TransactionID)
	if errors.Is(err, ticketdb.ErrNotFound) {
		return res, fmt.Errorf("transaction %s: %w", ev.TransactionID, ErrTransactionNotFound)
	}
	if err != nil {
		return res, fmt.Errorf("load transaction %s: %w", ev.TransactionID, err)
	}

	var (
		event lifecycle.Event
		apply func(context.Context, string) error
	)
	switch ev.Status {
	case models.PaymentSuccess:
		event, apply = lifecycle.PaymentConfirmed, s.Activate
	case models.PaymentFailed, models.PaymentExpired:
		event, apply = lifecycle.PaymentRejected, s.Cancel
	case models.PaymentRefunded:
		event, apply = lifecycle.PaymentRefunded, s.Refund
	default:
		return res, fmt.Errorf("settlement for %s carries unsettled status %q", ev.TransactionID, ev.Status)
	}

	if err := s.recordPaymentStatus(ctx, txn, ev); err != nil {
		return res, err
	}

	tickets, err := s.DB.GetTicketsByTransaction(ctx, txn.ID)
	if err != nil {
		return res, fmt.Errorf("load tickets of transaction %s: %w", txn.ID, err)
	}
	for _, ticket := range tickets {
		if _, ok := lifecycle.Target(ticket.Status, event); !ok {
			res.Skipped++
			continue
		}
		if err := apply(ctx, ticket.ID); err != nil {
			return res, err
		}
		res.Transitioned++
	}
	return res, nil
}

func (s *TicketService) recordPaymentStatus(ctx context.Context, txn *models.Transaction, ev models.PaymentSettledEvent) error {
	from := txn.State()
	to := from
	to.Status = ev.Status
	if ev.Method != "" {
		to.Method = ev.Method
	}
	if from.Verification == models.VerificationAwaiting {
		verdict := lifecycle.VerificationRejected
		if ev.Status == models.PaymentSuccess {
			verdict = lifecycle.VerificationApproved
		}
		next, err := lifecycle.Apply(to, verdict)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", txn.ID, err)
		}
		to = next
	}
	if to == from {
		return nil
	}
	if err := s.DB.UpdatePaymentState(ctx, txn.ID, from, to, nil, s.now()); err != nil {
		return fmt.Errorf("record payment status %s on %s: %w", ev.Status, txn.ID, err)
	}
	return nil
}

// ResubmitManualVerification starts a fresh manual verification for a
// transaction. A pending one is superseded first, once, with an audit row.
func (s *TicketService) ResubmitManualVerification(ctx context.Context, transactionID, method string) (models.PaymentState, error) {
	txn, err := s.DB.GetTransaction(ctx, transactionID)
	if errors.Is(err, ticketdb.ErrNotFound) {
		return models.PaymentState{}, fmt.Errorf("transaction %s: %w", transactionID, ErrTransactionNotFound)
	}
	if err != nil {
		return models.PaymentState{}, fmt.Errorf("load transaction %s: %w", transactionID, err)
	}

	from := txn.State()
	steps, err := lifecycle.Resubmit(from.Verification)
	if err != nil {
		return from, fmt.Errorf("transaction %s: %w", transactionID, err)
	}
	to, err := lifecycle.Apply(from, steps...)
	if err != nil {
		return from, fmt.Errorf("transaction %s: %w", transactionID, err)
	}
	if method != "" {
		to.Method = method
	}

	var audit models.AuditEvent
	if steps[0] == lifecycle.VerificationSuperseded {
		audit = models.ManualVerificationSuperseded{TransactionID: transactionID, Method: from.Method}
	}
	if err := s.DB.UpdatePaymentState(ctx, transactionID, from, to, audit, s.now()); err != nil {
		return from, fmt.Errorf("resubmit verification for %s: %w", transactionID, err)
	}
	s.Logger.LogLifecycle("RESUBMIT_VERIFICATION", transactionID, fmt.Sprintf("%s -> %s", from.Verification, to.Verification))
	return to, nil
}
