package lifecycle

import (
	"fmt"

	"ms-admission/internal/models"
)

type VerificationEvent string

const (
	VerificationSubmitted VerificationEvent = "submitted"
	VerificationApproved  VerificationEvent = "approved"
	VerificationRejected  VerificationEvent = "rejected"
	// Supersede retires a pending manual verification so a new one can
	// be submitted.
	VerificationSuperseded VerificationEvent = "superseded"
)

type verificationTransition struct {
	From  models.VerificationState
	Event VerificationEvent
	To    models.VerificationState
}

var verificationTransitions = []verificationTransition{
	{From: models.VerificationNone, Event: VerificationSubmitted, To: models.VerificationAwaiting},
	{From: models.VerificationRejected, Event: VerificationSubmitted, To: models.VerificationAwaiting},
	{From: models.VerificationSuperseded, Event: VerificationSubmitted, To: models.VerificationAwaiting},
	{From: models.VerificationAwaiting, Event: VerificationApproved, To: models.VerificationApproved},
	{From: models.VerificationAwaiting, Event: VerificationRejected, To: models.VerificationRejected},
	{From: models.VerificationAwaiting, Event: VerificationSuperseded, To: models.VerificationSuperseded},
}

// normalize treats an unset state as None.
func normalize(s models.VerificationState) models.VerificationState {
	if s == "" {
		return models.VerificationNone
	}
	return s
}

func NextVerification(from models.VerificationState, ev VerificationEvent) (models.VerificationState, error) {
	from = normalize(from)
	for _, tr := range verificationTransitions {
		if tr.From == from && tr.Event == ev {
			return tr.To, nil
		}
	}
	return "", fmt.Errorf("no verification transition from %s on %s", from, ev)
}

// Resubmit returns the steps needed to submit a fresh manual verification
// from the current state: a pending one is superseded first.
func Resubmit(current models.VerificationState) ([]VerificationEvent, error) {
	current = normalize(current)
	if current == models.VerificationApproved {
		return nil, fmt.Errorf("verification already approved")
	}
	if current == models.VerificationAwaiting {
		return []VerificationEvent{VerificationSuperseded, VerificationSubmitted}, nil
	}
	return []VerificationEvent{VerificationSubmitted}, nil
}

// Apply replays events on the composite payment state.
func Apply(state models.PaymentState, events ...VerificationEvent) (models.PaymentState, error) {
	for _, ev := range events {
		next, err := NextVerification(state.Verification, ev)
		if err != nil {
			return state, err
		}
		state.Verification = next
		state.AwaitingManualVerification = next == models.VerificationAwaiting
	}
	return state, nil
}
