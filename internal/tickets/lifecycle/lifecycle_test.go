package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-admission/internal/models"
	"ms-admission/internal/tickets/lifecycle"
)

var allStatuses = []models.TicketStatus{
	models.TicketPending,
	models.TicketActive,
	models.TicketUsed,
	models.TicketCancelled,
	models.TicketExpired,
	models.TicketRefunded,
}

var allEvents = []lifecycle.Event{
	lifecycle.PaymentConfirmed,
	lifecycle.CheckedIn,
	lifecycle.PaymentRejected,
	lifecycle.PaymentRefunded,
	lifecycle.AdminUndo,
	lifecycle.TimeExpired,
}

func TestNextAllowedEdges(t *testing.T) {
	cases := []struct {
		from models.TicketStatus
		ev   lifecycle.Event
		to   models.TicketStatus
	}{
		{models.TicketPending, lifecycle.PaymentConfirmed, models.TicketActive},
		{models.TicketActive, lifecycle.CheckedIn, models.TicketUsed},
		{models.TicketPending, lifecycle.PaymentRejected, models.TicketCancelled},
		{models.TicketActive, lifecycle.PaymentRejected, models.TicketCancelled},
		{models.TicketActive, lifecycle.PaymentRefunded, models.TicketRefunded},
		{models.TicketUsed, lifecycle.AdminUndo, models.TicketActive},
		{models.TicketActive, lifecycle.TimeExpired, models.TicketExpired},
	}
	for _, tc := range cases {
		to, err := lifecycle.Next(tc.from, tc.ev)
		require.NoError(t, err)
		assert.Equal(t, tc.to, to)
	}
}

func TestNoPathBackToActiveExceptUndo(t *testing.T) {
	for _, from := range []models.TicketStatus{models.TicketCancelled, models.TicketRefunded, models.TicketExpired} {
		for _, ev := range allEvents {
			_, err := lifecycle.Next(from, ev)
			var invalid *lifecycle.InvalidTransitionError
			assert.ErrorAs(t, err, &invalid, "%s on %s", from, ev)
		}
	}

	for _, ev := range allEvents {
		to, err := lifecycle.Next(models.TicketUsed, ev)
		if ev == lifecycle.AdminUndo {
			assert.Equal(t, models.TicketActive, to)
			continue
		}
		assert.Error(t, err, "USED on %s", ev)
	}
}

func TestCheckInIsSingleUse(t *testing.T) {
	_, ok := lifecycle.Target(models.TicketUsed, lifecycle.CheckedIn)
	assert.False(t, ok)
	assert.Equal(t, []models.TicketStatus{models.TicketActive}, lifecycle.Sources(lifecycle.CheckedIn))
}

func TestSources(t *testing.T) {
	assert.ElementsMatch(t,
		[]models.TicketStatus{models.TicketPending, models.TicketActive},
		lifecycle.Sources(lifecycle.PaymentRejected))
	assert.ElementsMatch(t,
		[]models.TicketStatus{models.TicketActive, models.TicketUsed},
		lifecycle.Sources(lifecycle.AdminUndo))
}

func TestTerminalStates(t *testing.T) {
	for _, s := range allStatuses {
		switch s {
		case models.TicketUsed, models.TicketCancelled, models.TicketRefunded:
			assert.True(t, lifecycle.IsTerminal(s), s)
		default:
			assert.False(t, lifecycle.IsTerminal(s), s)
		}
	}
}

func TestAdmissible(t *testing.T) {
	assert.True(t, lifecycle.Admissible(models.TicketActive, false))
	assert.False(t, lifecycle.Admissible(models.TicketActive, true))
	assert.False(t, lifecycle.Admissible(models.TicketPending, false))
}

func TestResubmitSupersedesPendingVerification(t *testing.T) {
	state := models.PaymentState{Status: models.PaymentPending, Method: "bank_transfer"}

	state, err := lifecycle.Apply(state, lifecycle.VerificationSubmitted)
	require.NoError(t, err)
	assert.True(t, state.AwaitingManualVerification)
	assert.Equal(t, models.PaymentPending, state.Status)

	steps, err := lifecycle.Resubmit(state.Verification)
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.VerificationEvent{lifecycle.VerificationSuperseded, lifecycle.VerificationSubmitted}, steps)

	state, err = lifecycle.Apply(state, steps...)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationAwaiting, state.Verification)
	assert.True(t, state.AwaitingManualVerification)
}

func TestUnsetVerificationActsAsNone(t *testing.T) {
	next, err := lifecycle.NextVerification("", lifecycle.VerificationSubmitted)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationAwaiting, next)

	steps, err := lifecycle.Resubmit("")
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.VerificationEvent{lifecycle.VerificationSubmitted}, steps)

	_, err = lifecycle.NextVerification("", lifecycle.VerificationApproved)
	assert.Error(t, err)
}

func TestResubmitAfterApprovalFails(t *testing.T) {
	_, err := lifecycle.Resubmit(models.VerificationApproved)
	assert.Error(t, err)

	_, err = lifecycle.NextVerification(models.VerificationApproved, lifecycle.VerificationSuperseded)
	assert.Error(t, err)
}
