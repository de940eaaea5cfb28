package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	tickets "ms-admission/internal/tickets/service"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type MockSettlementHandler struct {
	mock.Mock
}

func (m *MockSettlementHandler) ApplySettlement(ctx context.Context, ev models.PaymentSettledEvent) (tickets.SettlementResult, error) {
	args := m.Called(ev.TransactionID, ev.Status)
	return args.Get(0).(tickets.SettlementResult), args.Error(1)
}

func settlement(t *testing.T, offset int64, txn string, status models.PaymentStatus) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.PaymentSettledEvent{TransactionID: txn, Status: status, SettledAt: time.Now()})
	require.NoError(t, err)
	return kafka.Message{Topic: "payments.settled", Offset: offset, Value: value}
}

func TestPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Logger: logger.Discard()}

	msg := models.TicketCheckedInMessage{TicketID: "t-1", EventID: "e-1", ScopeID: "org-1"}
	require.NoError(t, p.Publish(context.Background(), "tickets.checked_in", "t-1", msg))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "tickets.checked_in", w.msgs[0].Topic)
	assert.Equal(t, []byte("t-1"), w.msgs[0].Key)
	var decoded models.TicketCheckedInMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &Producer{Writer: &fakeWriter{err: boom}, Logger: logger.Discard()}
	err := p.Publish(context.Background(), "tickets.activated", "t-1", struct{}{})
	assert.ErrorIs(t, err, boom)
}

func TestHandleOutcomes(t *testing.T) {
	h := new(MockSettlementHandler)
	h.On("ApplySettlement", "txn-ok", models.PaymentSuccess).Return(tickets.SettlementResult{TransactionID: "txn-ok", Transitioned: 2}, nil)
	h.On("ApplySettlement", "txn-gone", models.PaymentFailed).Return(tickets.SettlementResult{}, tickets.ErrTransactionNotFound)

	c := newConsumer(newFakeReader(), h, logger.Discard())
	ctx := context.Background()

	assert.Equal(t, OutcomeApplied, c.Handle(ctx, settlement(t, 1, "txn-ok", models.PaymentSuccess)))
	assert.Equal(t, OutcomeUnknownTransaction, c.Handle(ctx, settlement(t, 2, "txn-gone", models.PaymentFailed)))
	assert.Equal(t, OutcomeMalformed, c.Handle(ctx, kafka.Message{Value: []byte("{not json")}))
	assert.Equal(t, OutcomeMalformed, c.Handle(ctx, settlement(t, 3, "", models.PaymentSuccess)))
	assert.Equal(t, OutcomeMalformed, c.Handle(ctx, settlement(t, 4, "txn-x", models.PaymentPending)))

	h.AssertExpectations(t)
	h.AssertNumberOfCalls(t, "ApplySettlement", 2)
}

func TestHandleRetriesInfrastructureFailures(t *testing.T) {
	h := new(MockSettlementHandler)
	h.On("ApplySettlement", "txn-1", models.PaymentSuccess).Return(tickets.SettlementResult{}, errors.New("connection reset")).Twice()
	h.On("ApplySettlement", "txn-1", models.PaymentSuccess).Return(tickets.SettlementResult{Transitioned: 1}, nil).Once()

	c := newConsumer(newFakeReader(), h, logger.Discard())
	c.Backoff = time.Millisecond

	assert.Equal(t, OutcomeApplied, c.Handle(context.Background(), settlement(t, 1, "txn-1", models.PaymentSuccess)))
	h.AssertNumberOfCalls(t, "ApplySettlement", 3)
}

func TestHandleGivesUp(t *testing.T) {
	h := new(MockSettlementHandler)
	h.On("ApplySettlement", "txn-1", models.PaymentRefunded).Return(tickets.SettlementResult{}, errors.New("db down"))

	c := newConsumer(newFakeReader(), h, logger.Discard())
	c.Backoff = time.Millisecond
	c.MaxAttempts = 2

	assert.Equal(t, OutcomeFailed, c.Handle(context.Background(), settlement(t, 1, "txn-1", models.PaymentRefunded)))
	h.AssertNumberOfCalls(t, "ApplySettlement", 2)
}

func TestRunCommitsEveryHandledMessage(t *testing.T) {
	h := new(MockSettlementHandler)
	h.On("ApplySettlement", mock.Anything, mock.Anything).Return(tickets.SettlementResult{Transitioned: 1}, nil)

	reader := newFakeReader(
		settlement(t, 10, "txn-1", models.PaymentSuccess),
		kafka.Message{Offset: 11, Value: []byte("garbage")},
		settlement(t, 12, "txn-2", models.PaymentExpired),
	)
	c := newConsumer(reader, h, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	require.NoError(t, <-done)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, []int64{10, 11, 12}, reader.committed)
}
