package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-admission/internal/logger"
	"ms-admission/internal/metrics"
	"ms-admission/internal/models"
	tickets "ms-admission/internal/tickets/service"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type SettlementHandler interface {
	ApplySettlement(ctx context.Context, ev models.PaymentSettledEvent) (tickets.SettlementResult, error)
}

const (
	OutcomeApplied            = "applied"
	OutcomeMalformed          = "malformed"
	OutcomeUnknownTransaction = "unknown_transaction"
	OutcomeFailed             = "failed"
)

const (
	defaultMaxAttempts   = 3
	defaultHandleTimeout = 10 * time.Second
	defaultBackoff       = time.Second
)

// Consumer applies payments.settled events to the tickets of the settled
// transaction. Offsets are committed once a message is handled or given up
// on, so a poison message never blocks the partition.
type Consumer struct {
	reader        messageReader
	Topic         string
	Handler       SettlementHandler
	Logger        *logger.Logger
	HandleTimeout time.Duration
	MaxAttempts   int
	Backoff       time.Duration
}

// NewSettlementConsumer creates a consumer-group reader on topic.
func NewSettlementConsumer(brokers []string, topic, groupID string, handler SettlementHandler, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	c := newConsumer(reader, handler, log)
	c.Topic = topic
	return c
}

func newConsumer(reader messageReader, handler SettlementHandler, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:        reader,
		Handler:       handler,
		Logger:        log,
		HandleTimeout: defaultHandleTimeout,
		MaxAttempts:   defaultMaxAttempts,
		Backoff:       defaultBackoff,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.Logger.LogKafka("CONSUMER_STARTED", c.Topic, "waiting for settlements")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", "fetch failed: "+err.Error())
			if !sleep(ctx, c.Backoff) {
				return nil
			}
			continue
		}

		outcome := c.Handle(ctx, msg)
		if ctx.Err() != nil && outcome == OutcomeFailed {
			// shutting down mid-retry; leave the offset for the next owner
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("commit offset %d: %v", msg.Offset, err))
		}
	}
}

// Handle applies one message and reports its outcome. Infrastructure
// failures are retried with linear backoff before the message is dropped.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) string {
	var ev models.PaymentSettledEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.TransactionID == "" || !settled(ev.Status) {
		c.Logger.Warn("KAFKA", fmt.Sprintf("discarding malformed settlement at %s/%d offset %d", msg.Topic, msg.Partition, msg.Offset))
		metrics.TrackSettlement(string(ev.Status), OutcomeMalformed)
		return OutcomeMalformed
	}

	for attempt := 1; ; attempt++ {
		outcome, err := c.apply(ctx, ev)
		if err == nil || outcome != OutcomeFailed {
			metrics.TrackSettlement(string(ev.Status), outcome)
			return outcome
		}
		if attempt >= c.MaxAttempts || !sleep(ctx, time.Duration(attempt)*c.Backoff) {
			c.Logger.Error("KAFKA", fmt.Sprintf("settlement of %s dropped after %d attempts: %v", ev.TransactionID, attempt, err))
			metrics.TrackSettlement(string(ev.Status), OutcomeFailed)
			return OutcomeFailed
		}
		c.Logger.Warn("KAFKA", fmt.Sprintf("settlement of %s failed (attempt %d): %v", ev.TransactionID, attempt, err))
	}
}

func (c *Consumer) apply(ctx context.Context, ev models.PaymentSettledEvent) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, c.HandleTimeout)
	defer cancel()

	res, err := c.Handler.ApplySettlement(hctx, ev)
	switch {
	case errors.Is(err, tickets.ErrTransactionNotFound):
		c.Logger.Warn("KAFKA", "settlement for unknown transaction "+ev.TransactionID)
		return OutcomeUnknownTransaction, nil
	case err != nil:
		return OutcomeFailed, err
	}
	c.Logger.LogKafka("SETTLED", c.Topic,
		fmt.Sprintf("%s %s: %d transitioned, %d skipped", ev.TransactionID, ev.Status, res.Transitioned, res.Skipped))
	return OutcomeApplied, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func settled(s models.PaymentStatus) bool {
	switch s {
	case models.PaymentSuccess, models.PaymentFailed, models.PaymentExpired, models.PaymentRefunded:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
