package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cleanupredis "ms-admission/internal/cleanup/redis"
	"ms-admission/internal/cleanup/scheduler"
	cleanup "ms-admission/internal/cleanup/service"
	"ms-admission/internal/config"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"
)

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Cleanup(ctx context.Context, opts cleanup.Options) (cleanup.Report, error) {
	args := m.Called(opts)
	return args.Get(0).(cleanup.Report), args.Error(1)
}

func (m *MockRunner) CleanupOrphanedTransactions(ctx context.Context, dryRun bool) (cleanup.OrphanReport, error) {
	args := m.Called(dryRun)
	return args.Get(0).(cleanup.OrphanReport), args.Error(1)
}

type MockLocker struct{ mock.Mock }

func (m *MockLocker) Lock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	args := m.Called(key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) Unlock(ctx context.Context, key, owner string) error {
	return m.Called(key).Error(0)
}

type MockExpirer struct{ mock.Mock }

func (m *MockExpirer) ExpireTickets(ctx context.Context, eventEndedBefore time.Time) (int, error) {
	args := m.Called(eventEndedBefore)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, value interface{}) error {
	return m.Called(topic, value).Error(0)
}

var cfg = config.CleanupConfig{
	Interval:              time.Hour,
	MaxAge:                24 * time.Hour,
	BatchSize:             500,
	IncludeFailedPayments: true,
	LockTTL:               10 * time.Minute,
	Timeout:               time.Minute,
}

func TestRunOncePublishesReport(t *testing.T) {
	runner, lock, pub := new(MockRunner), new(MockLocker), new(MockPublisher)
	lock.On("Lock", cleanupredis.LockKey, cfg.LockTTL).Return(true, nil)
	lock.On("Unlock", cleanupredis.LockKey).Return(nil)
	runner.On("Cleanup", cleanup.Options{MaxAge: cfg.MaxAge, BatchSize: cfg.BatchSize, IncludeFailedPayments: true}).
		Return(cleanup.Report{DeletedTickets: 4, DeletedHolders: 4, AffectedTransactions: 2}, nil)
	runner.On("CleanupOrphanedTransactions", false).Return(cleanup.OrphanReport{Transactions: []string{"x"}}, nil)
	pub.On("Publish", "cleanup.completed", mock.MatchedBy(func(msg models.CleanupCompletedMessage) bool {
		return msg.DeletedTickets == 4 && msg.AffectedTransactions == 2 && msg.PurgedTransactions == 1 && msg.ExpiredTickets == 3
	})).Return(nil)
	expirer := new(MockExpirer)
	expirer.On("ExpireTickets", mock.Anything).Return(3, nil)

	s := scheduler.New(runner, lock, pub, "cleanup.completed", cfg, logger.Discard())
	s.Expirer = expirer
	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	runner.AssertExpectations(t)
	lock.AssertExpectations(t)
	pub.AssertExpectations(t)
	expirer.AssertExpectations(t)
}

func TestRunOnceExpiresAfterGrace(t *testing.T) {
	runner, lock, expirer := new(MockRunner), new(MockLocker), new(MockExpirer)
	lock.On("Lock", cleanupredis.LockKey, cfg.LockTTL).Return(true, nil)
	lock.On("Unlock", cleanupredis.LockKey).Return(nil)
	runner.On("Cleanup", mock.Anything).Return(cleanup.Report{}, nil)
	runner.On("CleanupOrphanedTransactions", false).Return(cleanup.OrphanReport{}, nil)

	grace := 24 * time.Hour
	before := time.Now().UTC().Add(-grace)
	expirer.On("ExpireTickets", mock.MatchedBy(func(cutoff time.Time) bool {
		return !cutoff.Before(before) && cutoff.Before(before.Add(time.Minute))
	})).Return(0, nil)

	s := scheduler.New(runner, lock, nil, "cleanup.completed", cfg, logger.Discard())
	s.Expirer = expirer
	s.ExpiryGrace = grace
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	expirer.AssertExpectations(t)
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	runner, lock := new(MockRunner), new(MockLocker)
	lock.On("Lock", cleanupredis.LockKey, cfg.LockTTL).Return(false, nil)

	s := scheduler.New(runner, lock, nil, "cleanup.completed", cfg, logger.Discard())
	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	runner.AssertNotCalled(t, "Cleanup", mock.Anything)
	lock.AssertNotCalled(t, "Unlock", mock.Anything)
}

func TestRunOnceReleasesLockOnFailure(t *testing.T) {
	runner, lock := new(MockRunner), new(MockLocker)
	lock.On("Lock", cleanupredis.LockKey, cfg.LockTTL).Return(true, nil)
	lock.On("Unlock", cleanupredis.LockKey).Return(nil)
	boom := errors.New("statement timeout")
	runner.On("Cleanup", mock.Anything).Return(cleanup.Report{}, boom)

	s := scheduler.New(runner, lock, nil, "cleanup.completed", cfg, logger.Discard())
	ran, err := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	runner.AssertNotCalled(t, "CleanupOrphanedTransactions", mock.Anything)
	lock.AssertExpectations(t)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := scheduler.New(new(MockRunner), new(MockLocker), nil, "cleanup.completed", cfg, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
