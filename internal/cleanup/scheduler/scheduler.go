package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	cleanupredis "ms-admission/internal/cleanup/redis"
	cleanup "ms-admission/internal/cleanup/service"
	"ms-admission/internal/config"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"
)

type Runner interface {
	Cleanup(ctx context.Context, opts cleanup.Options) (cleanup.Report, error)
	CleanupOrphanedTransactions(ctx context.Context, dryRun bool) (cleanup.OrphanReport, error)
}

type Locker interface {
	Lock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// Expirer soft-marks unused tickets of finished events.
type Expirer interface {
	ExpireTickets(ctx context.Context, eventEndedBefore time.Time) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Scheduler runs the cleanup job on an interval. Replicas coordinate
// through a Redis lock; a tick that finds the lock taken is skipped.
type Scheduler struct {
	Runner    Runner
	Lock      Locker
	Expirer   Expirer // optional
	Publisher Publisher
	Topic     string
	Config    config.CleanupConfig
	Logger    *logger.Logger

	// ExpiryGrace keeps tickets admissible this long after their event
	// ends, in step with the admission code expiry.
	ExpiryGrace time.Duration

	owner string
}

func New(runner Runner, lock Locker, pub Publisher, topic string, cfg config.CleanupConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{
		Runner:    runner,
		Lock:      lock,
		Publisher: pub,
		Topic:     topic,
		Config:    cfg,
		Logger:    log,
		owner:     uuid.NewString(),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Logger.LogCleanup("SCHEDULER", fmt.Sprintf("every %s, max age %s", s.Config.Interval, s.Config.MaxAge))
	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.LogCleanup("SCHEDULER", "stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.Logger.Error("CLEANUP", "scheduled run failed: "+err.Error())
			}
		}
	}
}

// RunOnce performs one locked pass: cleanup, orphan purge, then expiry.
// It reports false when another instance holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	ok, err := s.Lock.Lock(ctx, cleanupredis.LockKey, s.owner, s.Config.LockTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// the run context may already be done
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Lock.Unlock(unlockCtx, cleanupredis.LockKey, s.owner); err != nil {
			s.Logger.Warn("CLEANUP", "release lock: "+err.Error())
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.Config.Timeout)
	defer cancel()

	report, err := s.Runner.Cleanup(runCtx, cleanup.Options{
		MaxAge:                s.Config.MaxAge,
		BatchSize:             s.Config.BatchSize,
		IncludeFailedPayments: s.Config.IncludeFailedPayments,
	})
	if err != nil {
		return true, err
	}
	orphans, err := s.Runner.CleanupOrphanedTransactions(runCtx, false)
	if err != nil {
		return true, err
	}

	expired := 0
	if s.Expirer != nil {
		cutoff := time.Now().UTC().Add(-s.ExpiryGrace)
		if expired, err = s.Expirer.ExpireTickets(runCtx, cutoff); err != nil {
			return true, err
		}
	}

	msg := models.CleanupCompletedMessage{
		DeletedTickets:       report.DeletedTickets,
		DeletedHolders:       report.DeletedHolders,
		AffectedTransactions: report.AffectedTransactions,
		PurgedTransactions:   len(orphans.Transactions),
		ExpiredTickets:       expired,
		FinishedAt:           time.Now().UTC(),
	}
	if s.Publisher != nil {
		if err := s.Publisher.Publish(runCtx, s.Topic, s.owner, msg); err != nil {
			s.Logger.LogKafka("PUBLISH_FAILED", s.Topic, err.Error())
		}
	}
	return true, nil
}
