package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	cleanupdb "ms-admission/internal/cleanup/db"
	"ms-admission/internal/logger"
	"ms-admission/internal/metrics"
	"ms-admission/internal/models"
)

const MaxBatchSize = 10000

var ErrInvalidOptions = errors.New("invalid cleanup options")

type CleanupDBLayer interface {
	ListPending(ctx context.Context) ([]cleanupdb.PendingRow, error)
	Candidates(ctx context.Context, cutoff time.Time, includeFailed bool, limit int) ([]cleanupdb.PendingRow, error)
	DeleteBatch(ctx context.Context, ids []string, started models.CleanupStarted, now time.Time) (cleanupdb.BatchResult, error)
	FindOrphans(ctx context.Context) ([]models.Transaction, error)
	PurgeOrphans(ctx context.Context, ids []string, now time.Time) (models.OrphanedTransactionsPurged, error)
}

type Service struct {
	DB     CleanupDBLayer
	Logger *logger.Logger
	Now    func() time.Time
}

func NewService(db CleanupDBLayer, log *logger.Logger) *Service {
	return &Service{DB: db, Logger: log, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

type Options struct {
	DryRun                bool
	MaxAge                time.Duration
	BatchSize             int
	IncludeFailedPayments bool
	StatsOnly             bool
}

func (o Options) Validate() error {
	if o.MaxAge <= 0 {
		return fmt.Errorf("maxAge must be positive: %w", ErrInvalidOptions)
	}
	if o.BatchSize < 1 || o.BatchSize > MaxBatchSize {
		return fmt.Errorf("batchSize must be between 1 and %d: %w", MaxBatchSize, ErrInvalidOptions)
	}
	return nil
}

func (o Options) String() string {
	return fmt.Sprintf("dryRun=%t maxAge=%s batchSize=%d includeFailedPayments=%t statsOnly=%t",
		o.DryRun, o.MaxAge, o.BatchSize, o.IncludeFailedPayments, o.StatsOnly)
}

type AgeBuckets struct {
	LessThanHour  int `json:"lessThan1h"`
	LessThanDay   int `json:"lessThan24h"`
	LessThanWeek  int `json:"lessThan7d"`
	OlderThanWeek int `json:"olderThan7d"`
}

type PaymentBuckets struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Expired int `json:"expired"`
	Other   int `json:"other"`
}

type Stats struct {
	TotalPending          int            `json:"totalPending"`
	ByAge                 AgeBuckets     `json:"byAge"`
	ByPayment             PaymentBuckets `json:"byPaymentStatus"`
	EligibleForDeletion   int            `json:"eligibleForDeletion"`
	MaxAgeHours           int            `json:"maxAgeHours"`
	Cutoff                time.Time      `json:"cutoff"`
	IncludeFailedPayments bool           `json:"includeFailedPayments"`
	GeneratedAt           time.Time      `json:"generatedAt"`
}

// GetStats buckets every PENDING ticket by age and payment status. It
// never writes.
func (s *Service) GetStats(ctx context.Context, maxAgeHours int, includeFailedPayments bool) (Stats, error) {
	if maxAgeHours <= 0 {
		return Stats{}, fmt.Errorf("maxAgeHours must be positive: %w", ErrInvalidOptions)
	}
	return s.stats(ctx, time.Duration(maxAgeHours)*time.Hour, includeFailedPayments)
}

// stats judges eligibility with the same cutoff Candidates uses.
func (s *Service) stats(ctx context.Context, maxAge time.Duration, includeFailedPayments bool) (Stats, error) {
	rows, err := s.DB.ListPending(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	cutoff := now.Add(-maxAge)
	stats := Stats{
		TotalPending:          len(rows),
		MaxAgeHours:           int(maxAge / time.Hour),
		Cutoff:                cutoff,
		IncludeFailedPayments: includeFailedPayments,
		GeneratedAt:           now,
	}
	for _, row := range rows {
		age := now.Sub(row.CreatedAt)
		switch {
		case age < time.Hour:
			stats.ByAge.LessThanHour++
		case age < 24*time.Hour:
			stats.ByAge.LessThanDay++
		case age < 7*24*time.Hour:
			stats.ByAge.LessThanWeek++
		default:
			stats.ByAge.OlderThanWeek++
		}

		failed := false
		switch row.PaymentStatus {
		case models.PaymentPending:
			stats.ByPayment.Pending++
		case models.PaymentFailed:
			stats.ByPayment.Failed++
			failed = true
		case models.PaymentExpired:
			stats.ByPayment.Expired++
			failed = true
		default:
			stats.ByPayment.Other++
		}

		if row.CreatedAt.Before(cutoff) || (includeFailedPayments && failed) {
			stats.EligibleForDeletion++
		}
	}
	return stats, nil
}

type Report struct {
	DryRun               bool          `json:"dryRun"`
	Cutoff               time.Time     `json:"cutoff"`
	Candidates           int           `json:"candidates"`
	DeletedTickets       int           `json:"deletedTickets"`
	DeletedHolders       int           `json:"deletedHolders"`
	AffectedTransactions int           `json:"affectedTransactions"`
	AffectedTicketTypes  int           `json:"affectedTicketTypes"`
	Elapsed              time.Duration `json:"elapsedNs"`
	Stats                *Stats        `json:"stats,omitempty"`
}

// Cleanup hard-deletes one batch of stale PENDING tickets. A dry run only
// counts what would go.
func (s *Service) Cleanup(ctx context.Context, opts Options) (Report, error) {
	if err := opts.Validate(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	now := s.now()
	report := Report{DryRun: opts.DryRun, Cutoff: now.Add(-opts.MaxAge)}

	if opts.StatsOnly {
		stats, err := s.stats(ctx, opts.MaxAge, opts.IncludeFailedPayments)
		if err != nil {
			return Report{}, s.fail(opts, err)
		}
		report.Stats = &stats
		report.Elapsed = time.Since(start)
		return report, nil
	}

	candidates, err := s.DB.Candidates(ctx, report.Cutoff, opts.IncludeFailedPayments, opts.BatchSize)
	if err != nil {
		return Report{}, s.fail(opts, err)
	}
	report.Candidates = len(candidates)

	if opts.DryRun || len(candidates) == 0 {
		report.AffectedTransactions, report.AffectedTicketTypes = distinct(candidates)
		report.Elapsed = time.Since(start)
		s.Logger.LogCleanup("PREVIEW", fmt.Sprintf("%d candidates before %s (%s)", len(candidates), report.Cutoff.Format(time.RFC3339), opts))
		metrics.TrackCleanup(mode(opts), nil, 0, 0, report.Elapsed)
		return report, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	res, err := s.DB.DeleteBatch(ctx, ids, models.CleanupStarted{
		Candidates:            len(ids),
		Cutoff:                report.Cutoff,
		BatchSize:             opts.BatchSize,
		IncludeFailedPayments: opts.IncludeFailedPayments,
	}, now)
	report.Elapsed = time.Since(start)
	if err != nil {
		metrics.TrackCleanup(mode(opts), err, 0, 0, report.Elapsed)
		return Report{}, s.fail(opts, err)
	}

	report.DeletedTickets = res.DeletedTickets
	report.DeletedHolders = res.DeletedHolders
	report.AffectedTransactions = res.AffectedTransactions
	report.AffectedTicketTypes = res.AffectedTicketTypes
	metrics.TrackCleanup(mode(opts), nil, res.DeletedTickets, res.DeletedHolders, report.Elapsed)
	s.Logger.LogCleanup("DELETE", fmt.Sprintf("deleted %d tickets, %d holders across %d transactions in %s",
		res.DeletedTickets, res.DeletedHolders, res.AffectedTransactions, report.Elapsed))
	return report, nil
}

type OrphanReport struct {
	DryRun         bool     `json:"dryRun"`
	Transactions   []string `json:"transactionIds"`
	BuyerInfos     int      `json:"buyerInfos"`
	OrderItems     int      `json:"orderItems"`
	PaymentRecords int      `json:"paymentRecords"`
}

// CleanupOrphanedTransactions removes failed or expired transactions that
// no longer have any ticket, together with their dependent rows.
func (s *Service) CleanupOrphanedTransactions(ctx context.Context, dryRun bool) (OrphanReport, error) {
	orphans, err := s.DB.FindOrphans(ctx)
	if err != nil {
		s.Logger.Error("CLEANUP", fmt.Sprintf("orphan scan failed (dryRun=%t): %v", dryRun, err))
		return OrphanReport{}, err
	}
	ids := make([]string, len(orphans))
	for i, t := range orphans {
		ids[i] = t.ID
	}
	report := OrphanReport{DryRun: dryRun, Transactions: ids}
	if dryRun || len(ids) == 0 {
		return report, nil
	}

	purged, err := s.DB.PurgeOrphans(ctx, ids, s.now())
	if err != nil {
		s.Logger.Error("CLEANUP", fmt.Sprintf("orphan purge of %d transactions failed: %v", len(ids), err))
		return OrphanReport{}, err
	}
	report.Transactions = purged.TransactionIDs
	report.BuyerInfos = purged.BuyerInfos
	report.OrderItems = purged.OrderItems
	report.PaymentRecords = purged.PaymentRecords
	metrics.TrackOrphanPurge(len(purged.TransactionIDs))
	s.Logger.LogCleanup("ORPHANS", fmt.Sprintf("purged %d orphaned transactions", len(purged.TransactionIDs)))
	return report, nil
}

func (s *Service) fail(opts Options, err error) error {
	s.Logger.Error("CLEANUP", fmt.Sprintf("cleanup failed (%s): %v", opts, err))
	return err
}

func distinct(rows []cleanupdb.PendingRow) (transactions, ticketTypes int) {
	txns := map[string]struct{}{}
	types := map[string]struct{}{}
	for _, r := range rows {
		txns[r.TransactionID] = struct{}{}
		types[r.TicketTypeID] = struct{}{}
	}
	return len(txns), len(types)
}

func mode(opts Options) string {
	if opts.DryRun {
		return "dry_run"
	}
	return "delete"
}
