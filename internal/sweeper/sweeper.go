package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/receiptsearch/internal/config"
	"github.com/nikhilbhutani/receiptsearch/internal/models"
	"github.com/nikhilbhutani/receiptsearch/internal/queue"
	"github.com/nikhilbhutani/receiptsearch/internal/storage"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
)

const scanBatch = 200

// ReceiptIndexer is the slice of the index writer the sweeper needs.
type ReceiptIndexer interface {
	Index(ctx context.Context, r *models.Receipt) error
	Remove(ctx context.Context, id uuid.UUID) error
}

// Enqueuer requeues extraction jobs for receipts the pipeline lost.
type Enqueuer interface {
	EnqueueExtraction(payload queue.ExtractPayload) error
}

// Locker is a best-effort single-flight lock so overlapping sweeper
// instances do not duplicate scan work. Correctness never depends on it:
// every action below is individually idempotent via conditional writes.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Stats counts what one sweep pass did.
type Stats struct {
	IndexRetries     int `json:"index_retries"`
	OrphansReclaimed int `json:"orphans_reclaimed"`
	ReceiptsExpired  int `json:"receipts_expired"`
	UsersCleaned     int `json:"users_cleaned"`
	Errors           int `json:"errors"`
}

// Sweeper is the periodic reconciliation pass over the record store. It
// requeues receipts stuck before indexing, reclaims quota for abandoned
// uploads, and expires receipts of inactive free users.
type Sweeper struct {
	receipts store.ReceiptStore
	users    store.UserStore
	objects  storage.ObjectStore
	indexer  ReceiptIndexer
	jobs     Enqueuer
	locker   Locker
	cfg      config.PipelineConfig
	now      func() time.Time
}

func New(receipts store.ReceiptStore, users store.UserStore, objects storage.ObjectStore, ix ReceiptIndexer, jobs Enqueuer, locker Locker, cfg config.PipelineConfig) *Sweeper {
	return &Sweeper{
		receipts: receipts,
		users:    users,
		objects:  objects,
		indexer:  ix,
		jobs:     jobs,
		locker:   locker,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes one full sweep. Each responsibility is independent; an error
// in one is counted and the others still run.
func (s *Sweeper) Run(ctx context.Context) (*Stats, error) {
	if s.locker != nil {
		ok, err := s.locker.SetNX(ctx, "sweep:lock", s.now().Unix(), s.cfg.SweepInterval)
		if err != nil {
			slog.Warn("sweep lock unavailable, proceeding unlocked", "error", err)
		} else if !ok {
			slog.Info("sweep already running elsewhere, skipping")
			return &Stats{}, nil
		}
	}

	stats := &Stats{}
	s.retryIndexing(ctx, stats)
	s.reclaimOrphans(ctx, stats)
	s.expireRetired(ctx, stats)

	slog.Info("sweep complete",
		"index_retries", stats.IndexRetries,
		"orphans_reclaimed", stats.OrphansReclaimed,
		"receipts_expired", stats.ReceiptsExpired,
		"users_cleaned", stats.UsersCleaned,
		"errors", stats.Errors,
	)
	return stats, nil
}

// retryIndexing requeues receipts stuck at extracted: the extraction is
// durable, only the index write is owed. The worker's fence recognizes the
// extracted status and goes straight to indexing.
func (s *Sweeper) retryIndexing(ctx context.Context, stats *Stats) {
	cutoff := s.now().Add(-s.cfg.IndexRetryAfter)
	stuck, err := s.receipts.ListStale(ctx, []models.Status{models.StatusExtracted}, cutoff, scanBatch)
	if err != nil {
		slog.Error("list extracted receipts", "error", err)
		stats.Errors++
		return
	}
	for i := range stuck {
		r := &stuck[i]
		if err := s.indexer.Index(ctx, r); err != nil {
			// Still unavailable; defer to a queue redelivery so backoff
			// applies instead of hammering every sweep.
			if qerr := s.jobs.EnqueueExtraction(queue.ExtractPayload{
				ReceiptID:  r.ID.String(),
				EnqueuedAt: s.now(),
			}); qerr != nil {
				slog.Error("requeue receipt for indexing", "receipt_id", r.ID, "error", qerr)
				stats.Errors++
				continue
			}
		}
		stats.IndexRetries++
	}
}

// reclaimOrphans fails receipts abandoned before extraction completed and
// returns their quota slots. MarkFailed's conditional write means exactly one
// concurrent sweeper wins per receipt, so quota decrements exactly once.
func (s *Sweeper) reclaimOrphans(ctx context.Context, stats *Stats) {
	cutoff := s.now().Add(-s.cfg.AbandonedAfter)
	orphaned, err := s.receipts.ListStale(ctx, []models.Status{
		models.StatusPendingUpload,
		models.StatusUploaded,
		models.StatusQueued,
		models.StatusExtracting,
	}, cutoff, scanBatch)
	if err != nil {
		slog.Error("list orphaned receipts", "error", err)
		stats.Errors++
		return
	}

	for i := range orphaned {
		r := &orphaned[i]
		reason := "abandoned before extraction completed"
		if r.Status == models.StatusExtracting {
			reason = "extraction retries exhausted"
		}
		err := s.receipts.MarkFailed(ctx, r.ID, reason)
		if errors.Is(err, store.ErrStaleStatus) {
			continue // another instance won this one
		}
		if err != nil {
			slog.Error("fail orphaned receipt", "receipt_id", r.ID, "error", err)
			stats.Errors++
			continue
		}
		if err := s.users.ReleaseQuota(ctx, r.UserID); err != nil {
			slog.Error("release quota for orphan", "receipt_id", r.ID, "error", err)
			stats.Errors++
			continue
		}
		slog.Info("orphaned receipt reclaimed", "receipt_id", r.ID, "was", r.Status)
		stats.OrphansReclaimed++
	}
}

// expireRetired deletes everything belonging to free users inactive past the
// retention window: index entry first, then stored object, then the record.
// A crash mid-way leaves the record behind, and the next sweep finds it
// again — index and object deletion are idempotent.
func (s *Sweeper) expireRetired(ctx context.Context, stats *Stats) {
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	inactive, err := s.users.ListInactiveFree(ctx, cutoff, scanBatch)
	if err != nil {
		slog.Error("list inactive users", "error", err)
		stats.Errors++
		return
	}

	for i := range inactive {
		u := &inactive[i]
		receipts, err := s.receipts.ListByUser(ctx, u.ID)
		if err != nil {
			slog.Error("list receipts for retention", "user_id", u.ID, "error", err)
			stats.Errors++
			continue
		}

		wiped := true
		for j := range receipts {
			if err := s.expireOne(ctx, &receipts[j]); err != nil {
				slog.Error("expire receipt", "receipt_id", receipts[j].ID, "error", err)
				stats.Errors++
				wiped = false
				continue
			}
			stats.ReceiptsExpired++
		}

		if wiped {
			if err := s.users.ResetQuota(ctx, u.ID); err != nil {
				slog.Error("reset quota after retention wipe", "user_id", u.ID, "error", err)
				stats.Errors++
				continue
			}
			stats.UsersCleaned++
		}
	}
}

func (s *Sweeper) expireOne(ctx context.Context, r *models.Receipt) error {
	if err := s.indexer.Remove(ctx, r.ID); err != nil {
		return fmt.Errorf("remove index entry: %w", err)
	}
	if err := s.objects.Delete(ctx, r.StorageKey); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if err := s.receipts.Delete(ctx, r.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
