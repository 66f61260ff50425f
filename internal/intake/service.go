package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/receiptsearch/internal/config"
	"github.com/nikhilbhutani/receiptsearch/internal/models"
	"github.com/nikhilbhutani/receiptsearch/internal/queue"
	"github.com/nikhilbhutani/receiptsearch/internal/storage"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
)

var (
	// ErrInvalidUpload covers client mistakes caught before any side effect.
	ErrInvalidUpload = errors.New("invalid upload request")
)

// Enqueuer is the slice of the job queue the coordinator needs.
type Enqueuer interface {
	EnqueueExtraction(payload queue.ExtractPayload) error
}

// Service validates upload requests, reserves quota, issues write locations
// and reacts to object-store creation events.
type Service struct {
	receipts store.ReceiptStore
	users    store.UserStore
	objects  storage.ObjectStore
	jobs     Enqueuer
	cfg      config.PipelineConfig
	urlTTL   time.Duration
}

func NewService(receipts store.ReceiptStore, users store.UserStore, objects storage.ObjectStore, jobs Enqueuer, cfg config.PipelineConfig, urlTTL time.Duration) *Service {
	return &Service{
		receipts: receipts,
		users:    users,
		objects:  objects,
		jobs:     jobs,
		cfg:      cfg,
		urlTTL:   urlTTL,
	}
}

// UploadRequest describes a single file the client wants to upload.
type UploadRequest struct {
	UserID      uuid.UUID
	FileName    string
	FileSize    int64
	ContentType string
}

// UploadTarget is the reservation handed back to the client.
type UploadTarget struct {
	ReceiptID      uuid.UUID `json:"receipt_id"`
	UploadURL      string    `json:"upload_url"`
	QuotaRemaining int       `json:"quota_remaining"`
}

// RequestUpload reserves one quota slot, creates the receipt at
// pending_upload and returns a presigned write location. The reservation
// happens before any bytes move, so abandoning the upload cannot bypass
// quota; abandoned reservations are reclaimed by the sweeper.
func (s *Service) RequestUpload(ctx context.Context, req UploadRequest) (*UploadTarget, error) {
	if req.FileName == "" || req.FileSize <= 0 {
		return nil, fmt.Errorf("%w: file name and size are required", ErrInvalidUpload)
	}
	if req.FileSize > s.cfg.MaxFileSizeBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidUpload, s.cfg.MaxFileSizeBytes)
	}
	if !allowedContentType(req.ContentType) {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrInvalidUpload, req.ContentType)
	}

	if err := s.users.ReserveQuota(ctx, req.UserID); err != nil {
		return nil, err
	}

	receiptID := uuid.New()
	r := &models.Receipt{
		ID:          receiptID,
		UserID:      req.UserID,
		StorageKey:  models.ObjectKey(req.UserID, receiptID),
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		Status:      models.StatusPendingUpload,
		UploadedAt:  time.Now().UTC(),
	}
	if err := s.receipts.Create(ctx, r); err != nil {
		// The slot was reserved but the record never existed; hand it back.
		if rerr := s.users.ReleaseQuota(ctx, req.UserID); rerr != nil {
			slog.Error("release quota after failed create", "user_id", req.UserID, "error", rerr)
		}
		return nil, err
	}

	url, err := s.objects.PresignedPut(ctx, r.StorageKey, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("issue write location: %w", err)
	}

	if err := s.users.TouchLastActive(ctx, req.UserID); err != nil {
		slog.Warn("touch last active", "user_id", req.UserID, "error", err)
	}

	user, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	return &UploadTarget{
		ReceiptID:      receiptID,
		UploadURL:      url,
		QuotaRemaining: user.QuotaRemaining(),
	}, nil
}

// HandleObjectCreated reacts to the object store's creation event for a key.
// Found and pending_upload: advance to uploaded, enqueue the extraction job,
// advance to queued. Anything else is a duplicate or late event and a no-op —
// object-store notifications may deliver more than once.
func (s *Service) HandleObjectCreated(ctx context.Context, key string) error {
	r, err := s.receipts.GetByStorageKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("object event for unknown key", "key", key)
		return nil
	}
	if err != nil {
		return err
	}

	err = s.receipts.Transition(ctx, r.ID,
		[]models.Status{models.StatusPendingUpload}, models.StatusUploaded)
	if errors.Is(err, store.ErrStaleStatus) {
		slog.Info("duplicate object event ignored", "receipt_id", r.ID, "status", r.Status)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.jobs.EnqueueExtraction(queue.ExtractPayload{
		ReceiptID:  r.ID.String(),
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		// Left at uploaded; the sweeper will requeue or reclaim it.
		return fmt.Errorf("enqueue extraction for %s: %w", r.ID, err)
	}

	err = s.receipts.Transition(ctx, r.ID,
		[]models.Status{models.StatusUploaded}, models.StatusQueued)
	if err != nil && !errors.Is(err, store.ErrStaleStatus) {
		return err
	}

	slog.Info("receipt queued for extraction", "receipt_id", r.ID)
	return nil
}

// GetStatus returns the receipt's processing status for the API layer.
func (s *Service) GetStatus(ctx context.Context, receiptID uuid.UUID) (*models.Receipt, error) {
	return s.receipts.Get(ctx, receiptID)
}

func allowedContentType(ct string) bool {
	switch strings.ToLower(ct) {
	case "image/png", "image/jpeg", "image/webp", "image/gif", "application/pdf":
		return true
	}
	return false
}
