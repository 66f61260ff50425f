package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/receiptsearch/internal/models"
	"github.com/nikhilbhutani/receiptsearch/internal/ocr"
	"github.com/nikhilbhutani/receiptsearch/internal/queue"
	"github.com/nikhilbhutani/receiptsearch/internal/storage"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
	"github.com/nikhilbhutani/receiptsearch/pkg/receiptparse"
)

// ReceiptIndexer is the downstream stage invoked once extraction persisted.
type ReceiptIndexer interface {
	Index(ctx context.Context, r *models.Receipt) error
}

// ExtractWorker consumes extraction jobs under the queue's visibility lease.
// The persisted status is the fence: any number of concurrent or duplicate
// deliveries of the same job converge on one extraction and one index
// document. Returning an error leaves the message unacknowledged so the
// queue redelivers it; returning nil acknowledges.
type ExtractWorker struct {
	receipts      store.ReceiptStore
	users         store.UserStore
	objects       storage.ObjectStore
	provider      ocr.Provider
	indexer       ReceiptIndexer
	minPDFTextLen int
}

func NewExtractWorker(receipts store.ReceiptStore, users store.UserStore, objects storage.ObjectStore, provider ocr.Provider, ix ReceiptIndexer, minPDFTextLen int) *ExtractWorker {
	return &ExtractWorker{
		receipts:      receipts,
		users:         users,
		objects:       objects,
		provider:      provider,
		indexer:       ix,
		minPDFTextLen: minPDFTextLen,
	}
}

func (w *ExtractWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.ExtractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// Undecodable payloads can never succeed; let asynq archive it.
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	receiptID, err := uuid.Parse(payload.ReceiptID)
	if err != nil {
		return fmt.Errorf("parse receipt ID: %v: %w", err, asynq.SkipRetry)
	}

	retries, _ := asynq.GetRetryCount(ctx)
	slog.Info("processing extraction job", "receipt_id", receiptID, "receive_count", retries+1)

	r, err := w.receipts.Get(ctx, receiptID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted under us (retention wipe); nothing left to do.
		slog.Warn("extraction job for missing receipt", "receipt_id", receiptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load receipt: %w", err)
	}

	switch r.Status {
	case models.StatusQueued, models.StatusExtracting:
		// Fresh job, or a redelivery after a crash or transient failure.
	case models.StatusExtracted:
		// A previous attempt persisted extraction but the ack never landed.
		// Skip straight to (re-)indexing instead of re-running OCR.
		return w.indexOnly(ctx, r)
	case models.StatusIndexed, models.StatusFailed:
		slog.Info("stale duplicate job ignored", "receipt_id", receiptID, "status", r.Status)
		return nil
	default:
		// pending_upload/uploaded: a message that outran the record. Ack it;
		// the upload-completion path will enqueue a fresh job.
		slog.Warn("extraction job ahead of record state", "receipt_id", receiptID, "status", r.Status)
		return nil
	}

	if err := w.receipts.BeginExtraction(ctx, receiptID); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return w.recheck(ctx, receiptID)
		}
		return fmt.Errorf("begin extraction: %w", err)
	}

	text, err := w.transcribe(ctx, r)
	if err != nil {
		if ocr.IsPermanent(err) {
			return w.failPermanently(ctx, r, err)
		}
		// Transient: leave the receipt at extracting and the message
		// unacknowledged. The lease expires, the queue redelivers, and the
		// retry budget eventually routes the job to the dead-letter set.
		return fmt.Errorf("extract receipt %s: %w", receiptID, err)
	}

	parsed := receiptparse.Parse(text)
	fields := structuredFields(parsed)
	if parsed.Partial() {
		slog.Info("partial field parse", "receipt_id", receiptID, "parsed", parsed.Parsed)
	}

	if err := w.receipts.SaveExtraction(ctx, receiptID, text, fields, parsed.Confidence); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return w.recheck(ctx, receiptID)
		}
		return fmt.Errorf("persist extraction: %w", err)
	}

	updated, err := w.receipts.Get(ctx, receiptID)
	if err != nil {
		// Extraction is durable; indexing will be completed by a redelivery
		// or the sweeper.
		slog.Warn("reload after extraction failed", "receipt_id", receiptID, "error", err)
		return nil
	}
	return w.indexOnly(ctx, updated)
}

// transcribe produces raw text for the stored object. PDFs with a real text
// layer skip the OCR provider entirely.
func (w *ExtractWorker) transcribe(ctx context.Context, r *models.Receipt) (string, error) {
	reader, err := w.objects.Download(ctx, r.StorageKey)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", r.StorageKey, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}

	if r.ContentType == "application/pdf" {
		if text, err := ocr.PDFText(data); err == nil && len(text) >= w.minPDFTextLen {
			return text, nil
		}
		// No usable text layer; fall through to the provider, which will
		// classify unsupported inputs as permanent.
	}

	result, err := w.provider.Extract(ctx, ocr.Image{Data: data, ContentType: r.ContentType})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// failPermanently settles the receipt as failed and releases the quota slot.
// The conditional write picks exactly one winner, so quota is reclaimed once
// no matter how many duplicates race here. The message is acknowledged.
func (w *ExtractWorker) failPermanently(ctx context.Context, r *models.Receipt, cause error) error {
	err := w.receipts.MarkFailed(ctx, r.ID, cause.Error())
	if errors.Is(err, store.ErrStaleStatus) {
		slog.Info("receipt already settled", "receipt_id", r.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	if err := w.users.ReleaseQuota(ctx, r.UserID); err != nil {
		slog.Error("release quota for failed receipt", "receipt_id", r.ID, "user_id", r.UserID, "error", err)
	}
	slog.Warn("receipt failed permanently", "receipt_id", r.ID, "reason", cause.Error())
	return nil
}

// indexOnly pushes an extracted receipt to the search index. Index outages
// are acknowledged anyway: the receipt stays at extracted and the sweeper
// requeues it, rather than burning the OCR retry budget on an index problem.
func (w *ExtractWorker) indexOnly(ctx context.Context, r *models.Receipt) error {
	if err := w.indexer.Index(ctx, r); err != nil {
		slog.Warn("index unavailable, deferring to sweeper", "receipt_id", r.ID, "error", err)
		return nil
	}
	slog.Info("receipt indexed", "receipt_id", r.ID)
	return nil
}

// recheck resolves a lost fence: some other delivery moved the receipt. If it
// reached extracted, finish the indexing step; any other outcome is settled.
func (w *ExtractWorker) recheck(ctx context.Context, receiptID uuid.UUID) error {
	r, err := w.receipts.Get(ctx, receiptID)
	if err != nil {
		return fmt.Errorf("recheck receipt: %w", err)
	}
	if r.Status == models.StatusExtracted {
		return w.indexOnly(ctx, r)
	}
	slog.Info("lost fence to concurrent worker", "receipt_id", receiptID, "status", r.Status)
	return nil
}

func structuredFields(p *receiptparse.Result) *models.StructuredFields {
	if len(p.Parsed) == 0 {
		return nil
	}
	f := &models.StructuredFields{
		MerchantName: p.Merchant,
		Amount:       p.Amount,
		Currency:     p.Currency,
		PurchaseDate: p.Date,
	}
	for _, it := range p.Items {
		f.Items = append(f.Items, models.LineItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Total:    it.Total,
		})
	}
	return f
}
