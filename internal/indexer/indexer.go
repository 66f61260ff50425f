package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/receiptsearch/internal/models"
	"github.com/nikhilbhutani/receiptsearch/internal/search"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
)

// Indexer publishes extracted receipts to the search index and advances them
// to indexed. An index failure leaves the receipt at extracted; it never
// regresses a successful extraction.
type Indexer struct {
	receipts store.ReceiptStore
	index    search.Index
}

func New(receipts store.ReceiptStore, index search.Index) *Indexer {
	return &Indexer{receipts: receipts, index: index}
}

// Index upserts the receipt's search document and transitions
// extracted -> indexed. Upsert is idempotent by receipt id, so a duplicate
// run converges on the same single document.
func (ix *Indexer) Index(ctx context.Context, r *models.Receipt) error {
	if err := ix.index.Upsert(ctx, BuildDocument(r)); err != nil {
		return fmt.Errorf("index receipt %s: %w", r.ID, err)
	}

	err := ix.receipts.Transition(ctx, r.ID,
		[]models.Status{models.StatusExtracted}, models.StatusIndexed)
	if errors.Is(err, store.ErrStaleStatus) {
		// Another worker already advanced it; the document write above was
		// idempotent, so this duplicate is harmless.
		slog.Info("receipt already indexed", "receipt_id", r.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("advance receipt %s to indexed: %w", r.ID, err)
	}
	return nil
}

// Remove deletes the receipt's document. Missing documents are not an error;
// deletion is idempotent so a crashed retention sweep can re-run safely.
func (ix *Indexer) Remove(ctx context.Context, id uuid.UUID) error {
	return ix.index.Delete(ctx, id.String())
}

// BuildDocument normalizes a receipt into its searchable representation.
func BuildDocument(r *models.Receipt) search.Document {
	doc := search.Document{
		ID:         r.ID.String(),
		UserID:     r.UserID.String(),
		UploadDate: r.UploadedAt.Unix(),
		Status:     string(models.StatusIndexed),
		Text:       r.ExtractedText,
	}
	if r.ExtractedAt != nil {
		doc.ExtractedDate = r.ExtractedAt.Unix()
	}
	if f := r.Fields; f != nil {
		doc.MerchantName = f.MerchantName
		doc.Currency = f.Currency
		if f.Amount != nil {
			doc.Amount = *f.Amount
		}
		if f.PurchaseDate != nil {
			doc.PurchaseDate = f.PurchaseDate.Unix()
		}
	}
	return doc
}
