package search

import (
	"context"
	"errors"
)

// ErrIndexUnavailable signals the search index rejected or never received a
// write. Receipts stay at extracted until the sweeper retries; extraction is
// never rolled back for an index failure.
var ErrIndexUnavailable = errors.New("search index unavailable")

// Document is the normalized, searchable representation of a receipt.
// Dates are unix seconds so they are range-filterable.
type Document struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	MerchantName  string  `json:"merchant_name,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	PurchaseDate  int64   `json:"purchase_date,omitempty"`
	UploadDate    int64   `json:"upload_date"`
	ExtractedDate int64   `json:"extracted_date,omitempty"`
	Status        string  `json:"processing_status"`
	Text          string  `json:"text,omitempty"`
}

// Query is a free-text search scoped by structured filters. UserID is always
// required; the rest are optional narrowing criteria.
type Query struct {
	UserID     string
	Text       string
	Merchant   string
	AmountMin  *float64
	AmountMax  *float64
	DateFrom   int64
	DateTo     int64
	Sort       []string
	Limit      int64
	Offset     int64
}

// Result is one page of matching documents.
type Result struct {
	Hits      []Document `json:"hits"`
	Total     int64      `json:"total"`
	Limit     int64      `json:"limit"`
	Offset    int64      `json:"offset"`
	Elapsed   int64      `json:"elapsed_ms"`
}

// Index is the external search collaborator. Upsert and Delete are
// idempotent by document id.
type Index interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q Query) (*Result, error)
}
