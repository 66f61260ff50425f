package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the processing status of a receipt. Transitions form a single
// forward path with one absorbing failure state reachable from any
// non-terminal status.
type Status string

const (
	StatusPendingUpload Status = "pending_upload"
	StatusUploaded      Status = "uploaded"
	StatusQueued        Status = "queued"
	StatusExtracting    Status = "extracting"
	StatusExtracted     Status = "extracted"
	StatusIndexed       Status = "indexed"
	StatusFailed        Status = "failed"
)

// statusRank orders the forward path. failed sits outside the order.
var statusRank = map[Status]int{
	StatusPendingUpload: 0,
	StatusUploaded:      1,
	StatusQueued:        2,
	StatusExtracting:    3,
	StatusExtracted:     4,
	StatusIndexed:       5,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// CanTransition reports whether moving from s to next preserves the status
// DAG: one step forward along the path, or into failed from any non-terminal
// state.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok1 := statusRank[s]
	to, ok2 := statusRank[next]
	return ok1 && ok2 && to == from+1
}

// LineItem is a single purchased item parsed from receipt text.
type LineItem struct {
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity,omitempty"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
	Total     *float64 `json:"total,omitempty"`
}

// StructuredFields are the best-effort parsed attributes of a receipt. Any
// field may be empty when parsing partially failed; raw text remains usable
// regardless.
type StructuredFields struct {
	MerchantName string     `json:"merchant_name,omitempty"`
	Amount       *float64   `json:"amount,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	PurchaseDate *time.Time `json:"purchase_date,omitempty"`
	Items        []LineItem `json:"items,omitempty"`
}

// Receipt is one uploaded document and its extraction state.
type Receipt struct {
	ID            uuid.UUID         `json:"receipt_id" db:"receipt_id"`
	UserID        uuid.UUID         `json:"user_id" db:"user_id"`
	StorageKey    string            `json:"storage_key" db:"storage_key"`
	FileName      string            `json:"file_name,omitempty" db:"file_name"`
	FileSize      int64             `json:"file_size_bytes,omitempty" db:"file_size_bytes"`
	ContentType   string            `json:"content_type,omitempty" db:"content_type"`
	Status        Status            `json:"processing_status" db:"processing_status"`
	AttemptCount  int               `json:"attempt_count" db:"attempt_count"`
	ExtractedText string            `json:"extracted_text,omitempty" db:"extracted_text"`
	Fields        *StructuredFields `json:"structured_fields,omitempty" db:"structured_fields"`
	Confidence    float64           `json:"confidence_score,omitempty" db:"confidence_score"`
	FailureReason string            `json:"failure_reason,omitempty" db:"failure_reason"`
	UploadedAt    time.Time         `json:"upload_timestamp" db:"uploaded_at"`
	ExtractedAt   *time.Time        `json:"extracted_at,omitempty" db:"extracted_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// StorageKey layout for uploaded originals: receipts/{user_id}/{receipt_id}/original.
func ObjectKey(userID, receiptID uuid.UUID) string {
	return "receipts/" + userID.String() + "/" + receiptID.String() + "/original"
}
