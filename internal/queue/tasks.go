package queue

import "time"

const (
	// TypeReceiptExtract carries one ExtractionJob through the pipeline.
	TypeReceiptExtract = "receipt:extract"
	// TypeReceiptSweep is the periodic reconciliation pass.
	TypeReceiptSweep = "receipt:sweep"
)

// ExtractPayload is the queue-resident extraction job. The receive count
// lives in queue metadata, not the payload.
type ExtractPayload struct {
	ReceiptID  string    `json:"receipt_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
