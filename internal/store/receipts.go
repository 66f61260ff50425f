package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/receiptsearch/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("record not found")
	// ErrStaleStatus is returned when a conditional write lost to a
	// concurrent writer: the record was no longer in the expected status.
	ErrStaleStatus = errors.New("stale status: conditional write did not match")
)

// ReceiptStore is the per-key, conditionally-written record store for
// receipts. All status mutations are fenced on the expected prior status so
// two workers racing on the same receipt cannot produce a lost update.
type ReceiptStore interface {
	Create(ctx context.Context, r *models.Receipt) error
	Get(ctx context.Context, id uuid.UUID) (*models.Receipt, error)
	GetByStorageKey(ctx context.Context, key string) (*models.Receipt, error)
	// Transition moves the receipt from exactly one of the given statuses to
	// next. ErrStaleStatus means the fence did not match.
	Transition(ctx context.Context, id uuid.UUID, from []models.Status, next models.Status) error
	// BeginExtraction transitions queued|extracting -> extracting and bumps
	// attempt_count in the same conditional write.
	BeginExtraction(ctx context.Context, id uuid.UUID) error
	// SaveExtraction persists OCR output and parsed fields and moves the
	// receipt to extracted, fenced on extracting.
	SaveExtraction(ctx context.Context, id uuid.UUID, text string, fields *models.StructuredFields, confidence float64) error
	// MarkFailed moves any non-terminal receipt to failed exactly once.
	// The caller that wins the conditional write owns quota reclamation.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// ListStale returns receipts sitting in one of the given statuses with no
	// update since the cutoff.
	ListStale(ctx context.Context, statuses []models.Status, cutoff time.Time, limit int) ([]models.Receipt, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Receipt, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type receiptStore struct {
	db *pgxpool.Pool
}

func NewReceiptStore(db *pgxpool.Pool) ReceiptStore {
	return &receiptStore{db: db}
}

const receiptColumns = `receipt_id, user_id, storage_key, file_name, file_size_bytes, content_type,
	processing_status, attempt_count, extracted_text, structured_fields, confidence_score,
	failure_reason, uploaded_at, extracted_at, updated_at`

func (s *receiptStore) Create(ctx context.Context, r *models.Receipt) error {
	fields, err := marshalFields(r.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO receipts (receipt_id, user_id, storage_key, file_name, file_size_bytes, content_type, processing_status, attempt_count, uploaded_at, structured_fields)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`,
		r.ID, r.UserID, r.StorageKey, r.FileName, r.FileSize, r.ContentType, r.Status, r.UploadedAt, fields,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *receiptStore) Get(ctx context.Context, id uuid.UUID) (*models.Receipt, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE receipt_id = $1`, id)
	return scanReceipt(row)
}

func (s *receiptStore) GetByStorageKey(ctx context.Context, key string) (*models.Receipt, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE storage_key = $1`, key)
	return scanReceipt(row)
}

func (s *receiptStore) Transition(ctx context.Context, id uuid.UUID, from []models.Status, next models.Status) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE receipts SET processing_status = $1, updated_at = now()
		 WHERE receipt_id = $2 AND processing_status = ANY($3)`,
		next, id, statusStrings(from),
	)
	if err != nil {
		return fmt.Errorf("transition receipt to %s: %w", next, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (s *receiptStore) BeginExtraction(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE receipts SET processing_status = $1, attempt_count = attempt_count + 1, updated_at = now()
		 WHERE receipt_id = $2 AND processing_status = ANY($3)`,
		models.StatusExtracting, id,
		statusStrings([]models.Status{models.StatusQueued, models.StatusExtracting}),
	)
	if err != nil {
		return fmt.Errorf("begin extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (s *receiptStore) SaveExtraction(ctx context.Context, id uuid.UUID, text string, fields *models.StructuredFields, confidence float64) error {
	data, err := marshalFields(fields)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE receipts
		 SET processing_status = $1, extracted_text = $2, structured_fields = $3,
		     confidence_score = $4, extracted_at = now(), updated_at = now()
		 WHERE receipt_id = $5 AND processing_status = $6`,
		models.StatusExtracted, text, data, confidence, id, models.StatusExtracting,
	)
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (s *receiptStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE receipts SET processing_status = $1, failure_reason = $2, updated_at = now()
		 WHERE receipt_id = $3 AND processing_status NOT IN ($4, $5)`,
		models.StatusFailed, reason, id, models.StatusIndexed, models.StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("mark receipt failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (s *receiptStore) ListStale(ctx context.Context, statuses []models.Status, cutoff time.Time, limit int) ([]models.Receipt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+receiptColumns+` FROM receipts
		 WHERE processing_status = ANY($1) AND updated_at < $2
		 ORDER BY updated_at ASC LIMIT $3`,
		statusStrings(statuses), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

func (s *receiptStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Receipt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE user_id = $1 ORDER BY uploaded_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list receipts by user: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

func (s *receiptStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM receipts WHERE receipt_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	return nil
}

func scanReceipt(row pgx.Row) (*models.Receipt, error) {
	var r models.Receipt
	var fields []byte
	err := row.Scan(
		&r.ID, &r.UserID, &r.StorageKey, &r.FileName, &r.FileSize, &r.ContentType,
		&r.Status, &r.AttemptCount, &r.ExtractedText, &fields, &r.Confidence,
		&r.FailureReason, &r.UploadedAt, &r.ExtractedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	if len(fields) > 0 {
		r.Fields = &models.StructuredFields{}
		if err := json.Unmarshal(fields, r.Fields); err != nil {
			return nil, fmt.Errorf("decode structured fields: %w", err)
		}
	}
	return &r, nil
}

func scanReceipts(rows pgx.Rows) ([]models.Receipt, error) {
	var out []models.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func marshalFields(f *models.StructuredFields) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode structured fields: %w", err)
	}
	return data, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
