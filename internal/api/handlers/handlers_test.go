package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/receiptsearch/internal/auth"
	"github.com/nikhilbhutani/receiptsearch/internal/config"
	"github.com/nikhilbhutani/receiptsearch/internal/intake"
	"github.com/nikhilbhutani/receiptsearch/internal/models"
	"github.com/nikhilbhutani/receiptsearch/internal/queue"
	"github.com/nikhilbhutani/receiptsearch/internal/search"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
)

type fakeReceipts struct {
	byID map[uuid.UUID]*models.Receipt
}

func (f *fakeReceipts) Create(ctx context.Context, r *models.Receipt) error {
	f.byID[r.ID] = r
	return nil
}

func (f *fakeReceipts) Get(ctx context.Context, id uuid.UUID) (*models.Receipt, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeReceipts) GetByStorageKey(ctx context.Context, key string) (*models.Receipt, error) {
	for _, r := range f.byID {
		if r.StorageKey == key {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeReceipts) Transition(ctx context.Context, id uuid.UUID, from []models.Status, next models.Status) error {
	r, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, s := range from {
		if r.Status == s {
			r.Status = next
			return nil
		}
	}
	return store.ErrStaleStatus
}

func (f *fakeReceipts) BeginExtraction(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeReceipts) SaveExtraction(ctx context.Context, id uuid.UUID, text string, fields *models.StructuredFields, confidence float64) error {
	return nil
}
func (f *fakeReceipts) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}
func (f *fakeReceipts) ListStale(ctx context.Context, statuses []models.Status, cutoff time.Time, limit int) ([]models.Receipt, error) {
	return nil, nil
}
func (f *fakeReceipts) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Receipt, error) {
	return nil, nil
}
func (f *fakeReceipts) Delete(ctx context.Context, id uuid.UUID) error { return nil }

type fakeUsers struct {
	user *models.User
}

func (f *fakeUsers) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return f.user, nil
}
func (f *fakeUsers) ReserveQuota(ctx context.Context, id uuid.UUID) error {
	if f.user.QuotaUsed >= f.user.QuotaLimit {
		return store.ErrQuotaExceeded
	}
	f.user.QuotaUsed++
	return nil
}
func (f *fakeUsers) ReleaseQuota(ctx context.Context, id uuid.UUID) error    { return nil }
func (f *fakeUsers) ResetQuota(ctx context.Context, id uuid.UUID) error      { return nil }
func (f *fakeUsers) TouchLastActive(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeUsers) ListInactiveFree(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error) {
	return nil, nil
}

type fakeObjects struct{}

func (fakeObjects) PresignedPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}
func (fakeObjects) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (fakeObjects) Delete(ctx context.Context, key string) error { return nil }

type fakeQueue struct {
	payloads []queue.ExtractPayload
}

func (f *fakeQueue) EnqueueExtraction(p queue.ExtractPayload) error {
	f.payloads = append(f.payloads, p)
	return nil
}

type fakeIndex struct {
	lastQuery search.Query
	err       error
}

func (f *fakeIndex) Upsert(ctx context.Context, doc search.Document) error { return nil }
func (f *fakeIndex) Delete(ctx context.Context, id string) error           { return nil }
func (f *fakeIndex) Search(ctx context.Context, q search.Query) (*search.Result, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return &search.Result{Hits: []search.Document{}, Limit: q.Limit, Offset: q.Offset}, nil
}

func newTestIntake(receipts *fakeReceipts, users *fakeUsers, jobs *fakeQueue) *intake.Service {
	cfg := config.PipelineConfig{MaxFileSizeBytes: 10 << 20}
	return intake.NewService(receipts, users, fakeObjects{}, jobs, cfg, 15*time.Minute)
}

func authedRequest(method, target string, body []byte, user *models.User) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(auth.WithUser(req.Context(), user))
}

func TestRequestUploadHandler(t *testing.T) {
	user := &models.User{ID: uuid.New(), QuotaLimit: 50, QuotaUsed: 10}
	receipts := &fakeReceipts{byID: make(map[uuid.UUID]*models.Receipt)}
	h := NewReceiptHandler(newTestIntake(receipts, &fakeUsers{user: user}, &fakeQueue{}))

	body, _ := json.Marshal(map[string]interface{}{
		"file_name":    "lunch.jpg",
		"file_size":    2048,
		"content_type": "image/jpeg",
	})
	rec := httptest.NewRecorder()
	h.RequestUpload(rec, authedRequest(http.MethodPost, "/api/v1/receipts/upload-request", body, user))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var target intake.UploadTarget
	if err := json.Unmarshal(rec.Body.Bytes(), &target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if target.UploadURL == "" || target.ReceiptID == uuid.Nil {
		t.Errorf("incomplete upload target: %+v", target)
	}
}

func TestRequestUploadHandlerQuotaExceeded(t *testing.T) {
	user := &models.User{ID: uuid.New(), QuotaLimit: 50, QuotaUsed: 50}
	receipts := &fakeReceipts{byID: make(map[uuid.UUID]*models.Receipt)}
	h := NewReceiptHandler(newTestIntake(receipts, &fakeUsers{user: user}, &fakeQueue{}))

	body, _ := json.Marshal(map[string]interface{}{
		"file_name":    "r.png",
		"file_size":    100,
		"content_type": "image/png",
	})
	rec := httptest.NewRecorder()
	h.RequestUpload(rec, authedRequest(http.MethodPost, "/api/v1/receipts/upload-request", body, user))

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestStatusHandlerHidesOtherUsersReceipts(t *testing.T) {
	owner := &models.User{ID: uuid.New(), QuotaLimit: 50}
	other := &models.User{ID: uuid.New(), QuotaLimit: 50}

	receiptID := uuid.New()
	receipts := &fakeReceipts{byID: map[uuid.UUID]*models.Receipt{
		receiptID: {ID: receiptID, UserID: owner.ID, Status: models.StatusIndexed},
	}}
	h := NewReceiptHandler(newTestIntake(receipts, &fakeUsers{user: other}, &fakeQueue{}))

	req := authedRequest(http.MethodGet, "/api/v1/receipts/"+receiptID.String()+"/status", nil, other)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", receiptID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign receipt must look absent, got %d", rec.Code)
	}
}

func TestStatusHandlerIncludesFailureReason(t *testing.T) {
	owner := &models.User{ID: uuid.New(), QuotaLimit: 50}
	receiptID := uuid.New()
	receipts := &fakeReceipts{byID: map[uuid.UUID]*models.Receipt{
		receiptID: {
			ID:            receiptID,
			UserID:        owner.ID,
			Status:        models.StatusFailed,
			AttemptCount:  5,
			FailureReason: "extraction retries exhausted",
		},
	}}
	h := NewReceiptHandler(newTestIntake(receipts, &fakeUsers{user: owner}, &fakeQueue{}))

	req := authedRequest(http.MethodGet, "/api/v1/receipts/"+receiptID.String()+"/status", nil, owner)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", receiptID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["processing_status"] != "failed" {
		t.Errorf("expected failed, got %v", resp["processing_status"])
	}
	if resp["failure_reason"] != "extraction retries exhausted" {
		t.Errorf("expected failure reason, got %v", resp["failure_reason"])
	}
}

func TestSearchHandlerPinsUser(t *testing.T) {
	user := &models.User{ID: uuid.New(), QuotaLimit: 50}
	index := &fakeIndex{}
	h := NewSearchHandler(index)

	// The client has no say over whose receipts are searched.
	body := []byte(`{"query":"coffee","user_id":"` + uuid.NewString() + `"}`)
	rec := httptest.NewRecorder()
	h.Search(rec, authedRequest(http.MethodPost, "/api/v1/search", body, user))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if index.lastQuery.UserID != user.ID.String() {
		t.Errorf("query must be pinned to the caller, got %s", index.lastQuery.UserID)
	}
	if index.lastQuery.Text != "coffee" {
		t.Errorf("expected text coffee, got %q", index.lastQuery.Text)
	}
}

func TestSearchHandlerClampsLimit(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	index := &fakeIndex{}
	h := NewSearchHandler(index)

	for _, limit := range []int64{0, -5, 500} {
		body, _ := json.Marshal(map[string]interface{}{"query": "x", "limit": limit})
		rec := httptest.NewRecorder()
		h.Search(rec, authedRequest(http.MethodPost, "/api/v1/search", body, user))
		if index.lastQuery.Limit != 20 {
			t.Errorf("limit %d must clamp to 20, got %d", limit, index.lastQuery.Limit)
		}
	}
}

func TestSearchHandlerIndexDown(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	h := NewSearchHandler(&fakeIndex{err: search.ErrIndexUnavailable})

	rec := httptest.NewRecorder()
	h.Search(rec, authedRequest(http.MethodPost, "/api/v1/search", []byte(`{"query":"x"}`), user))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestObjectCreatedWebhook(t *testing.T) {
	user := &models.User{ID: uuid.New(), QuotaLimit: 50, QuotaUsed: 1}
	receiptID := uuid.New()
	key := models.ObjectKey(user.ID, receiptID)

	receipts := &fakeReceipts{byID: map[uuid.UUID]*models.Receipt{
		receiptID: {ID: receiptID, UserID: user.ID, StorageKey: key, Status: models.StatusPendingUpload},
	}}
	jobs := &fakeQueue{}
	h := NewEventHandler(newTestIntake(receipts, &fakeUsers{user: user}, jobs))

	payload := map[string]interface{}{
		"Records": []map[string]interface{}{
			{
				"eventName": "s3:ObjectCreated:Put",
				"s3": map[string]interface{}{
					"object": map[string]interface{}{"key": key},
				},
			},
		},
	}
	body, _ := json.Marshal(payload)

	rec := httptest.NewRecorder()
	h.ObjectCreated(rec, httptest.NewRequest(http.MethodPost, "/internal/events/object-created", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(jobs.payloads) != 1 {
		t.Errorf("expected one extraction job, got %d", len(jobs.payloads))
	}
	if receipts.byID[receiptID].Status != models.StatusQueued {
		t.Errorf("expected queued, got %s", receipts.byID[receiptID].Status)
	}
}

func TestObjectCreatedWebhookIgnoresOtherEvents(t *testing.T) {
	receipts := &fakeReceipts{byID: make(map[uuid.UUID]*models.Receipt)}
	jobs := &fakeQueue{}
	user := &models.User{ID: uuid.New()}
	h := NewEventHandler(newTestIntake(receipts, &fakeUsers{user: user}, jobs))

	body := []byte(`{"Records":[{"eventName":"s3:ObjectRemoved:Delete","s3":{"object":{"key":"receipts/a/b/original"}}}]}`)
	rec := httptest.NewRecorder()
	h.ObjectCreated(rec, httptest.NewRequest(http.MethodPost, "/internal/events/object-created", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(jobs.payloads) != 0 {
		t.Errorf("removal events must not enqueue, got %d", len(jobs.payloads))
	}
}

func TestObjectCreatedWebhookBadPayload(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	h := NewEventHandler(newTestIntake(&fakeReceipts{byID: make(map[uuid.UUID]*models.Receipt)}, &fakeUsers{user: user}, &fakeQueue{}))

	rec := httptest.NewRecorder()
	h.ObjectCreated(rec, httptest.NewRequest(http.MethodPost, "/internal/events/object-created", strings.NewReader("{{")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
