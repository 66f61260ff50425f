package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/receiptsearch/internal/auth"
	"github.com/nikhilbhutani/receiptsearch/internal/intake"
	"github.com/nikhilbhutani/receiptsearch/internal/models"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
)

type ReceiptHandler struct {
	svc *intake.Service
}

func NewReceiptHandler(svc *intake.Service) *ReceiptHandler {
	return &ReceiptHandler{svc: svc}
}

type uploadRequestBody struct {
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// RequestUpload reserves quota and returns a presigned write location. The
// client uploads bytes there; the pipeline takes over on the object-created
// event.
func (h *ReceiptHandler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var body uploadRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	target, err := h.svc.RequestUpload(r.Context(), intake.UploadRequest{
		UserID:      user.ID,
		FileName:    body.FileName,
		FileSize:    body.FileSize,
		ContentType: body.ContentType,
	})
	switch {
	case errors.Is(err, store.ErrQuotaExceeded):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "quota exceeded"})
		return
	case errors.Is(err, intake.ErrInvalidUpload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, target)
}

// Status returns the receipt's processing status, with the failure reason
// when terminal-failed.
func (h *ReceiptHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid receipt ID"})
		return
	}

	receipt, err := h.svc.GetStatus(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && receipt.UserID != user.ID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "receipt not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := map[string]interface{}{
		"receipt_id":        receipt.ID,
		"processing_status": receipt.Status,
		"attempt_count":     receipt.AttemptCount,
	}
	if receipt.Status == models.StatusFailed {
		resp["failure_reason"] = receipt.FailureReason
	}
	writeJSON(w, http.StatusOK, resp)
}

// Quota reports the authenticated user's upload allowance.
func (h *ReceiptHandler) Quota(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quota_limit":     user.QuotaLimit,
		"quota_used":      user.QuotaUsed,
		"quota_remaining": user.QuotaRemaining(),
	})
}
