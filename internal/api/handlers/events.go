package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nikhilbhutani/receiptsearch/internal/intake"
)

// EventHandler receives the object store's bucket-notification webhook and
// feeds creation events into the intake service. Deliveries may repeat; the
// intake side is idempotent.
type EventHandler struct {
	svc *intake.Service
}

func NewEventHandler(svc *intake.Service) *EventHandler {
	return &EventHandler{svc: svc}
}

// minioEvent is the subset of the MinIO notification payload we consume.
type minioEvent struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

func (h *EventHandler) ObjectCreated(w http.ResponseWriter, r *http.Request) {
	var event minioEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}

	for _, rec := range event.Records {
		if !strings.HasPrefix(rec.EventName, "s3:ObjectCreated") {
			continue
		}
		// Notification keys arrive URL-encoded.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		if err := h.svc.HandleObjectCreated(r.Context(), key); err != nil {
			// Non-2xx makes the store redeliver the notification.
			slog.Error("handle object created", "key", key, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
