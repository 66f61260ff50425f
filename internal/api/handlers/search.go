package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nikhilbhutani/receiptsearch/internal/auth"
	"github.com/nikhilbhutani/receiptsearch/internal/search"
)

type SearchHandler struct {
	index search.Index
}

func NewSearchHandler(index search.Index) *SearchHandler {
	return &SearchHandler{index: index}
}

type searchRequestBody struct {
	Query     string   `json:"query"`
	Merchant  string   `json:"merchant,omitempty"`
	AmountMin *float64 `json:"amount_min,omitempty"`
	AmountMax *float64 `json:"amount_max,omitempty"`
	DateFrom  int64    `json:"date_from,omitempty"`
	DateTo    int64    `json:"date_to,omitempty"`
	Sort      []string `json:"sort,omitempty"`
	Limit     int64    `json:"limit,omitempty"`
	Offset    int64    `json:"offset,omitempty"`
}

// Search runs a free-text plus structured query over the caller's own
// receipts. The user filter is pinned server-side.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.Limit <= 0 || body.Limit > 100 {
		body.Limit = 20
	}

	result, err := h.index.Search(r.Context(), search.Query{
		UserID:    user.ID.String(),
		Text:      body.Query,
		Merchant:  body.Merchant,
		AmountMin: body.AmountMin,
		AmountMax: body.AmountMax,
		DateFrom:  body.DateFrom,
		DateTo:    body.DateTo,
		Sort:      body.Sort,
		Limit:     body.Limit,
		Offset:    body.Offset,
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "search unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}
