package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meilisearch/meilisearch-go"

	"github.com/nikhilbhutani/receiptsearch/internal/config"
)

type MeilisearchIndex struct {
	index *meilisearch.Index
}

func NewMeilisearchIndex(cfg config.SearchConfig) *MeilisearchIndex {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   cfg.Host,
		APIKey: cfg.APIKey,
	})
	return &MeilisearchIndex{index: client.Index(cfg.Index)}
}

// EnsureSettings pushes the filterable/sortable attribute configuration.
// Safe to call on every startup; Meilisearch treats it as an upsert.
func (m *MeilisearchIndex) EnsureSettings(ctx context.Context) error {
	_, err := m.index.UpdateSettings(&meilisearch.Settings{
		SearchableAttributes: []string{"merchant_name", "text"},
		FilterableAttributes: []string{
			"user_id", "upload_date", "processing_status", "extracted_date",
			"merchant_name", "amount", "purchase_date",
		},
		SortableAttributes: []string{"upload_date", "merchant_name", "amount"},
	})
	if err != nil {
		return fmt.Errorf("update index settings: %w", err)
	}
	_ = ctx
	return nil
}

func (m *MeilisearchIndex) Upsert(ctx context.Context, doc Document) error {
	if _, err := m.index.AddDocuments([]Document{doc}, "id"); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrIndexUnavailable, doc.ID, err)
	}
	_ = ctx
	return nil
}

func (m *MeilisearchIndex) Delete(ctx context.Context, id string) error {
	if _, err := m.index.DeleteDocument(id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrIndexUnavailable, id, err)
	}
	_ = ctx
	return nil
}

func (m *MeilisearchIndex) Search(ctx context.Context, q Query) (*Result, error) {
	req := &meilisearch.SearchRequest{
		Filter: buildFilter(q),
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	if len(q.Sort) > 0 {
		req.Sort = q.Sort
	}

	resp, err := m.index.Search(q.Text, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrIndexUnavailable, err)
	}

	out := &Result{
		Total:   resp.EstimatedTotalHits,
		Limit:   resp.Limit,
		Offset:  resp.Offset,
		Elapsed: resp.ProcessingTimeMs,
	}
	for _, hit := range resp.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out.Hits = append(out.Hits, doc)
	}
	_ = ctx
	return out, nil
}

// buildFilter renders the structured criteria as a Meilisearch filter
// expression, always pinning user_id.
func buildFilter(q Query) string {
	parts := []string{fmt.Sprintf("user_id = %q", q.UserID)}
	if q.Merchant != "" {
		parts = append(parts, fmt.Sprintf("merchant_name = %q", q.Merchant))
	}
	if q.AmountMin != nil {
		parts = append(parts, fmt.Sprintf("amount >= %v", *q.AmountMin))
	}
	if q.AmountMax != nil {
		parts = append(parts, fmt.Sprintf("amount <= %v", *q.AmountMax))
	}
	if q.DateFrom > 0 {
		parts = append(parts, fmt.Sprintf("upload_date >= %d", q.DateFrom))
	}
	if q.DateTo > 0 {
		parts = append(parts, fmt.Sprintf("upload_date <= %d", q.DateTo))
	}
	return strings.Join(parts, " AND ")
}
