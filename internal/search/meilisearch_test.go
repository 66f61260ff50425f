package search

import (
	"strings"
	"testing"
)

func TestBuildFilterAlwaysPinsUser(t *testing.T) {
	f := buildFilter(Query{UserID: "u-1"})
	if f != `user_id = "u-1"` {
		t.Errorf("unexpected filter: %s", f)
	}
}

func TestBuildFilterCombinesCriteria(t *testing.T) {
	min := 5.0
	max := 20.0
	f := buildFilter(Query{
		UserID:    "u-1",
		Merchant:  "STARBUCKS",
		AmountMin: &min,
		AmountMax: &max,
		DateFrom:  1704067200,
		DateTo:    1706745600,
	})

	for _, want := range []string{
		`user_id = "u-1"`,
		`merchant_name = "STARBUCKS"`,
		"amount >= 5",
		"amount <= 20",
		"upload_date >= 1704067200",
		"upload_date <= 1706745600",
	} {
		if !strings.Contains(f, want) {
			t.Errorf("filter missing %q: %s", want, f)
		}
	}
	if strings.Count(f, " AND ") != 5 {
		t.Errorf("expected 5 conjunctions, got %q", f)
	}
}

func TestBuildFilterSkipsZeroDates(t *testing.T) {
	f := buildFilter(Query{UserID: "u-1", DateFrom: 0, DateTo: 0})
	if strings.Contains(f, "upload_date") {
		t.Errorf("zero dates must not filter: %s", f)
	}
}
