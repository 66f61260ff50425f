package receiptparse

import (
	"testing"
	"time"
)

func TestParseSingleLineReceipt(t *testing.T) {
	r := Parse("STARBUCKS $4.50 2024-01-05")

	if r.Merchant != "STARBUCKS" {
		t.Errorf("expected merchant STARBUCKS, got %q", r.Merchant)
	}
	if r.Amount == nil || *r.Amount != 4.50 {
		t.Errorf("expected amount 4.50, got %v", r.Amount)
	}
	if r.Currency != "USD" {
		t.Errorf("expected currency USD, got %q", r.Currency)
	}
	if r.Date == nil || !r.Date.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected date 2024-01-05, got %v", r.Date)
	}
}

func TestParseFullReceipt(t *testing.T) {
	text := `WHOLE FOODS MARKET
123 Main St
2024-03-15
Bananas x2        1.98
Oat Milk          4.29
Subtotal          6.27
Tax               0.50
TOTAL             6.77
VISA ****1234`

	r := Parse(text)

	if r.Merchant != "WHOLE FOODS MARKET" {
		t.Errorf("expected merchant WHOLE FOODS MARKET, got %q", r.Merchant)
	}
	if r.Amount == nil || *r.Amount != 6.77 {
		t.Fatalf("expected total 6.77, got %v", r.Amount)
	}
	if r.Date == nil || r.Date.Format("2006-01-02") != "2024-03-15" {
		t.Errorf("expected date 2024-03-15, got %v", r.Date)
	}
	if len(r.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d: %+v", len(r.Items), r.Items)
	}
	if r.Items[0].Name != "Bananas" || r.Items[0].Quantity != 2 {
		t.Errorf("unexpected first item: %+v", r.Items[0])
	}
	if r.Items[1].Total == nil || *r.Items[1].Total != 4.29 {
		t.Errorf("unexpected second item total: %+v", r.Items[1])
	}
}

func TestParsePrefersTotalLineOverLargestValue(t *testing.T) {
	// The quantity-price line carries a larger value than the total; the
	// keyword line must still win.
	text := `SHOP
Gift Card         100.00
Discount          -95.00
Total             5.00`

	r := Parse(text)
	if r.Amount == nil || *r.Amount != 5.00 {
		t.Errorf("expected total 5.00 from keyword line, got %v", r.Amount)
	}
}

func TestParseDateFormats(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"iso", "SHOP\n2024-02-29\nTotal 1.00", "2024-02-29"},
		{"slash month first", "SHOP\n3/15/2024\nTotal 1.00", "2024-03-15"},
		{"slash day first fallback", "SHOP\n25/12/2024\nTotal 1.00", "2024-12-25"},
		{"text month", "SHOP\nJan 5, 2024\nTotal 1.00", "2024-01-05"},
		{"abbreviated with period", "SHOP\nDec. 31 2023\nTotal 1.00", "2023-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.text)
			if r.Date == nil {
				t.Fatalf("no date parsed from %q", tt.text)
			}
			if got := r.Date.Format("2006-01-02"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseCurrencyCodeBeatsSymbol(t *testing.T) {
	r := Parse("SHOP\nTotal 12.00 EUR")
	if r.Currency != "EUR" {
		t.Errorf("expected EUR, got %q", r.Currency)
	}
}

func TestParseEmptyAndGarbage(t *testing.T) {
	for _, text := range []string{"", "   \n\n  ", "@@@@ ####\n!!!!"} {
		r := Parse(text)
		if len(r.Parsed) != 0 {
			t.Errorf("expected nothing parsed from %q, got %v", text, r.Parsed)
		}
		if r.Confidence != 0 {
			t.Errorf("expected zero confidence for %q, got %f", text, r.Confidence)
		}
	}
}

func TestParsePartial(t *testing.T) {
	r := Parse("CORNER DELI\nthanks for visiting")
	if r.Merchant == "" {
		t.Fatal("expected merchant from header line")
	}
	if r.Amount != nil {
		t.Errorf("expected no amount, got %v", *r.Amount)
	}
	if !r.Partial() {
		t.Error("expected a partial result")
	}
}

func TestConfidenceScoring(t *testing.T) {
	full := Parse(`STORE A
Coffee 3.00
Muffin 2.50
2024-06-01
Total $5.50 USD`)
	if full.Confidence < 0.99 {
		t.Errorf("expected full confidence near 1.0, got %f", full.Confidence)
	}

	sparse := Parse("STORE B\nno prices here")
	if sparse.Confidence >= full.Confidence {
		t.Errorf("sparse parse should score below full parse: %f >= %f",
			sparse.Confidence, full.Confidence)
	}
}
