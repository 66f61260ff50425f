// Package receiptparse turns raw OCR text into structured receipt fields.
// Parsing is best effort: each extractor either claims its field or leaves it
// empty, and a partially parsed receipt is still a valid result.
package receiptparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Item struct {
	Name     string   `json:"name"`
	Quantity int      `json:"quantity,omitempty"`
	Total    *float64 `json:"total,omitempty"`
}

// Result is the outcome of a parse. Parsed names the extractors that
// matched; callers decide what to do with the gaps.
type Result struct {
	Merchant   string
	Amount     *float64
	Currency   string
	Date       *time.Time
	Items      []Item
	Parsed     []string
	Confidence float64
}

// Partial reports whether some but not all core fields were recovered.
func (r *Result) Partial() bool {
	return len(r.Parsed) > 0 && len(r.Parsed) < len(extractors)
}

type extractor struct {
	name  string
	apply func(lines []string, r *Result) bool
}

// extractors run in fixed order; later extractors may rely on earlier ones
// (currency reuses the amount match position).
var extractors = []extractor{
	{"amount", extractAmount},
	{"currency", extractCurrency},
	{"date", extractDate},
	{"merchant", extractMerchant},
	{"items", extractItems},
}

// Parse runs every extractor over the OCR text and scores the result.
func Parse(text string) *Result {
	r := &Result{}
	lines := splitLines(text)
	if len(lines) == 0 {
		return r
	}

	for _, ex := range extractors {
		if ex.apply(lines, r) {
			r.Parsed = append(r.Parsed, ex.name)
		}
	}

	r.Confidence = score(r)
	return r
}

var (
	moneyRe     = regexp.MustCompile(`([$€£])?\s*(\d{1,6}[.,]\d{2})\b`)
	totalRe     = regexp.MustCompile(`(?i)\b(?:grand\s+total|total|amount\s+due|balance\s+due|balance)\b`)
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	textDateRe  = regexp.MustCompile(`\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	qtyRe       = regexp.MustCompile(`(?i)\b(?:x\s*(\d{1,3})|(\d{1,3})\s*x)\b`)
	codeRe      = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD|JPY|SGD)\b`)
)

// extractAmount prefers an amount on a total-keyword line, falling back to
// the largest money value anywhere on the receipt.
func extractAmount(lines []string, r *Result) bool {
	var best *float64
	for _, line := range lines {
		if !totalRe.MatchString(line) {
			continue
		}
		for _, m := range moneyRe.FindAllStringSubmatch(line, -1) {
			if v, ok := parseMoney(m[2]); ok {
				best = maxAmount(best, v)
			}
		}
	}
	if best == nil {
		for _, line := range lines {
			for _, m := range moneyRe.FindAllStringSubmatch(line, -1) {
				if v, ok := parseMoney(m[2]); ok {
					best = maxAmount(best, v)
				}
			}
		}
	}
	if best == nil {
		return false
	}
	r.Amount = best
	return true
}

func extractCurrency(lines []string, r *Result) bool {
	for _, line := range lines {
		if m := codeRe.FindString(line); m != "" {
			r.Currency = m
			return true
		}
	}
	for _, line := range lines {
		for _, m := range moneyRe.FindAllStringSubmatch(line, -1) {
			switch m[1] {
			case "$":
				r.Currency = "USD"
			case "€":
				r.Currency = "EUR"
			case "£":
				r.Currency = "GBP"
			default:
				continue
			}
			return true
		}
	}
	return false
}

func extractDate(lines []string, r *Result) bool {
	for _, line := range lines {
		if m := isoDateRe.FindStringSubmatch(line); m != nil {
			if t, err := time.Parse("2006-01-02", m[0]); err == nil {
				r.Date = &t
				return true
			}
		}
		if m := slashDateRe.FindStringSubmatch(line); m != nil {
			// Ambiguous day/month order; month-first is assumed, with a
			// day-first retry when month-first is impossible.
			if t, err := time.Parse("1/2/2006", m[0]); err == nil {
				r.Date = &t
				return true
			}
			if t, err := time.Parse("2/1/2006", m[0]); err == nil {
				r.Date = &t
				return true
			}
		}
		if m := textDateRe.FindStringSubmatch(line); m != nil {
			day, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			if mon, ok := monthByPrefix(m[1]); ok {
				t := time.Date(year, mon, day, 0, 0, 0, 0, time.UTC)
				r.Date = &t
				return true
			}
		}
	}
	return false
}

// extractMerchant takes the first line that still has letters after money
// and date tokens are stripped. Receipt headers put the merchant first.
func extractMerchant(lines []string, r *Result) bool {
	for _, line := range lines[:min(3, len(lines))] {
		if totalRe.MatchString(line) {
			continue
		}
		clean := moneyRe.ReplaceAllString(line, "")
		clean = isoDateRe.ReplaceAllString(clean, "")
		clean = slashDateRe.ReplaceAllString(clean, "")
		clean = textDateRe.ReplaceAllString(clean, "")
		clean = strings.TrimSpace(strings.Trim(clean, " -*#"))
		if clean != "" && hasLetter(clean) {
			r.Merchant = clean
			return true
		}
	}
	return false
}

// extractItems treats interior lines ending in a money value as line items,
// skipping total/tax/change lines.
func extractItems(lines []string, r *Result) bool {
	if len(lines) < 3 {
		return false
	}
	skipRe := regexp.MustCompile(`(?i)\b(total|subtotal|tax|change|cash|card|tender|visa|mastercard)\b`)
	for _, line := range lines[1 : len(lines)-1] {
		if skipRe.MatchString(line) {
			continue
		}
		ms := moneyRe.FindAllStringSubmatchIndex(line, -1)
		if len(ms) == 0 {
			continue
		}
		last := ms[len(ms)-1]
		name := strings.TrimSpace(strings.Trim(line[:last[0]], " ."))
		if name == "" || !hasLetter(name) {
			continue
		}
		item := Item{Name: name}
		if v, ok := parseMoney(line[last[4]:last[5]]); ok {
			item.Total = &v
		}
		if qm := qtyRe.FindStringSubmatch(name); qm != nil {
			qs := qm[1]
			if qs == "" {
				qs = qm[2]
			}
			item.Quantity, _ = strconv.Atoi(qs)
			item.Name = strings.TrimSpace(qtyRe.ReplaceAllString(name, ""))
		}
		r.Items = append(r.Items, item)
	}
	return len(r.Items) > 0
}

// score weighs the core fields; items are a bonus. A full parse lands at 1.0.
func score(r *Result) float64 {
	var s float64
	if r.Merchant != "" {
		s += 0.3
	}
	if r.Amount != nil {
		s += 0.3
	}
	if r.Date != nil {
		s += 0.2
	}
	if r.Currency != "" {
		s += 0.1
	}
	if len(r.Items) > 0 {
		s += 0.1
	}
	return s
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseMoney(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func maxAmount(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}

func monthByPrefix(p string) (time.Month, bool) {
	months := map[string]time.Month{
		"Jan": time.January, "Feb": time.February, "Mar": time.March,
		"Apr": time.April, "May": time.May, "Jun": time.June,
		"Jul": time.July, "Aug": time.August, "Sep": time.September,
		"Oct": time.October, "Nov": time.November, "Dec": time.December,
	}
	m, ok := months[p]
	return m, ok
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
