// Package resolve ranks extracted amount candidates and picks the one
// most likely to be the receipt's payable total.
package resolve

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/extract"
	"github.com/mizutani/kakeibot/internal/model"
)

// Keyword tiers for the proximity heuristic. High-signal terms name the
// payable total outright; medium-signal terms name adjacent totals.
var (
	highKeywords   = []string{"合計", "総計", "ご請求", "お会計", "grand total", "total due", "total"}
	mediumKeywords = []string{"小計", "税込", "subtotal", "tax included", "amount due"}
	lowKeywords    = []string{"計", "amount", "balance"}
)

var (
	taxRatePattern = regexp.MustCompile(`(\d{1,2}(?:\.\d+)?)\s*%`)
	digitPattern   = regexp.MustCompile(`\d`)
)

// defaultTaxRate is the statutory consumption tax rate applied when the
// receipt does not state one.
const defaultTaxRate = 0.10

// Resolver scores candidates with four independent heuristics and
// resolves the total with an overall confidence.
type Resolver struct {
	taxRate float64
}

// New creates a resolver using the statutory default tax rate.
func New() *Resolver {
	return &Resolver{taxRate: defaultTaxRate}
}

type scored struct {
	key        string
	candidate  extract.Candidate
	confidence float64
	heuristics int
}

// Analyze resolves the total for the given OCR text and its extracted
// candidates. A nil-candidate input reports common.ErrNoAmountFound,
// which is terminal: there is nothing to retry.
func (r *Resolver) Analyze(text string, candidates []extract.Candidate) (model.ReceiptAnalysis, error) {
	if len(candidates) == 0 {
		return model.ReceiptAnalysis{}, common.ErrNoAmountFound
	}

	text = extract.Normalize(text)
	lines := strings.Split(text, "\n")
	taxRate := r.detectTaxRate(text)

	pool := make(map[string]*scored)
	record := func(c extract.Candidate, conf float64) {
		key := c.Key()
		entry, ok := pool[key]
		if !ok {
			pool[key] = &scored{key: key, candidate: c, confidence: conf, heuristics: 1}
			return
		}
		entry.heuristics++
		if conf > entry.confidence {
			entry.confidence = conf
		}
	}

	r.scoreKeywords(lines, candidates, record)
	r.scorePosition(lines, candidates, record)
	r.scoreMagnitude(candidates, record)
	r.scoreArithmetic(candidates, taxRate, record)

	analysis := model.ReceiptAnalysis{
		StoreName:  detectStoreName(lines),
		Kind:       detectKind(text),
		LineItems:  detectLineItems(lines, candidates),
		Candidates: rawCandidates(candidates),
	}

	if len(pool) == 0 {
		// Documented low-trust fallback: if any amount exists at all,
		// report the largest one at zero confidence rather than nothing.
		largest := largestCandidate(candidates)
		total := largest.AmountCandidate
		total.Confidence = 0
		analysis.ResolvedTotal = &total
		analysis.Confidence = 0
		return analysis, nil
	}

	ranked := make([]*scored, 0, len(pool))
	for _, s := range pool {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].confidence != ranked[j].confidence {
			return ranked[i].confidence > ranked[j].confidence
		}
		return ranked[i].candidate.Amount.GreaterThan(ranked[j].candidate.Amount)
	})

	winner := ranked[0]
	total := winner.candidate.AmountCandidate
	total.Confidence = winner.confidence
	analysis.ResolvedTotal = &total

	confidence := winner.confidence
	if winner.heuristics >= 2 {
		confidence += 0.05
	}
	if len(ranked) >= 3 {
		confidence += 0.03
	}
	if confidence > 1 {
		confidence = 1
	}
	analysis.Confidence = confidence

	return analysis, nil
}

func (r *Resolver) scoreKeywords(lines []string, candidates []extract.Candidate, record func(extract.Candidate, float64)) {
	for _, c := range candidates {
		if c.Line < 0 || c.Line >= len(lines) {
			continue
		}
		line := strings.ToLower(lines[c.Line])
		switch {
		case containsAny(line, highKeywords):
			record(c, 0.9)
		case containsAny(line, mediumKeywords):
			record(c, 0.7)
		case containsAny(line, lowKeywords):
			record(c, 0.5)
		}
	}
}

func (r *Resolver) scorePosition(lines []string, candidates []extract.Candidate, record func(extract.Candidate, float64)) {
	last := len(lines) - 1
	for _, c := range candidates {
		dist := last - c.Line
		if dist < 0 || dist > 3 {
			continue
		}
		record(c, 0.4+0.05*float64(3-dist))
	}
}

func (r *Resolver) scoreMagnitude(candidates []extract.Candidate, record func(extract.Candidate, float64)) {
	if len(candidates) == 0 {
		return
	}
	sorted := make([]extract.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Amount.GreaterThan(sorted[j].Amount)
	})

	record(sorted[0], 0.6)
	if len(sorted) > 1 {
		threshold := sorted[0].Amount.Mul(decimal.NewFromFloat(0.8))
		if sorted[1].Amount.GreaterThanOrEqual(threshold) {
			record(sorted[1], 0.4)
		}
	}
}

func (r *Resolver) scoreArithmetic(candidates []extract.Candidate, taxRate float64, record func(extract.Candidate, float64)) {
	divisor := decimal.NewFromFloat(1 + taxRate)

	for i, c := range candidates {
		// Subtotal-plus-tax: stripping the tax from this candidate
		// lands on another candidate.
		base := c.Amount.Div(divisor)
		for j, other := range candidates {
			if i == j || other.Amount.GreaterThanOrEqual(c.Amount) {
				continue
			}
			tolerance := other.Amount.Mul(decimal.NewFromFloat(0.02))
			if base.Sub(other.Amount).Abs().LessThanOrEqual(tolerance) {
				record(c, 0.8)
				break
			}
		}

		// Line-item sum: this candidate equals the sum of two or more
		// smaller candidates.
		if sumOfSmaller(c, candidates) {
			record(c, 0.7)
		}
	}
}

// sumOfSmaller reports whether target matches, within 5%, either the
// sum of all strictly smaller candidates or the sum of any pair of them.
func sumOfSmaller(target extract.Candidate, candidates []extract.Candidate) bool {
	var smaller []decimal.Decimal
	for _, c := range candidates {
		if c.Amount.LessThan(target.Amount) {
			smaller = append(smaller, c.Amount)
		}
	}
	if len(smaller) < 2 {
		return false
	}

	tolerance := target.Amount.Mul(decimal.NewFromFloat(0.05))
	within := func(sum decimal.Decimal) bool {
		return sum.Sub(target.Amount).Abs().LessThanOrEqual(tolerance)
	}

	all := decimal.Zero
	for _, a := range smaller {
		all = all.Add(a)
	}
	if within(all) {
		return true
	}

	for i := 0; i < len(smaller); i++ {
		for j := i + 1; j < len(smaller); j++ {
			if within(smaller[i].Add(smaller[j])) {
				return true
			}
		}
	}
	return false
}

// detectTaxRate reads an explicit percentage mention out of the text,
// falling back to the statutory default. Percentages above 30 are
// discounts or points, not tax.
func (r *Resolver) detectTaxRate(text string) float64 {
	for _, m := range taxRatePattern.FindAllStringSubmatch(text, -1) {
		rate, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if rate > 0 && rate <= 30 {
			return rate / 100
		}
	}
	return r.taxRate
}

// containsAny reports whether any keyword occurs in line. ASCII
// keywords match on word boundaries so "total" does not fire inside
// "subtotal"; Japanese keywords match as plain substrings.
func containsAny(line string, keywords []string) bool {
	for _, kw := range keywords {
		if containsKeyword(line, kw) {
			return true
		}
	}
	return false
}

func containsKeyword(line, kw string) bool {
	start := 0
	for {
		idx := strings.Index(line[start:], kw)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(kw)
		if !isASCIILetter(line, idx-1) && !isASCIILetter(line, end) {
			return true
		}
		start = end
	}
}

func isASCIILetter(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func detectStoreName(lines []string) string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || digitPattern.MatchString(trimmed) {
			continue
		}
		if containsAny(strings.ToLower(trimmed), highKeywords) {
			continue
		}
		return trimmed
	}
	return ""
}

func detectKind(text string) model.ReceiptKind {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(text, "領収書") || strings.Contains(text, "レシート") || strings.Contains(lowered, "receipt"):
		return model.KindReceipt
	case strings.Contains(text, "請求書") || strings.Contains(lowered, "invoice"):
		return model.KindInvoice
	default:
		return model.KindUnknown
	}
}

func detectLineItems(lines []string, candidates []extract.Candidate) []string {
	matched := make(map[int]struct{})
	for _, c := range candidates {
		matched[c.Line] = struct{}{}
	}
	var items []string
	for i, line := range lines {
		if _, ok := matched[i]; !ok {
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func rawCandidates(candidates []extract.Candidate) []model.AmountCandidate {
	out := make([]model.AmountCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.AmountCandidate)
	}
	return out
}

func largestCandidate(candidates []extract.Candidate) extract.Candidate {
	largest := candidates[0]
	for _, c := range candidates[1:] {
		if c.Amount.GreaterThan(largest.Amount) {
			largest = c
		}
	}
	return largest
}

// Describe renders a short human-readable summary of an analysis for
// confirmation messages.
func Describe(a model.ReceiptAnalysis) string {
	if a.ResolvedTotal == nil {
		return "no amount found"
	}
	store := a.StoreName
	if store == "" {
		store = "receipt"
	}
	return fmt.Sprintf("%s %s%s", store, a.ResolvedTotal.Currency.Symbol, a.ResolvedTotal.Amount.String())
}
