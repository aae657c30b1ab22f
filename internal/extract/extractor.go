// Package extract scans raw OCR text for plausible (amount, currency)
// pairs. It produces candidates; ranking them is the resolver's job.
package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"

	"github.com/mizutani/kakeibot/internal/model"
)

// Candidate is an extracted amount with the position it was found at,
// which the resolver's positional and keyword heuristics need.
type Candidate struct {
	model.AmountCandidate
	Line int
}

// currencies the extractor recognizes. The home currency comes first so
// its patterns win first-occurrence dedup ties.
var currencyTable = []struct {
	currency model.Currency
	markers  []string
	suffix   []string // markers that appear after the number (e.g. 円)
}{
	{model.Currency{Code: "JPY", Symbol: "¥"}, []string{"¥", "JPY"}, []string{"円"}},
	{model.Currency{Code: "USD", Symbol: "$"}, []string{"$", "USD", "US$"}, nil},
	{model.Currency{Code: "EUR", Symbol: "€"}, []string{"€", "EUR"}, nil},
	{model.Currency{Code: "GBP", Symbol: "£"}, []string{"£", "GBP"}, nil},
	{model.Currency{Code: "KRW", Symbol: "₩"}, []string{"₩", "KRW"}, nil},
	{model.Currency{Code: "CNY", Symbol: "元"}, []string{"CNY", "RMB"}, []string{"元"}},
	{model.Currency{Code: "TWD", Symbol: "NT$"}, []string{"NT$", "TWD"}, nil},
}

const numberPattern = `((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?)`

var totalKeywordPattern = `(?:合計|総計|小計|お会計|ご請求|total|subtotal|amount due|税込|税抜)`

// amounts outside this range are OCR noise, not prices.
var (
	maxAmount = decimal.NewFromInt(10_000_000)
	zero      = decimal.Zero
)

type currencyPatterns struct {
	currency model.Currency
	patterns []*regexp.Regexp
}

// Extractor turns OCR text into deduplicated amount candidates.
type Extractor struct {
	perCurrency []currencyPatterns
	agnostic    []*regexp.Regexp
	markerRes   map[string]*regexp.Regexp
}

// New builds an extractor with the fixed currency table compiled into
// match patterns.
func New() *Extractor {
	e := &Extractor{markerRes: make(map[string]*regexp.Regexp)}

	for _, entry := range currencyTable {
		alts := make([]string, 0, len(entry.markers))
		for _, m := range entry.markers {
			alts = append(alts, regexp.QuoteMeta(m))
		}
		marker := "(?:" + strings.Join(alts, "|") + ")"

		var suffix string
		if len(entry.suffix) > 0 {
			sufAlts := make([]string, 0, len(entry.suffix))
			for _, s := range entry.suffix {
				sufAlts = append(sufAlts, regexp.QuoteMeta(s))
			}
			suffix = "(?:" + strings.Join(sufAlts, "|") + ")"
		}

		cp := currencyPatterns{currency: entry.currency}
		// The four surface forms: marker before, marker after,
		// keyword + marker + number, number + marker + keyword.
		cp.patterns = append(cp.patterns,
			regexp.MustCompile(`(?i)`+marker+`\s*`+numberPattern),
			regexp.MustCompile(`(?i)`+numberPattern+`\s*`+marker),
			regexp.MustCompile(`(?i)`+totalKeywordPattern+`\D{0,8}`+marker+`\s*`+numberPattern),
			regexp.MustCompile(`(?i)`+numberPattern+`\s*`+marker+`\s*`+totalKeywordPattern),
		)
		if suffix != "" {
			cp.patterns = append(cp.patterns,
				regexp.MustCompile(`(?i)`+numberPattern+`\s*`+suffix),
				regexp.MustCompile(`(?i)`+totalKeywordPattern+`\D{0,8}`+numberPattern+`\s*`+suffix),
			)
		}
		e.perCurrency = append(e.perCurrency, cp)

		all := append(append([]string{}, entry.markers...), entry.suffix...)
		for _, m := range all {
			e.markerRes[entry.currency.Code+":"+m] = regexp.MustCompile(regexp.QuoteMeta(m))
		}
	}

	// Currency-agnostic shapes: number after a total/tax keyword,
	// number alone on a line, number at a line boundary.
	e.agnostic = []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + totalKeywordPattern + `\D{0,8}` + numberPattern),
		regexp.MustCompile(`^\s*` + numberPattern + `\s*$`),
		regexp.MustCompile(numberPattern + `\s*$`),
		regexp.MustCompile(`^\s*` + numberPattern),
	}

	return e
}

// Candidates extracts every plausible amount from text, deduplicated by
// (amount, currency code) with the first occurrence winning.
func (e *Extractor) Candidates(text string) []Candidate {
	text = Normalize(text)
	lines := strings.Split(text, "\n")
	inferred := e.inferCurrency(text)

	var out []Candidate
	seen := make(map[string]struct{})

	add := func(amount decimal.Decimal, cur model.Currency, matched string, line int) {
		if amount.LessThanOrEqual(zero) || amount.GreaterThan(maxAmount) {
			return
		}
		c := Candidate{
			AmountCandidate: model.AmountCandidate{
				Amount:      amount,
				Currency:    cur,
				MatchedText: strings.TrimSpace(matched),
			},
			Line: line,
		}
		if _, dup := seen[c.Key()]; dup {
			return
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}

	for i, line := range lines {
		for _, cp := range e.perCurrency {
			for _, re := range cp.patterns {
				for _, m := range re.FindAllStringSubmatch(line, -1) {
					amount, ok := parseAmount(m[1])
					if !ok {
						continue
					}
					add(amount, cp.currency, m[0], i)
				}
			}
		}
		for _, re := range e.agnostic {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				amount, ok := parseAmount(m[1])
				if !ok {
					continue
				}
				add(amount, inferred, m[0], i)
			}
		}
	}

	return out
}

// inferCurrency picks the most frequent currency marker in the whole
// text, defaulting to the home currency when none appears.
func (e *Extractor) inferCurrency(text string) model.Currency {
	best := model.HomeCurrency
	bestCount := 0
	for _, entry := range currencyTable {
		count := 0
		for _, m := range append(append([]string{}, entry.markers...), entry.suffix...) {
			count += len(e.markerRes[entry.currency.Code+":"+m].FindAllStringIndex(text, -1))
		}
		if count > bestCount {
			bestCount = count
			best = entry.currency
		}
	}
	return best
}

// Normalize folds full-width digits, punctuation and currency signs to
// their half-width forms so one set of patterns covers both Japanese
// and Latin receipts. Katakana and kanji must pass through untouched or
// store names get mangled.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '　' || r == '￥' || (r >= '！' && r <= '～') {
			b.WriteString(width.Narrow.String(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
