package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Candidates(t *testing.T) {
	e := New()

	tests := []struct {
		name         string
		text         string
		wantAmounts  map[string]string // currency code -> amount
		wantEmpty    bool
		wantCurrency string
	}{
		{
			name:        "yen symbol before number",
			text:        "合計 ¥3,280",
			wantAmounts: map[string]string{"JPY": "3280"},
		},
		{
			name:        "yen suffix after number",
			text:        "お会計 1200円",
			wantAmounts: map[string]string{"JPY": "1200"},
		},
		{
			name:        "full-width digits are folded",
			text:        "合計 ￥３，２８０",
			wantAmounts: map[string]string{"JPY": "3280"},
		},
		{
			name:        "dollar with decimals",
			text:        "TOTAL $12.50",
			wantAmounts: map[string]string{"USD": "12.5"},
		},
		{
			name:         "bare number infers most frequent symbol",
			text:         "latte $4.50\nmuffin $3.25\n7.75",
			wantCurrency: "USD",
		},
		{
			name:         "bare number with no symbol defaults to home currency",
			text:         "coffee\n480",
			wantCurrency: "JPY",
		},
		{
			name:      "no numbers at all",
			text:      "ありがとうございました\nまたお越しください",
			wantEmpty: true,
		},
		{
			name:      "zero amount dropped",
			text:      "change ¥0",
			wantEmpty: true,
		},
		{
			name:      "absurd magnitude dropped",
			text:      "barcode 4901234567894",
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Candidates(tt.text)

			if tt.wantEmpty {
				assert.Empty(t, got)
				return
			}
			require.NotEmpty(t, got)

			for code, amount := range tt.wantAmounts {
				found := false
				for _, c := range got {
					if c.Currency.Code == code && c.Amount.Equal(decimal.RequireFromString(amount)) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected candidate %s %s in %v", code, amount, got)
			}

			if tt.wantCurrency != "" {
				for _, c := range got {
					assert.Equal(t, tt.wantCurrency, c.Currency.Code)
				}
			}
		})
	}
}

func TestExtractor_DeduplicatesByAmountAndCurrency(t *testing.T) {
	e := New()

	// The same 3280 yen appears as symbol-prefixed, suffixed, and bare.
	got := e.Candidates("小計 ¥3,280\n3280円\n3280")

	count := 0
	for _, c := range got {
		if c.Currency.Code == "JPY" && c.Amount.Equal(decimal.NewFromInt(3280)) {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicates must collapse to the first occurrence")
}

func TestExtractor_KeepsLinePositions(t *testing.T) {
	e := New()

	got := e.Candidates("item 100円\nitem 200円\n合計 300円")
	require.Len(t, got, 3)

	byAmount := make(map[string]int)
	for _, c := range got {
		byAmount[c.Amount.String()] = c.Line
	}
	assert.Equal(t, 0, byAmount["100"])
	assert.Equal(t, 1, byAmount["200"])
	assert.Equal(t, 2, byAmount["300"])
}

func TestExtractor_ThousandsSeparatorsAndDecimals(t *testing.T) {
	e := New()

	got := e.Candidates("total $1,234.56")
	require.NotEmpty(t, got)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("1234.56")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "¥3,280", Normalize("￥３，２８０"))
}

func TestNormalizeLeavesKatakanaAlone(t *testing.T) {
	// Only digits, punctuation and currency signs fold; narrowing
	// katakana would corrupt store names.
	assert.Equal(t, "スターバックス 123", Normalize("スターバックス　１２３"))
	assert.Equal(t, "領収書 合計 ¥980", Normalize("領収書　合計　￥９８０"))
}
