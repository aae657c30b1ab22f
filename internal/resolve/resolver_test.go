package resolve

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/extract"
	"github.com/mizutani/kakeibot/internal/model"
)

func analyze(t *testing.T, text string) (model.ReceiptAnalysis, error) {
	t.Helper()
	e := extract.New()
	return New().Analyze(text, e.Candidates(text))
}

func TestResolver_NoCandidates(t *testing.T) {
	_, err := analyze(t, "ありがとうございました")
	assert.ErrorIs(t, err, common.ErrNoAmountFound)
}

func TestResolver_KeywordTotal(t *testing.T) {
	got, err := analyze(t, "合計 ¥3,280")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedTotal)

	assert.True(t, got.ResolvedTotal.Amount.Equal(decimal.NewFromInt(3280)))
	assert.Equal(t, "JPY", got.ResolvedTotal.Currency.Code)
	assert.GreaterOrEqual(t, got.Confidence, 0.8, "keyword match should be high confidence")
}

func TestResolver_SubtotalDoesNotScoreAsTotal(t *testing.T) {
	// "total" must not match inside "subtotal"; a subtotal-only line
	// stays in the medium keyword tier.
	got, err := analyze(t, "subtotal $20.00")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedTotal)
	assert.InDelta(t, 0.7, got.ResolvedTotal.Confidence, 0.001)

	got, err = analyze(t, "grand total $20.00")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedTotal)
	assert.InDelta(t, 0.9, got.ResolvedTotal.Confidence, 0.001)
}

func TestResolver_SumOfItemsBeatsRawMagnitude(t *testing.T) {
	// 2500 is both the largest value and the sum of 2000+500; the
	// arithmetic heuristic should push it above the bare magnitude
	// score.
	got, err := analyze(t, "2000\n500\n2500")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedTotal)

	assert.True(t, got.ResolvedTotal.Amount.Equal(decimal.NewFromInt(2500)))
	assert.GreaterOrEqual(t, got.ResolvedTotal.Confidence, 0.7)
}

func TestResolver_TaxInclusivePair(t *testing.T) {
	// 2200 = 2000 * 1.10, the statutory default rate.
	got, err := analyze(t, "小計 2000円\n合計 2200円")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedTotal)

	assert.True(t, got.ResolvedTotal.Amount.Equal(decimal.NewFromInt(2200)))
}

func TestResolver_ExplicitTaxRate(t *testing.T) {
	// With an explicit 8% mention, 1080 strips to 1000.
	got, err := analyze(t, "税率 8%\n1000\n合計 1080円")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedTotal)

	assert.True(t, got.ResolvedTotal.Amount.Equal(decimal.NewFromInt(1080)))
}

func TestResolver_TotalIsAlwaysARealCandidate(t *testing.T) {
	texts := []string{
		"合計 ¥3,280",
		"100円\n250円\n税込 350円",
		"random 42 numbers 900",
		"9999999",
	}

	for _, text := range texts {
		got, err := analyze(t, text)
		require.NoError(t, err, text)
		require.NotNil(t, got.ResolvedTotal, text)

		found := false
		for _, c := range got.Candidates {
			if c.Key() == got.ResolvedTotal.Key() {
				found = true
				break
			}
		}
		assert.True(t, found, "resolved total must come from the candidate set: %s", text)
	}
}

func TestResolver_PositionalFavorsLastLines(t *testing.T) {
	// No keywords, no arithmetic relation, similar magnitudes: the
	// amount on the final line should win.
	got, err := analyze(t, "890\nx\nx\nx\nx\nx\nx\nx\n910")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedTotal)

	assert.True(t, got.ResolvedTotal.Amount.Equal(decimal.NewFromInt(910)))
}

func TestResolver_ConfidenceNudges(t *testing.T) {
	// One candidate, one heuristic vs a receipt where keyword,
	// position, magnitude and arithmetic all agree.
	lone, err := analyze(t, "910\nx\nx\nx\nx\nx\nx")
	require.NoError(t, err)

	rich, err := analyze(t, "2000円\n500円\n合計 2500円")
	require.NoError(t, err)

	assert.Greater(t, rich.Confidence, lone.Confidence)
}

func TestResolver_StoreNameAndKind(t *testing.T) {
	got, err := analyze(t, "スターバックス\n領収書\nラテ 480円\n合計 480円")
	require.NoError(t, err)

	assert.Equal(t, "スターバックス", got.StoreName)
	assert.Equal(t, model.KindReceipt, got.Kind)
	assert.NotEmpty(t, got.LineItems)
}

func TestDescribe(t *testing.T) {
	total := model.AmountCandidate{
		Amount:   decimal.NewFromInt(480),
		Currency: model.HomeCurrency,
	}
	a := model.ReceiptAnalysis{StoreName: "スターバックス", ResolvedTotal: &total}
	assert.Equal(t, "スターバックス ¥480", Describe(a))

	assert.Equal(t, "no amount found", Describe(model.ReceiptAnalysis{}))
}
