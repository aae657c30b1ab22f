package ocr

import (
	"testing"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAzureProvider(t *testing.T) {
	p := NewAzureProvider("https://example.invalid", "key")

	require.NotNil(t, p.client)
	assert.Equal(t, computervision.OcrLanguagesJa, p.language)
}

func TestFlattenResult(t *testing.T) {
	word := func(s string) computervision.OcrWord { return computervision.OcrWord{Text: &s} }

	lines := []computervision.OcrLine{
		{Words: &[]computervision.OcrWord{word("合計"), word("¥3,280")}},
		{Words: &[]computervision.OcrWord{word("ありがとうございました")}},
	}
	result := computervision.OcrResult{
		Regions: &[]computervision.OcrRegion{{Lines: &lines}},
	}

	assert.Equal(t, "合計 ¥3,280\nありがとうございました\n", flattenResult(result))
}

func TestFlattenResultEmpty(t *testing.T) {
	assert.Empty(t, flattenResult(computervision.OcrResult{}))
}
