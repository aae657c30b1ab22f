package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/service"
)

// AzureProvider implements service.OCRProvider on the Azure Computer
// Vision printed-text API.
type AzureProvider struct {
	client   *computervision.BaseClient
	language computervision.OcrLanguages
}

// NewAzureProvider creates a provider for the given Cognitive Services
// endpoint and key.
func NewAzureProvider(endpoint, apiKey string) *AzureProvider {
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)

	return &AzureProvider{
		client:   &client,
		language: computervision.OcrLanguagesJa,
	}
}

// ExtractText re-encodes the image for the requested tier and runs
// printed-text recognition. The context is checked before the network
// call and again after it returns, so a cancelled phase unwinds here
// instead of doing further work on a discarded result.
func (p *AzureProvider) ExtractText(ctx context.Context, image []byte, tier service.QualityTier) (string, error) {
	encoded, err := EncodeForTier(image, tier)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	result, err := p.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(encoded)),
		p.language,
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("azure ocr: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text := flattenResult(result)
	if strings.TrimSpace(text) == "" {
		return "", common.ErrNoTextDetected
	}
	return text, nil
}

// flattenResult joins the recognized regions into plain newline-joined
// text, preserving the top-to-bottom line order the resolver's
// positional heuristic depends on.
func flattenResult(result computervision.OcrResult) string {
	if result.Regions == nil {
		return ""
	}

	var b strings.Builder
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			var words []string
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}
			if len(words) == 0 {
				continue
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
	}
	return b.String()
}
