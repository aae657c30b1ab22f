// Package ocr adapts the Azure Computer Vision OCR API behind the
// OCRProvider contract, with per-tier image encodings.
package ocr

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/mizutani/kakeibot/internal/service"
)

// EncodeForTier re-encodes an image for the requested quality tier.
// The light tier trades fidelity for upload and recognition speed: a
// downscaled grayscale JPEG is usually enough for a cleanly printed
// receipt. The full tier keeps resolution and enhances contrast the
// way scanned documents need.
func EncodeForTier(image []byte, tier service.QualityTier) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(image), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	var out bytes.Buffer
	switch tier {
	case service.TierLight:
		img := imaging.Grayscale(src)
		img = imaging.Fit(img, 800, 800, imaging.Linear)
		if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(60)); err != nil {
			return nil, fmt.Errorf("encoding light tier: %w", err)
		}
	case service.TierFull:
		img := imaging.Grayscale(src)
		img = imaging.AdjustContrast(img, 30)
		img = imaging.Sharpen(img, 1.5)
		img = imaging.AdjustBrightness(img, 10)
		img = imaging.AdjustGamma(img, 1.2)
		if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
			return nil, fmt.Errorf("encoding full tier: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown quality tier %q", tier)
	}

	return out.Bytes(), nil
}
