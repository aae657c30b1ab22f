// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QualityTier selects which image encoding is handed to the OCR provider.
type QualityTier string

// Quality tier constants. Light is a downscaled, low-quality encoding
// used for the fast first pass; Full is the enhanced full-resolution
// encoding used when the first pass comes up empty.
const (
	TierLight QualityTier = "light"
	TierFull  QualityTier = "full"
)

// OCRProvider extracts raw text from an image. Implementations must
// honor ctx cancellation at every network boundary and return
// ctx.Err() (or an error wrapping it) once the context is done.
// A readable image with no recognizable text fails with
// common.ErrNoTextDetected.
type OCRProvider interface {
	ExtractText(ctx context.Context, image []byte, tier QualityTier) (string, error)
}

// ImageStore resolves an opaque image reference (the messaging
// platform's content id) to raw image bytes.
type ImageStore interface {
	Fetch(ctx context.Context, imageRef string) ([]byte, error)
}

// Conversion is the result of converting an amount into the home currency.
type Conversion struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

// CurrencyConverter converts a foreign amount into the user's home
// currency. Implementations may serve cached or static rates when the
// live provider is unreachable; callers do not retry.
type CurrencyConverter interface {
	ToHomeCurrency(ctx context.Context, amount decimal.Decimal, currencyCode string) (Conversion, error)
}

// ReplyContext carries what the gateway needs to answer the message
// that started a piece of work.
type ReplyContext struct {
	ReplyToken string
	ChatID     string
}

// MessageGateway delivers text back to the user, either as a reply to
// a specific inbound message or as a direct push.
type MessageGateway interface {
	Reply(ctx context.Context, reply ReplyContext, text string) error
	Push(ctx context.Context, ownerID, text string) error
}

// ReceiptJob is a unit of deferred receipt work handed to the async queue.
type ReceiptJob struct {
	ID       string
	OwnerID  string
	ImageRef string
	Reply    ReplyContext
}

// AsyncTaskQueue accepts escalated receipt jobs. Enqueue is
// fire-and-forget; delivery and retry semantics belong to the queue.
type AsyncTaskQueue interface {
	EnqueueReceiptJob(job ReceiptJob)
}

// Ledger is the persistent record of confirmed expenses and budgets.
// RecordTransaction fails with common.ErrOwnerNotFound when the owner
// has no account row.
type Ledger interface {
	RecordTransaction(ctx context.Context, ownerID string, amount decimal.Decimal, description string) (int64, error)
	DeleteTransaction(ctx context.Context, ownerID string, transactionID int64) error
	UpdateTransactionAmount(ctx context.Context, ownerID string, transactionID int64, amount decimal.Decimal) error
	MonthlyTotal(ctx context.Context, ownerID string, month time.Time) (decimal.Decimal, error)
	SetMonthlyBudget(ctx context.Context, ownerID string, amount decimal.Decimal) error
	ResetBudget(ctx context.Context, ownerID string) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }
