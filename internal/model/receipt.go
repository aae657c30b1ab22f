// Package model defines the core domain models used throughout the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency identifies a currency by its ISO code and display symbol.
type Currency struct {
	Code   string
	Symbol string
}

// HomeCurrency is the currency receipts are converted into before they
// reach the ledger.
var HomeCurrency = Currency{Code: "JPY", Symbol: "¥"}

// AmountCandidate is a single (amount, currency) pair extracted from
// receipt text. Candidates are immutable once created; the resolver
// re-scores them by producing new values rather than mutating.
type AmountCandidate struct {
	Currency    Currency
	MatchedText string
	Amount      decimal.Decimal
	Confidence  float64
}

// Key returns the deduplication key for a candidate. Candidates from
// different heuristics collapse onto the same key when they agree on
// amount and currency.
func (c AmountCandidate) Key() string {
	return c.Currency.Code + ":" + c.Amount.String()
}

// ReceiptKind classifies the document a photo most likely shows.
type ReceiptKind string

// Receipt kind constants.
const (
	KindReceipt ReceiptKind = "receipt"
	KindInvoice ReceiptKind = "invoice"
	KindUnknown ReceiptKind = "unknown"
)

// ReceiptAnalysis is the outcome of one processing attempt over one
// image. It is created once per attempt and discarded as soon as a
// PendingTransaction has been built from it.
type ReceiptAnalysis struct {
	StoreName     string
	Kind          ReceiptKind
	Candidates    []AmountCandidate
	LineItems     []string
	ResolvedTotal *AmountCandidate
	Confidence    float64
}

// PendingTransaction is the single in-flight, unconfirmed expense held
// for a user. A newer receipt or manual entry for the same owner
// replaces it (last write wins).
type PendingTransaction struct {
	CreatedAt   time.Time
	OwnerID     string
	Description string
	Currency    Currency
	Amount      decimal.Decimal
}

// Expense is a committed ledger row.
type Expense struct {
	SpentAt     time.Time
	OwnerID     string
	Description string
	Currency    string
	ID          int64
	Amount      decimal.Decimal
}

// Budget is a user's monthly spending allowance.
type Budget struct {
	UpdatedAt time.Time
	OwnerID   string
	Monthly   decimal.Decimal
}
