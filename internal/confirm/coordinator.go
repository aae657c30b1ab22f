// Package confirm ties resolved receipt amounts to per-user pending
// transactions and drives the confirm/cancel flow against the ledger.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/model"
	"github.com/mizutani/kakeibot/internal/pipeline"
	"github.com/mizutani/kakeibot/internal/resolve"
	"github.com/mizutani/kakeibot/internal/service"
	"github.com/mizutani/kakeibot/internal/token"
)

// Status describes how a confirmation response was handled.
type Status int

// Confirmation outcomes.
const (
	StatusCommitted Status = iota
	StatusCancelled
	StatusNothingPending
	StatusExpired
	StatusNotAuthorized
)

// Outcome is what a confirmation response produced, with the text the
// user should see.
type Outcome struct {
	Message       string
	TransactionID int64
	Status        Status
}

// Coordinator owns the per-user pending-transaction slots and the
// token store, and exposes the pipeline's public operations.
type Coordinator struct {
	controller *pipeline.Controller
	tokens     *token.Store
	converter  service.CurrencyConverter
	gateway    service.MessageGateway
	ledger     service.Ledger
	clock      service.Clock
	pending    map[string]model.PendingTransaction
	mu         sync.Mutex
}

// New wires a coordinator from its collaborators.
func New(controller *pipeline.Controller, tokens *token.Store, converter service.CurrencyConverter, gateway service.MessageGateway, ledger service.Ledger, clock service.Clock) *Coordinator {
	return &Coordinator{
		controller: controller,
		tokens:     tokens,
		converter:  converter,
		gateway:    gateway,
		ledger:     ledger,
		clock:      clock,
		pending:    make(map[string]model.PendingTransaction),
	}
}

// ProcessReceiptWithDeadline runs the staged pipeline for one inbound
// image and, on synchronous success, stages a pending transaction and
// sends the confirmation request. It returns whether the work finished
// synchronously; false means the job was escalated and the user got an
// interim acknowledgment instead of an answer.
func (c *Coordinator) ProcessReceiptWithDeadline(ctx context.Context, ownerID, messageID, imageRef string, reply service.ReplyContext) (bool, error) {
	result, err := c.controller.Process(ctx, ownerID, messageID, imageRef, reply)
	if result.Duplicate {
		return true, nil
	}
	if err != nil {
		if errors.Is(err, common.ErrNoAmountFound) {
			c.deliver(ctx, ownerID, reply, common.UserMessage(err))
			return true, nil
		}
		return false, err
	}
	if !result.CompletedSynchronously {
		c.deliver(ctx, ownerID, reply, "processing is taking longer than expected, we'll follow up shortly")
		return false, nil
	}
	return true, c.stagePending(ctx, ownerID, *result.Analysis, reply)
}

// CompleteQueuedJob finishes an escalated receipt job. The async queue
// worker is the only caller; all delivery happens via push since the
// original reply token has long expired.
func (c *Coordinator) CompleteQueuedJob(ctx context.Context, job service.ReceiptJob) error {
	analysis, err := c.controller.ProcessQueued(ctx, job)
	if err != nil {
		if errors.Is(err, common.ErrNoAmountFound) {
			c.deliver(ctx, job.OwnerID, service.ReplyContext{}, common.UserMessage(err))
			return nil
		}
		return err
	}
	if analysis == nil {
		// Already claimed by another attempt.
		return nil
	}
	return c.stagePending(ctx, job.OwnerID, *analysis, service.ReplyContext{})
}

// AddManualExpense stages a hand-typed amount the same way a resolved
// receipt is staged, including the confirmation round-trip.
func (c *Coordinator) AddManualExpense(ctx context.Context, ownerID string, amount decimal.Decimal, description string, reply service.ReplyContext) error {
	analysis := model.ReceiptAnalysis{
		StoreName: description,
		Kind:      model.KindUnknown,
		ResolvedTotal: &model.AmountCandidate{
			Amount:     amount,
			Currency:   model.HomeCurrency,
			Confidence: 1,
		},
		Confidence: 1,
	}
	return c.stagePending(ctx, ownerID, analysis, reply)
}

// stagePending converts the resolved amount to the home currency,
// overwrites the owner's pending slot, issues an expense token, and
// sends the confirmation request. A second receipt arriving before the
// first is confirmed replaces it; last write wins.
func (c *Coordinator) stagePending(ctx context.Context, ownerID string, analysis model.ReceiptAnalysis, reply service.ReplyContext) error {
	total := analysis.ResolvedTotal
	if total == nil {
		return fmt.Errorf("staging pending transaction for %s: %w", ownerID, common.ErrNoAmountFound)
	}

	amount := total.Amount
	if total.Currency.Code != model.HomeCurrency.Code {
		conv, err := c.converter.ToHomeCurrency(ctx, total.Amount, total.Currency.Code)
		if err != nil {
			return common.NewUserError("could not convert the currency, please try again", err)
		}
		amount = conv.Amount
	}

	pending := model.PendingTransaction{
		OwnerID:     ownerID,
		Amount:      amount,
		Currency:    model.HomeCurrency,
		Description: describePending(analysis),
		CreatedAt:   c.clock.Now(),
	}

	c.mu.Lock()
	c.pending[ownerID] = pending
	c.mu.Unlock()

	// Any token issued for an earlier pending transaction must not be
	// able to commit the new one.
	c.tokens.InvalidateOwner(token.KindExpense, ownerID)
	id, err := c.tokens.Issue(token.KindExpense, ownerID, token.ExpensePayload{})
	if err != nil {
		return fmt.Errorf("issuing expense token: %w", err)
	}

	text := fmt.Sprintf("Record %s%s for %s? Reply yes or no.\n[confirm:%s]",
		model.HomeCurrency.Symbol, pending.Amount.StringFixed(0), pending.Description, id)
	c.deliver(ctx, ownerID, reply, text)

	slog.Info("staged pending transaction",
		"owner_id", ownerID,
		"amount", pending.Amount.String(),
		"confidence", analysis.Confidence)
	return nil
}

// ConfirmPending applies a user's yes/no response. A token-carrying
// callback is validated through the token store; a free-text yes
// consumes the pending slot directly and kills any outstanding expense
// token so it cannot double-commit later.
func (c *Coordinator) ConfirmPending(ctx context.Context, ownerID, tokenID string, accepted bool) (Outcome, error) {
	if !accepted {
		if tokenID != "" {
			c.tokens.Cancel(token.KindExpense, tokenID)
		}
		c.tokens.InvalidateOwner(token.KindExpense, ownerID)

		c.mu.Lock()
		_, had := c.pending[ownerID]
		delete(c.pending, ownerID)
		c.mu.Unlock()

		if !had {
			return Outcome{Status: StatusNothingPending, Message: "nothing to confirm right now"}, nil
		}
		return Outcome{Status: StatusCancelled, Message: "okay, discarded"}, nil
	}

	if tokenID != "" {
		_, status := c.tokens.Consume(token.KindExpense, tokenID, ownerID)
		switch status {
		case token.StatusInvalid:
			return Outcome{Status: StatusExpired, Message: "this confirmation has expired or was already used"}, nil
		case token.StatusNotAuthorized:
			slog.Warn("expense token consumed by wrong owner", "owner_id", ownerID)
			return Outcome{Status: StatusNotAuthorized, Message: "not authorized"}, nil
		case token.StatusOK:
		}
	} else {
		// Free-text confirmation: the pending slot itself is the
		// authority. Invalidate outstanding tokens for this owner.
		c.tokens.InvalidateOwner(token.KindExpense, ownerID)
	}

	c.mu.Lock()
	pending, ok := c.pending[ownerID]
	c.mu.Unlock()
	if !ok {
		return Outcome{Status: StatusNothingPending, Message: "nothing to confirm right now"}, nil
	}
	if pending.OwnerID != ownerID {
		return Outcome{Status: StatusNotAuthorized, Message: "not authorized"}, nil
	}

	txID, err := c.ledger.RecordTransaction(ctx, ownerID, pending.Amount, pending.Description)
	if err != nil {
		if errors.Is(err, common.ErrOwnerNotFound) {
			slog.Error("ledger rejected owner", "owner_id", ownerID, "error", err)
			return Outcome{}, common.NewUserError("something went wrong with your account, please try again", err)
		}
		return Outcome{}, fmt.Errorf("recording transaction: %w", err)
	}

	c.mu.Lock()
	delete(c.pending, ownerID)
	c.mu.Unlock()

	message := fmt.Sprintf("Recorded %s%s for %s.",
		model.HomeCurrency.Symbol, pending.Amount.StringFixed(0), pending.Description)
	if total, err := c.ledger.MonthlyTotal(ctx, ownerID, c.clock.Now()); err == nil {
		message += fmt.Sprintf(" This month: %s%s.", model.HomeCurrency.Symbol, total.StringFixed(0))
	}

	return Outcome{Status: StatusCommitted, Message: message, TransactionID: txID}, nil
}

// IssueActionToken issues a token of any kind on behalf of the glue
// layer (delete, edit and reset confirmations).
func (c *Coordinator) IssueActionToken(kind token.Kind, ownerID string, payload token.Payload) (string, error) {
	return c.tokens.Issue(kind, ownerID, payload)
}

// ConsumeActionToken validates and consumes a token of any kind.
func (c *Coordinator) ConsumeActionToken(kind token.Kind, tokenID, requesterID string) (token.Payload, token.Status) {
	return c.tokens.Consume(kind, tokenID, requesterID)
}

// PendingFor exposes the owner's current pending transaction, if any.
func (c *Coordinator) PendingFor(ownerID string) (model.PendingTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[ownerID]
	return p, ok
}

// deliver sends text to the user, preferring a reply and retrying once
// via direct push. A pending transaction is never dropped without at
// least attempting the plain-text push fallback.
func (c *Coordinator) deliver(ctx context.Context, ownerID string, reply service.ReplyContext, text string) {
	if reply.ReplyToken != "" {
		err := c.gateway.Reply(ctx, reply, text)
		if err == nil {
			return
		}
		slog.Warn("reply delivery failed, retrying via push",
			"owner_id", ownerID, "error", err)
	}
	if err := c.gateway.Push(ctx, ownerID, text); err != nil {
		slog.Error("push delivery failed", "owner_id", ownerID, "error", err)
	}
}

func describePending(analysis model.ReceiptAnalysis) string {
	if analysis.StoreName != "" {
		return analysis.StoreName
	}
	return resolve.Describe(analysis)
}
