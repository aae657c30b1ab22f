package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/confirm"
	"github.com/mizutani/kakeibot/internal/model"
	"github.com/mizutani/kakeibot/internal/service"
	"github.com/mizutani/kakeibot/internal/token"
)

// webhookEvent is one inbound chat event. Image events carry the
// platform's content reference; callback events carry the data string
// baked into a confirmation card.
type webhookEvent struct {
	Type       string `json:"type"`
	MessageID  string `json:"messageId"`
	OwnerID    string `json:"ownerId"`
	ReplyToken string `json:"replyToken"`
	ImageRef   string `json:"imageRef"`
	Text       string `json:"text"`
	Data       string `json:"data"`
}

type webhookRequest struct {
	Events []webhookEvent `json:"events"`
}

func (s *Server) handleWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook body"})
		return
	}

	ctx := c.Request.Context()
	for _, event := range req.Events {
		if event.OwnerID == "" {
			continue
		}
		if err := s.ledger.EnsureOwner(ctx, event.OwnerID, ""); err != nil {
			slog.Error("failed to register owner", "owner_id", event.OwnerID, "error", err)
		}

		reply := service.ReplyContext{ReplyToken: event.ReplyToken, ChatID: event.OwnerID}
		switch event.Type {
		case "image":
			s.handleImage(ctx, event, reply)
		case "text":
			s.handleText(ctx, event, reply)
		case "callback":
			s.handleCallback(ctx, event, reply)
		default:
			slog.Warn("unknown event type", "type", event.Type)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleImage(ctx context.Context, event webhookEvent, reply service.ReplyContext) {
	done, err := s.coordinator.ProcessReceiptWithDeadline(ctx, event.OwnerID, event.MessageID, event.ImageRef, reply)
	switch {
	case err != nil:
		s.metrics.receipt("error")
		slog.Error("receipt processing failed",
			"owner_id", event.OwnerID, "message_id", event.MessageID, "error", err)
		s.send(ctx, event.OwnerID, reply, common.UserMessage(err))
	case done:
		s.metrics.receipt("synchronous")
	default:
		s.metrics.receipt("escalated")
	}
}

func (s *Server) handleText(ctx context.Context, event webhookEvent, reply service.ReplyContext) {
	text := strings.TrimSpace(event.Text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "yes", "はい", "ok", "y":
		s.respondConfirmation(ctx, event.OwnerID, "", true, reply)
	case "no", "いいえ", "n":
		s.respondConfirmation(ctx, event.OwnerID, "", false, reply)
	case "budget", "予算":
		s.handleBudget(ctx, event.OwnerID, fields[1:], reply)
	case "list", "履歴":
		s.handleList(ctx, event.OwnerID, reply)
	case "delete", "削除":
		s.handleDelete(ctx, event.OwnerID, fields[1:], reply)
	case "edit", "修正":
		s.handleEdit(ctx, event.OwnerID, fields[1:], reply)
	case "reset", "リセット":
		s.handleReset(ctx, event.OwnerID, reply)
	default:
		s.handleManualAmount(ctx, event.OwnerID, fields, reply)
	}
}

// handleManualAmount treats "1200" or "1200 lunch" as a manual expense
// entry; anything else gets a short usage hint.
func (s *Server) handleManualAmount(ctx context.Context, ownerID string, fields []string, reply service.ReplyContext) {
	amount, err := decimal.NewFromString(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		s.send(ctx, ownerID, reply, "send a receipt photo or an amount like \"1200 lunch\"")
		return
	}

	description := "manual entry"
	if len(fields) > 1 {
		description = strings.Join(fields[1:], " ")
	}

	if err := s.coordinator.AddManualExpense(ctx, ownerID, amount, description, reply); err != nil {
		slog.Error("manual expense failed", "owner_id", ownerID, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
	}
}

func (s *Server) handleBudget(ctx context.Context, ownerID string, args []string, reply service.ReplyContext) {
	if len(args) == 0 {
		s.send(ctx, ownerID, reply, "usage: budget <monthly amount>")
		return
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(args[0], ",", ""))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		s.send(ctx, ownerID, reply, "usage: budget <monthly amount>")
		return
	}

	if err := s.ledger.SetMonthlyBudget(ctx, ownerID, amount); err != nil {
		slog.Error("failed to set budget", "owner_id", ownerID, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
		return
	}
	s.send(ctx, ownerID, reply, fmt.Sprintf("Monthly budget set to %s%s.",
		model.HomeCurrency.Symbol, amount.StringFixed(0)))
}

func (s *Server) handleList(ctx context.Context, ownerID string, reply service.ReplyContext) {
	expenses, err := s.ledger.RecentExpenses(ctx, ownerID, 10)
	if err != nil {
		slog.Error("failed to list expenses", "owner_id", ownerID, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
		return
	}
	if len(expenses) == 0 {
		s.send(ctx, ownerID, reply, "no expenses recorded yet")
		return
	}

	var b strings.Builder
	for _, e := range expenses {
		fmt.Fprintf(&b, "#%d %s %s%s %s\n",
			e.ID, e.SpentAt.Format("01/02"), model.HomeCurrency.Symbol,
			e.Amount.StringFixed(0), e.Description)
	}
	s.send(ctx, ownerID, reply, strings.TrimRight(b.String(), "\n"))
}

func (s *Server) handleDelete(ctx context.Context, ownerID string, args []string, reply service.ReplyContext) {
	if len(args) == 0 {
		s.send(ctx, ownerID, reply, "usage: delete <expense id>")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		s.send(ctx, ownerID, reply, "usage: delete <expense id>")
		return
	}

	tok, err := s.coordinator.IssueActionToken(token.KindDelete, ownerID, token.DeletePayload{TransactionID: id})
	if err != nil {
		slog.Error("failed to issue delete token", "owner_id", ownerID, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
		return
	}
	s.send(ctx, ownerID, reply, fmt.Sprintf("Delete expense #%d? Reply with the card.\n[delete:%s]", id, tok))
}

func (s *Server) handleEdit(ctx context.Context, ownerID string, args []string, reply service.ReplyContext) {
	if len(args) < 2 {
		s.send(ctx, ownerID, reply, "usage: edit <expense id> <new amount>")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		s.send(ctx, ownerID, reply, "usage: edit <expense id> <new amount>")
		return
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(args[1], ",", ""))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		s.send(ctx, ownerID, reply, "usage: edit <expense id> <new amount>")
		return
	}

	tok, err := s.coordinator.IssueActionToken(token.KindEdit, ownerID, token.EditPayload{TransactionID: id, NewAmount: amount})
	if err != nil {
		slog.Error("failed to issue edit token", "owner_id", ownerID, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
		return
	}
	s.send(ctx, ownerID, reply, fmt.Sprintf("Change expense #%d to %s%s?\n[edit:%s]",
		id, model.HomeCurrency.Symbol, amount.StringFixed(0), tok))
}

func (s *Server) handleReset(ctx context.Context, ownerID string, reply service.ReplyContext) {
	tok, err := s.coordinator.IssueActionToken(token.KindReset, ownerID, token.ResetPayload{})
	if err != nil {
		slog.Error("failed to issue reset token", "owner_id", ownerID, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
		return
	}
	s.send(ctx, ownerID, reply, fmt.Sprintf("Reset your monthly budget?\n[reset:%s]", tok))
}

// handleCallback processes a confirmation card response. Data has the
// shape "<kind>:<token>:<yes|no>".
func (s *Server) handleCallback(ctx context.Context, event webhookEvent, reply service.ReplyContext) {
	parts := strings.SplitN(event.Data, ":", 3)
	if len(parts) != 3 {
		slog.Error("malformed callback data", "owner_id", event.OwnerID, "data", event.Data)
		return
	}
	kind, tok, answer := token.Kind(parts[0]), parts[1], parts[2] == "yes"

	switch kind {
	case token.KindExpense:
		s.respondConfirmation(ctx, event.OwnerID, tok, answer, reply)
	case token.KindDelete, token.KindEdit, token.KindReset:
		s.applyActionToken(ctx, event.OwnerID, kind, tok, answer, reply)
	default:
		// A kind we never issue points at a defect in the card
		// rendering, not at the user.
		slog.Error("callback references unknown token kind",
			"owner_id", event.OwnerID, "kind", parts[0])
	}
}

func (s *Server) respondConfirmation(ctx context.Context, ownerID, tok string, accepted bool, reply service.ReplyContext) {
	outcome, err := s.coordinator.ConfirmPending(ctx, ownerID, tok, accepted)
	if err != nil {
		s.metrics.confirmation("error")
		slog.Error("confirmation failed", "owner_id", ownerID, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
		return
	}
	s.metrics.confirmation(confirmationLabel(outcome.Status))
	s.send(ctx, ownerID, reply, outcome.Message)
}

func (s *Server) applyActionToken(ctx context.Context, ownerID string, kind token.Kind, tok string, accepted bool, reply service.ReplyContext) {
	if !accepted {
		s.coordinator.ConsumeActionToken(kind, tok, ownerID)
		s.send(ctx, ownerID, reply, "okay, cancelled")
		return
	}

	payload, status := s.coordinator.ConsumeActionToken(kind, tok, ownerID)
	switch status {
	case token.StatusInvalid:
		s.send(ctx, ownerID, reply, "this confirmation has expired or was already used")
		return
	case token.StatusNotAuthorized:
		s.send(ctx, ownerID, reply, "not authorized")
		return
	case token.StatusOK:
	}

	var err error
	var message string
	switch p := payload.(type) {
	case token.DeletePayload:
		err = s.ledger.DeleteTransaction(ctx, ownerID, p.TransactionID)
		message = fmt.Sprintf("Deleted expense #%d.", p.TransactionID)
	case token.EditPayload:
		err = s.ledger.UpdateTransactionAmount(ctx, ownerID, p.TransactionID, p.NewAmount)
		message = fmt.Sprintf("Expense #%d is now %s%s.",
			p.TransactionID, model.HomeCurrency.Symbol, p.NewAmount.StringFixed(0))
	case token.ResetPayload:
		err = s.ledger.ResetBudget(ctx, ownerID)
		message = "Monthly budget reset."
	default:
		slog.Error("token payload has unexpected type", "owner_id", ownerID, "kind", kind)
		return
	}

	if err != nil {
		slog.Error("action failed", "owner_id", ownerID, "kind", kind, "error", err)
		s.send(ctx, ownerID, reply, common.UserMessage(err))
		return
	}
	s.send(ctx, ownerID, reply, message)
}

// send replies if possible and falls back to push so the user is never
// left without an answer.
func (s *Server) send(ctx context.Context, ownerID string, reply service.ReplyContext, text string) {
	if reply.ReplyToken != "" {
		if err := s.gateway.Reply(ctx, reply, text); err == nil {
			return
		}
	}
	if err := s.gateway.Push(ctx, ownerID, text); err != nil {
		slog.Error("delivery failed", "owner_id", ownerID, "error", err)
	}
}

func confirmationLabel(status confirm.Status) string {
	switch status {
	case confirm.StatusCommitted:
		return "committed"
	case confirm.StatusCancelled:
		return "cancelled"
	case confirm.StatusNothingPending:
		return "nothing_pending"
	case confirm.StatusExpired:
		return "expired"
	case confirm.StatusNotAuthorized:
		return "not_authorized"
	default:
		return "unknown"
	}
}
