// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
)

// InboundOutcome is the non-error result of handling one webhook call.
// Its string value is the response body Chatwoot receives.
type InboundOutcome string

const (
	OutcomeProcessed        InboundOutcome = "Message processed successfully"
	OutcomeNotIncoming      InboundOutcome = "Message not incoming"
	OutcomeConversationOpen InboundOutcome = "Conversation is open"
	OutcomeDuplicate        InboundOutcome = "Message already processed"
)

var (
	// ErrMalformedWebhook means the body was not a JSON webhook document
	ErrMalformedWebhook = errors.New("malformed webhook body")

	// ErrInvalidWebhook means conversation, sender or message id is missing
	ErrInvalidWebhook = errors.New("Handler didn't receive a valid message")
)

// ProcessingError wraps failures after validation (store, publish)
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("Error processing incoming message: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// DefaultDedupTTL keeps processed message ids for a day
const DefaultDedupTTL = 24 * time.Hour

// Dispatcher turns Chatwoot agent bot webhooks into bot conversations, users and messages
type Dispatcher struct {
	webhookRepo      ports.WebhookRepository
	conversationRepo ports.ConversationRepository
	userRepo         ports.UserRepository
	messageRepo      ports.MessageRepository
	dedupRepo        ports.DedupRepository
	publisher        ports.EventPublisher
	dedupTTL         time.Duration
}

// NewDispatcher creates a new dispatcher instance with dependencies injected.
// publisher may be nil when no bot runtime is listening.
func NewDispatcher(
	webhookRepo ports.WebhookRepository,
	conversationRepo ports.ConversationRepository,
	userRepo ports.UserRepository,
	messageRepo ports.MessageRepository,
	dedupRepo ports.DedupRepository,
	publisher ports.EventPublisher,
	dedupTTL time.Duration,
) *Dispatcher {
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &Dispatcher{
		webhookRepo:      webhookRepo,
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		messageRepo:      messageRepo,
		dedupRepo:        dedupRepo,
		publisher:        publisher,
		dedupTTL:         dedupTTL,
	}
}

type auditResult struct {
	status   string
	errorLog *string
}

// HandleIncoming processes one webhook body. A nil error comes with an
// outcome; errors are ErrMalformedWebhook, ErrInvalidWebhook or *ProcessingError.
func (d *Dispatcher) HandleIncoming(ctx context.Context, payload []byte) (outcome InboundOutcome, err error) {
	// The audit row is written off the request path; its final status is sent once known
	done := make(chan auditResult, 1)
	go d.audit(payload, done)

	var claimedID string
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in HandleIncoming", "panic", r)
			outcome, err = "", &ProcessingError{Err: fmt.Errorf("panic: %v", r)}
			if claimedID != "" {
				d.release(ctx, claimedID)
			}
		}
		done <- auditOutcome(outcome, err)
	}()

	var req dto.ChatwootWebhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Error("Failed to parse Chatwoot webhook JSON", "error", err)
		return "", fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	if req.MessageType != "incoming" {
		slog.Debug("Skipping non-incoming message", "message_type", req.MessageType)
		return OutcomeNotIncoming, nil
	}
	if req.Conversation != nil && req.Conversation.Status == "open" {
		slog.Debug("Skipping message, conversation is handled by an agent",
			"conversation_id", req.Conversation.ID,
		)
		return OutcomeConversationOpen, nil
	}
	if req.Conversation == nil || req.Conversation.ID == "" || req.Sender == nil || req.Sender.ID == "" || req.ID == "" {
		return "", ErrInvalidWebhook
	}

	messageID := req.ID.String()
	claimed, err := d.dedupRepo.Claim(ctx, messageID, d.dedupTTL)
	if err != nil {
		return "", &ProcessingError{Err: fmt.Errorf("dedup check failed: %w", err)}
	}
	if !claimed {
		slog.Info("Duplicate message detected, skipping", "message_id", messageID)
		return OutcomeDuplicate, nil
	}
	claimedID = messageID

	if err := d.processMessage(ctx, &req); err != nil {
		slog.Error("Failed to process incoming message", "error", err, "message_id", messageID)
		d.release(ctx, messageID)
		return "", &ProcessingError{Err: err}
	}

	return OutcomeProcessed, nil
}

// release drops the dedup claim so Chatwoot's redelivery retries the message.
// A stored row survives the retry; CreateMessage treats it as already stored.
func (d *Dispatcher) release(ctx context.Context, messageID string) {
	if err := d.dedupRepo.Release(context.WithoutCancel(ctx), messageID); err != nil {
		slog.Warn("Failed to release dedup claim", "error", err, "message_id", messageID)
	}
}

func (d *Dispatcher) processMessage(ctx context.Context, req *dto.ChatwootWebhookRequest) error {
	conv := req.Conversation
	conversation, err := d.conversationRepo.GetOrCreateConversation(ctx, domain.ChannelChatwoot, domain.Tags{
		domain.TagChatwootID: conv.ID.String(),
		domain.TagInboxID:    conv.InboxID.String(),
		domain.TagPlatform:   req.Platform(),
	})
	if err != nil {
		return fmt.Errorf("get/create conversation failed: %w", err)
	}

	sender := req.Sender
	user, err := d.userRepo.GetOrCreateUser(ctx, domain.Tags{
		domain.TagChatwootID: sender.ID.String(),
		domain.TagName:       blankToEmpty(sender.Name),
		domain.TagEmail:      blankToEmpty(sender.Email),
		domain.TagPhone:      blankToEmpty(sender.PhoneNumber),
	})
	if err != nil {
		return fmt.Errorf("get/create user failed: %w", err)
	}

	msgType, body := incomingPayload(req)
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	message := &domain.Message{
		ConversationID: conversation.ID,
		UserID:         user.ID,
		Direction:      domain.DirectionIncoming,
		Type:           msgType,
		Payload:        raw,
		Tags:           domain.Tags{domain.TagChatwootID: req.ID.String()},
		CreatedAt:      time.Now(),
	}
	if err := d.messageRepo.CreateMessage(ctx, message); err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}

	if d.publisher != nil {
		event := &domain.IncomingEvent{Conversation: conversation, User: user, Message: message}
		if err := d.publisher.PublishIncoming(ctx, event); err != nil {
			return fmt.Errorf("publish event failed: %w", err)
		}
	}

	slog.Info("Message processed successfully",
		"chatwoot_message_id", req.ID,
		"chatwoot_conversation_id", conv.ID,
		"conversation_id", conversation.ID,
		"user_id", user.ID,
		"type", msgType,
		"content_preview", preview(req.TextContent()),
	)
	return nil
}

// incomingPayload picks the bot message type: text when there is content,
// otherwise the kind of the first attachment
func incomingPayload(req *dto.ChatwootWebhookRequest) (string, any) {
	content := req.TextContent()
	if strings.TrimSpace(content) != "" || len(req.Attachments) == 0 {
		return domain.MessageTypeText, domain.TextPayload{Text: content}
	}

	att := req.Attachments[0]
	kind := att.Kind()
	switch {
	case strings.HasPrefix(kind, "image"):
		return domain.MessageTypeImage, domain.MediaPayload{ImageURL: att.DataURL}
	case strings.HasPrefix(kind, "video"):
		return domain.MessageTypeVideo, domain.MediaPayload{VideoURL: att.DataURL}
	case strings.HasPrefix(kind, "audio"):
		return domain.MessageTypeAudio, domain.MediaPayload{AudioURL: att.DataURL}
	case strings.HasPrefix(kind, "application"), strings.HasPrefix(kind, "file"):
		return domain.MessageTypeFile, domain.MediaPayload{FileURL: att.DataURL}
	}
	return domain.MessageTypeText, domain.TextPayload{Text: content}
}

// audit saves the webhook log, then waits for the final status
func (d *Dispatcher) audit(payload []byte, done <-chan auditResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC in webhook log save", "panic", r)
		}
	}()

	body := json.RawMessage(payload)
	if !json.Valid(payload) {
		// keep the raw text so the JSON column still accepts it
		body, _ = json.Marshal(string(payload))
	}

	var eventKey string
	var head struct {
		ID dto.FlexibleID `json:"id"`
	}
	if json.Unmarshal(payload, &head) == nil {
		eventKey = head.ID.String()
	}

	webhookLog := &domain.WebhookLog{
		Platform:    domain.ChannelChatwoot,
		EventKey:    eventKey,
		PayloadJSON: body,
		Status:      domain.WebhookStatusPending,
		CreatedAt:   time.Now(),
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := d.webhookRepo.SaveLog(saveCtx, webhookLog)
	cancel()
	if err != nil {
		slog.Error("Failed to save webhook log (async)", "error", err)
		return
	}

	res := <-done
	updateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.webhookRepo.UpdateStatus(updateCtx, webhookLog.ID, res.status, res.errorLog); err != nil {
		slog.Error("Failed to update webhook status",
			"error", err,
			"webhook_id", webhookLog.ID,
			"status", res.status,
		)
	}
}

func auditOutcome(outcome InboundOutcome, err error) auditResult {
	if err != nil {
		msg := err.Error()
		return auditResult{status: domain.WebhookStatusFailed, errorLog: &msg}
	}
	if outcome == OutcomeProcessed {
		return auditResult{status: domain.WebhookStatusProcessed}
	}
	return auditResult{status: domain.WebhookStatusSkipped}
}

func blankToEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}
