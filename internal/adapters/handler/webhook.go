package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"chatwoot-relay/internal/core/services"
	"chatwoot-relay/internal/metrics"
)

// Signature headers sent by Chatwoot when a webhook secret is configured
const (
	signatureHeader = "X-Chatwoot-Signature"
	timestampHeader = "X-Chatwoot-Timestamp"
)

// InboundProcessor is the inbound side of the relay
type InboundProcessor interface {
	HandleIncoming(ctx context.Context, payload []byte) (services.InboundOutcome, error)
}

// WebhookHandler receives Chatwoot agent bot webhooks
type WebhookHandler struct {
	dispatcher InboundProcessor
	secret     string // HMAC secret; empty disables signature checks
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(dispatcher InboundProcessor, secret string) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, secret: secret}
}

// HandleChatwootEvent processes the event synchronously so Chatwoot sees the
// outcome in the response.
// POST /webhook/chatwoot
func (h *WebhookHandler) HandleChatwootEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("Failed to read webhook body", "error", err)
		metrics.RecordWebhook("unreadable")
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	defer r.Body.Close()

	if h.secret != "" {
		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			slog.Warn("Webhook received without signature header")
			metrics.RecordWebhook("forbidden")
			writeText(w, http.StatusForbidden, "Forbidden - No signature")
			return
		}
		if !h.validateSignature(body, r.Header.Get(timestampHeader), signature) {
			slog.Warn("Webhook signature validation failed")
			metrics.RecordWebhook("forbidden")
			writeText(w, http.StatusForbidden, "Forbidden - Invalid signature")
			return
		}
	}

	outcome, err := h.dispatcher.HandleIncoming(r.Context(), body)

	var procErr *services.ProcessingError
	switch {
	case errors.Is(err, services.ErrMalformedWebhook):
		metrics.RecordWebhook("malformed")
		writeText(w, http.StatusInternalServerError, "Internal server error")
	case errors.Is(err, services.ErrInvalidWebhook):
		metrics.RecordWebhook("invalid")
		writeText(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &procErr):
		metrics.RecordWebhook("failed")
		writeText(w, http.StatusInternalServerError, procErr.Error())
	case err != nil:
		metrics.RecordWebhook("failed")
		writeText(w, http.StatusInternalServerError, err.Error())
	default:
		metrics.RecordWebhook(outcomeLabel(outcome))
		writeText(w, http.StatusOK, string(outcome))
	}
}

func outcomeLabel(outcome services.InboundOutcome) string {
	switch outcome {
	case services.OutcomeProcessed:
		return "processed"
	case services.OutcomeNotIncoming:
		return "not_incoming"
	case services.OutcomeConversationOpen:
		return "conversation_open"
	case services.OutcomeDuplicate:
		return "duplicate"
	default:
		return "other"
	}
}

// validateSignature checks "sha256=<hex>" over the body, or over
// "<timestamp>.<body>" when Chatwoot sends a timestamp header
func (h *WebhookHandler) validateSignature(payload []byte, timestamp, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		slog.Warn("Invalid signature format - missing sha256= prefix")
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	if timestamp != "" {
		mac.Write([]byte(timestamp + "."))
	}
	mac.Write(payload)

	return hmac.Equal(mac.Sum(nil), expected)
}
