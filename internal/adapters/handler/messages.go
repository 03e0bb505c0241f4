package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/services"
)

// OutgoingSender is the outbound side of the relay
type OutgoingSender interface {
	SendOutgoing(ctx context.Context, req services.OutgoingRequest) (domain.Tags, error)
}

// MessagesHandler accepts bot messages for the chatwoot channel
type MessagesHandler struct {
	sender OutgoingSender
}

func NewMessagesHandler(sender OutgoingSender) *MessagesHandler {
	return &MessagesHandler{sender: sender}
}

// OutgoingMessageRequest is the body of POST /api/channels/chatwoot/messages
type OutgoingMessageRequest struct {
	ConversationID string          `json:"conversationId"`
	UserID         string          `json:"userId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
}

type OutgoingMessageResponse struct {
	Tags domain.Tags `json:"tags"`
}

// HandleSend relays one bot message to Chatwoot
// POST /api/channels/chatwoot/messages
func (h *MessagesHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req OutgoingMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ConversationID == "" || req.Type == "" {
		writeError(w, fmt.Errorf("%w: conversationId and type are required", domain.ErrInvalidInput))
		return
	}

	tags, err := h.sender.SendOutgoing(r.Context(), services.OutgoingRequest{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Message:        domain.OutgoingMessage{Type: req.Type, Payload: req.Payload},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewSuccessResponse(OutgoingMessageResponse{Tags: tags}))
}
