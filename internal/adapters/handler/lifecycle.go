package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
)

// IntegrationLifecycle registers and removes the relay's agent bot
type IntegrationLifecycle interface {
	Register(ctx context.Context) (*domain.IntegrationState, error)
	Unregister(ctx context.Context) error
	InboxAgentBot(ctx context.Context, inboxID int) (*dto.AgentBot, error)
}

type LifecycleHandler struct {
	lifecycle IntegrationLifecycle
}

func NewLifecycleHandler(lifecycle IntegrationLifecycle) *LifecycleHandler {
	return &LifecycleHandler{lifecycle: lifecycle}
}

// RegisterResponse leaves the agent bot token out on purpose
type RegisterResponse struct {
	AgentBotID int    `json:"agentBotId"`
	UpdatedAt  string `json:"updatedAt"`
}

// POST /api/integration/register
func (h *LifecycleHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	state, err := h.lifecycle.Register(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(RegisterResponse{
		AgentBotID: state.AgentBotID,
		UpdatedAt:  state.UpdatedAt.Format(time.RFC3339),
	}))
}

// POST /api/integration/unregister
func (h *LifecycleHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Unregister(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(nil))
}

// GET /api/integration/inboxes/{id}/agent-bot
func (h *LifecycleHandler) HandleInboxAgentBot(w http.ResponseWriter, r *http.Request) {
	inboxID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: inbox id must be numeric", domain.ErrInvalidInput))
		return
	}

	bot, err := h.lifecycle.InboxAgentBot(r.Context(), inboxID)
	if err != nil {
		writeError(w, err)
		return
	}

	// token stays server side
	bot.AccessToken = ""
	writeJSON(w, http.StatusOK, NewSuccessResponse(bot))
}
