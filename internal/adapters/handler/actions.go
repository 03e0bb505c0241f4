package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/services"
)

// ActionFunc runs one named action on a raw JSON input
type ActionFunc func(ctx context.Context, input json.RawMessage) (any, error)

// bind adapts a typed action method to an ActionFunc
func bind[In, Out any](fn func(context.Context, In) (Out, error)) ActionFunc {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		var in In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("%w: malformed action input: %v", domain.ErrInvalidInput, err)
			}
		}
		return fn(ctx, in)
	}
}

// ActionRegistry maps action names onto the Actions service
func ActionRegistry(a *services.Actions) map[string]ActionFunc {
	return map[string]ActionFunc{
		"sendToAgent":            bind(a.SendToAgent),
		"sendToTeam":             bind(a.SendToTeam),
		"closeConversation":      bind(a.CloseConversation),
		"getCustomAttributes":    bind(a.GetCustomAttributes),
		"updateCustomAttributes": bind(a.UpdateCustomAttributes),
		"updateEmail":            bind(a.UpdateEmail),
		"updatePhone":            bind(a.UpdatePhone),
		"getContact":             bind(a.GetContact),
		"updateContact":          bind(a.UpdateContact),
	}
}

// ActionsHandler dispatches POST /api/actions/{name}
type ActionsHandler struct {
	actions map[string]ActionFunc
}

func NewActionsHandler(actions map[string]ActionFunc) *ActionsHandler {
	return &ActionsHandler{actions: actions}
}

// HandleAction accepts either the bare input object or {"input": {...}}
func (h *ActionsHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	action, ok := h.actions[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, NotFoundResponse(fmt.Sprintf("Unknown action: %s", name)))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err))
		return
	}

	out, err := action(r.Context(), actionInput(body))
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Debug("Action completed", "action", name)
	writeJSON(w, http.StatusOK, NewSuccessResponse(out))
}

func actionInput(body []byte) json.RawMessage {
	var wrapped struct {
		Input json.RawMessage `json:"input"`
	}
	if json.Unmarshal(body, &wrapped) == nil && len(wrapped.Input) > 0 {
		return wrapped.Input
	}
	return body
}
