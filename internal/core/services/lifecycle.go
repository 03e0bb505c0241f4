package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
)

// LifecycleConfig describes the agent bot register() creates
type LifecycleConfig struct {
	AgentBotName string
	Description  string
	WebhookURL   string // outgoing_url Chatwoot posts message events to
	InboxIDs     []int
}

// Lifecycle registers the relay as a Chatwoot agent bot and tears it down again
type Lifecycle struct {
	chatwoot ports.ChatwootGateway
	state    ports.StateRepository
	cfg      LifecycleConfig
}

func NewLifecycle(chatwoot ports.ChatwootGateway, state ports.StateRepository, cfg LifecycleConfig) *Lifecycle {
	if cfg.Description == "" {
		cfg.Description = "Relays Chatwoot conversations to the bot platform"
	}
	return &Lifecycle{chatwoot: chatwoot, state: state, cfg: cfg}
}

// Register creates the agent bot, attaches it to every configured inbox and
// stores its id and token. When a bot is already stored it is only re-attached.
func (l *Lifecycle) Register(ctx context.Context) (*domain.IntegrationState, error) {
	if l.cfg.WebhookURL == "" {
		return nil, fmt.Errorf("%w: public URL is required to register the agent bot", domain.ErrInvalidInput)
	}

	current, err := l.state.GetState(ctx)
	switch {
	case err == nil:
		slog.Info("Agent bot already registered, re-attaching inboxes", "agent_bot_id", current.AgentBotID)
		if err := l.attach(ctx, current.AgentBotID); err != nil {
			return nil, err
		}
		return current, nil
	case !errors.Is(err, domain.ErrNotRegistered):
		return nil, fmt.Errorf("load integration state: %w", err)
	}

	bot, err := l.chatwoot.CreateAgentBot(ctx, &dto.CreateAgentBotRequest{
		Name:        l.cfg.AgentBotName,
		Description: l.cfg.Description,
		OutgoingURL: l.cfg.WebhookURL,
	})
	if err != nil {
		return nil, fmt.Errorf("register agent bot: %w", err)
	}
	botID := bot.ID.Int()
	if botID == 0 {
		return nil, fmt.Errorf("register agent bot: chatwoot returned no id")
	}

	if err := l.attach(ctx, botID); err != nil {
		return nil, err
	}

	state := &domain.IntegrationState{
		AgentBotID:     botID,
		AgentBotAPIKey: string(bot.AccessToken),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := l.state.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("save integration state: %w", err)
	}

	slog.Info("Agent bot registered",
		"agent_bot_id", botID,
		"inboxes", l.cfg.InboxIDs,
		"outgoing_url", l.cfg.WebhookURL,
	)
	return state, nil
}

// Unregister detaches and deletes the stored agent bot. It is a no-op when
// nothing is registered, and a bot already deleted in Chatwoot is not an error.
func (l *Lifecycle) Unregister(ctx context.Context) error {
	current, err := l.state.GetState(ctx)
	if errors.Is(err, domain.ErrNotRegistered) {
		slog.Info("Unregister skipped, no agent bot stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load integration state: %w", err)
	}

	for _, inboxID := range l.cfg.InboxIDs {
		if err := l.chatwoot.AssignAgentBot(ctx, inboxID, nil); err != nil {
			slog.Warn("Failed to detach agent bot from inbox", "inbox_id", inboxID, "error", err)
		}
	}

	if err := l.chatwoot.DeleteAgentBot(ctx, current.AgentBotID); err != nil && !isNotFound(err) {
		return fmt.Errorf("unregister agent bot: %w", err)
	}
	if err := l.state.ClearState(ctx); err != nil {
		return fmt.Errorf("clear integration state: %w", err)
	}

	slog.Info("Agent bot unregistered", "agent_bot_id", current.AgentBotID)
	return nil
}

// InboxAgentBot returns the agent bot currently attached to an inbox
func (l *Lifecycle) InboxAgentBot(ctx context.Context, inboxID int) (*dto.AgentBot, error) {
	if inboxID <= 0 {
		return nil, fmt.Errorf("%w: inbox id must be positive", domain.ErrInvalidInput)
	}
	bot, err := l.chatwoot.ShowInboxAgentBot(ctx, inboxID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("inbox %d: %w", inboxID, domain.ErrNotFound)
		}
		return nil, err
	}
	return bot, nil
}

func (l *Lifecycle) attach(ctx context.Context, botID int) error {
	for _, inboxID := range l.cfg.InboxIDs {
		id := botID
		if err := l.chatwoot.AssignAgentBot(ctx, inboxID, &id); err != nil {
			return fmt.Errorf("attach agent bot to inbox %d: %w", inboxID, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *ports.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
