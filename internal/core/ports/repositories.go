// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"chatwoot-relay/internal/core/domain"
)

// WebhookRepository handles persistence of webhook audit logs
type WebhookRepository interface {
	// SaveLog persists a webhook event and sets log.ID on success
	SaveLog(ctx context.Context, log *domain.WebhookLog) error

	// UpdateStatus moves a log through pending -> processed/skipped/failed
	UpdateStatus(ctx context.Context, id int64, status string, errorLog *string) error

	// PurgeProcessed deletes at most limit processed or skipped logs older than the cutoff
	// and returns how many rows were removed
	PurgeProcessed(ctx context.Context, olderThan time.Time, limit int) (int64, error)
}

// ConversationRepository stores bot conversations keyed by their chatwootId tag
type ConversationRepository interface {
	// GetOrCreateConversation finds the conversation carrying tags[chatwootId] or creates it.
	// Tags of an existing conversation are refreshed with the non-empty values given.
	GetOrCreateConversation(ctx context.Context, channel string, tags domain.Tags) (*domain.Conversation, error)

	// GetConversation returns domain.ErrNotFound when id is unknown
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
}

// UserRepository stores bot users keyed by their chatwootId tag
type UserRepository interface {
	GetOrCreateUser(ctx context.Context, tags domain.Tags) (*domain.User, error)

	// GetUser returns domain.ErrNotFound when id is unknown
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// MessageRepository handles persistence of relayed messages
type MessageRepository interface {
	// CreateMessage assigns msg.ID when empty and persists it
	CreateMessage(ctx context.Context, msg *domain.Message) error
}

// StateRepository holds the integration state written by register
type StateRepository interface {
	// GetState returns domain.ErrNotRegistered when nothing was stored
	GetState(ctx context.Context) (*domain.IntegrationState, error)
	SaveState(ctx context.Context, state *domain.IntegrationState) error
	ClearState(ctx context.Context) error
}

// DedupRepository handles deduplication of webhook events using cache
type DedupRepository interface {
	// Claim atomically reserves an event ID for ttl.
	// It returns false when the ID is already claimed by an earlier delivery.
	Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// Release drops a claim so a redelivery of a failed event is processed again
	Release(ctx context.Context, eventID string) error
}
