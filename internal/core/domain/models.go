// Package domain contains core business entities
// These models are infrastructure-agnostic: the relay's own view of the bot
// platform (conversations, users, messages) plus the Chatwoot webhook audit log.
package domain

import (
	"encoding/json"
	"time"
)

// ChannelChatwoot is the only channel this relay serves
const ChannelChatwoot = "chatwoot"

// Tag keys mirrored from Chatwoot onto bot entities
const (
	TagChatwootID = "chatwootId"
	TagInboxID    = "inboxId"
	TagPlatform   = "platform"
	TagName       = "name"
	TagEmail      = "email"
	TagPhone      = "phone"
)

// Inbox platforms that change how outgoing messages are rendered
const (
	PlatformWhatsApp     = "whatsapp"
	PlatformFacebookPage = "facebookpage"
)

// Tags is a flat string map attached to every bot entity
type Tags map[string]string

// Get returns the tag value or "" when the tag is absent
func (t Tags) Get(key string) string {
	if t == nil {
		return ""
	}
	return t[key]
}

// Merge copies every non-empty value from other into t
func (t Tags) Merge(other Tags) Tags {
	if t == nil {
		t = Tags{}
	}
	for k, v := range other {
		if v != "" {
			t[k] = v
		}
	}
	return t
}

// WebhookLog represents the audit trail for incoming webhook events
type WebhookLog struct {
	ID          int64           `json:"id" db:"id"`
	Platform    string          `json:"platform" db:"platform"`
	EventKey    string          `json:"event_key" db:"event_key"` // Chatwoot message id, "" when absent
	PayloadJSON json.RawMessage `json:"payload_json" db:"payload_json"`
	Status      string          `json:"status" db:"status"` // "pending", "processed", "skipped", "failed"
	ErrorLog    *string         `json:"error_log,omitempty" db:"error_log"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// WebhookStatus constants for lifecycle management
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusSkipped   = "skipped"
	WebhookStatusFailed    = "failed"
)

// Conversation is a bot-platform conversation bound to one Chatwoot conversation
type Conversation struct {
	ID        string    `json:"id" db:"id"`
	Channel   string    `json:"channel" db:"channel"`
	Tags      Tags      `json:"tags" db:"tags"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// User is a bot-platform user bound to one Chatwoot contact
type User struct {
	ID        string    `json:"id" db:"id"`
	Tags      Tags      `json:"tags" db:"tags"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Direction constants
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message is a bot-platform message, either received from or sent to Chatwoot
type Message struct {
	ID             string          `json:"id" db:"id"`
	ConversationID string          `json:"conversationId" db:"conversation_id"`
	UserID         string          `json:"userId" db:"user_id"`
	Direction      string          `json:"direction" db:"direction"`
	Type           string          `json:"type" db:"type"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Tags           Tags            `json:"tags" db:"tags"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// IntegrationState holds what register() learned from Chatwoot
type IntegrationState struct {
	AgentBotID     int       `json:"agentBotId"`
	AgentBotAPIKey string    `json:"agentBotApiKey"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IncomingEvent is published to the bot runtime after an inbound message is stored
type IncomingEvent struct {
	Conversation *Conversation `json:"conversation"`
	User         *User         `json:"user"`
	Message      *Message      `json:"message"`
}
