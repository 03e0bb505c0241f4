// Package dto contains data transfer objects for the Chatwoot webhook and REST API
// Separating DTOs from handlers prevents import cycles
package dto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ============================================================================
// Inbound: agent bot webhook
// ============================================================================

// ChatwootWebhookRequest is the agent bot webhook payload for message events
// Ref: https://www.chatwoot.com/docs/product/others/agent-bots
type ChatwootWebhookRequest struct {
	Event        string                `json:"event"`
	ID           FlexibleID            `json:"id"`
	Content      *string               `json:"content"`
	ContentType  string                `json:"content_type,omitempty"`
	MessageType  string                `json:"message_type"`
	Private      bool                  `json:"private"`
	Sender       *ChatwootSender       `json:"sender,omitempty"`
	Conversation *ChatwootConversation `json:"conversation,omitempty"`
	Attachments  []ChatwootAttachment  `json:"attachments,omitempty"`
	Account      *ChatwootAccount      `json:"account,omitempty"`
}

type ChatwootAccount struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ChatwootSender is the contact who wrote the message
type ChatwootSender struct {
	ID          FlexibleID `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	Identifier  string     `json:"identifier,omitempty"`
	Type        string     `json:"type,omitempty"` // contact, user, agent_bot
}

type ChatwootConversation struct {
	ID      FlexibleID `json:"id"`
	InboxID FlexibleID `json:"inbox_id"`
	Status  string     `json:"status"`  // open, resolved, pending, snoozed
	Channel string     `json:"channel"` // e.g. "Channel::Whatsapp"
}

// ChatwootAttachment is a file the contact sent.
// Older payloads carry a MIME content_type, newer ones only file_type.
type ChatwootAttachment struct {
	ID          FlexibleID `json:"id"`
	FileType    string     `json:"file_type,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	DataURL     string     `json:"data_url"`
	ThumbURL    string     `json:"thumb_url,omitempty"`
}

// Kind returns the most specific type hint for the attachment
func (a ChatwootAttachment) Kind() string {
	if a.ContentType != "" {
		return strings.ToLower(a.ContentType)
	}
	return strings.ToLower(a.FileType)
}

// TextContent returns the message content or "" when it is null
func (r *ChatwootWebhookRequest) TextContent() string {
	if r.Content == nil {
		return ""
	}
	return *r.Content
}

// Platform returns the inbox channel without the "Channel::" prefix, lowercased
func (r *ChatwootWebhookRequest) Platform() string {
	if r.Conversation == nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(r.Conversation.Channel, "Channel::"))
}

// FlexibleID accepts both numeric and string ids, which Chatwoot mixes across versions
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string { return string(f) }

// Int returns the numeric value, 0 when empty or not numeric
func (f FlexibleID) Int() int {
	n, _ := strconv.Atoi(string(f))
	return n
}

// ============================================================================
// Outbound: messages API
// ============================================================================

// Chatwoot content types used by the relay
const (
	ContentTypeText        = "text"
	ContentTypeInputSelect = "input_select"
	ContentTypeCards       = "cards"
)

// MessageRequest is the JSON body of POST /conversations/{id}/messages
type MessageRequest struct {
	Content           string `json:"content"`
	MessageType       string `json:"message_type"`
	Private           bool   `json:"private"`
	ContentType       string `json:"content_type,omitempty"`
	ContentAttributes any    `json:"content_attributes,omitempty"`
}

// InputSelectAttributes renders choice and dropdown options
type InputSelectAttributes struct {
	Items []InputSelectItem `json:"items"`
}

type InputSelectItem struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// CardsAttributes renders card and carousel messages
type CardsAttributes struct {
	Items []CardItem `json:"items"`
}

type CardItem struct {
	MediaURL    string           `json:"media_url"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Actions     []CardItemAction `json:"actions"`
}

// CardItemAction type is "link" (uses URI) or "postback" (uses Payload)
type CardItemAction struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	URI     string `json:"uri,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// MessageResponse is the subset of the created message the relay keeps
type MessageResponse struct {
	ID             FlexibleID `json:"id"`
	Content        string     `json:"content"`
	ContentType    string     `json:"content_type"`
	ConversationID FlexibleID `json:"conversation_id"`
	Private        bool       `json:"private"`
}

// ============================================================================
// Outbound: conversations API
// ============================================================================

type ToggleStatusRequest struct {
	Status string `json:"status"`
}

type ToggleStatusResponse struct {
	Meta    map[string]any `json:"meta"`
	Payload struct {
		Success        bool       `json:"success"`
		CurrentStatus  string     `json:"current_status"`
		ConversationID FlexibleID `json:"conversation_id"`
	} `json:"payload"`
}

// AssignmentRequest assigns an agent or a team; exactly one is expected
type AssignmentRequest struct {
	AssigneeID *int `json:"assignee_id,omitempty"`
	TeamID     *int `json:"team_id,omitempty"`
}

// AssignmentResponse is the assigned agent (or team) record
type AssignmentResponse struct {
	ID          FlexibleID `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name,omitempty"`
	Email       string     `json:"email,omitempty"`
}

// ============================================================================
// Outbound: contacts API
// ============================================================================

type Contact struct {
	ID                   FlexibleID     `json:"id"`
	Email                string         `json:"email"`
	Name                 string         `json:"name"`
	PhoneNumber          string         `json:"phone_number"`
	Thumbnail            string         `json:"thumbnail,omitempty"`
	AdditionalAttributes map[string]any `json:"additional_attributes"`
	CustomAttributes     map[string]any `json:"custom_attributes"`
}

// ContactResponse wraps a contact. Chatwoot versions differ between
// {"payload": {...contact}} and {"payload": {"contact": {...}}}.
type ContactResponse struct {
	Payload Contact
}

func (c *ContactResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Payload) == 0 {
		return nil
	}
	var nested struct {
		Contact *Contact `json:"contact"`
	}
	if err := json.Unmarshal(raw.Payload, &nested); err == nil && nested.Contact != nil {
		c.Payload = *nested.Contact
		return nil
	}
	return json.Unmarshal(raw.Payload, &c.Payload)
}

// UpdateContactRequest is the body of PUT /contacts/{id}; nil fields are left untouched
type UpdateContactRequest struct {
	Name             *string        `json:"name,omitempty"`
	Email            *string        `json:"email,omitempty"`
	PhoneNumber      *string        `json:"phone_number,omitempty"`
	Identifier       *string        `json:"identifier,omitempty"`
	AvatarURL        *string        `json:"avatar_url,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// ============================================================================
// Outbound: agent bots API
// ============================================================================

type CreateAgentBotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OutgoingURL string `json:"outgoing_url"`
}

type SetAgentBotRequest struct {
	AgentBot *int `json:"agent_bot"`
}

// AgentBot is returned by create and show; AccessToken is a plain string on
// create and an object on show
type AgentBot struct {
	ID          FlexibleID  `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	OutgoingURL string      `json:"outgoing_url"`
	BotType     string      `json:"bot_type"`
	AccountID   FlexibleID  `json:"account_id"`
	AccessToken AccessToken `json:"access_token"`
}

// AccessToken normalises both token shapes to the token string
type AccessToken string

func (t *AccessToken) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = AccessToken(s)
		return nil
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*t = AccessToken(obj.Token)
	return nil
}

// ============================================================================
// Errors
// ============================================================================

// ErrorBody is the error document Chatwoot returns on 4xx
type ErrorBody struct {
	Message    string   `json:"message"`
	Error      string   `json:"error"`
	Attributes []string `json:"attributes"`
}
