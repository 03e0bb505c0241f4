package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
	"chatwoot-relay/internal/metrics"
)

// Conversation statuses the actions set
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// ActionError is a failed action; Prefix is the human summary shown to bot builders
type ActionError struct {
	Prefix string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %v", e.Prefix, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// ============================================================================
// Inputs and outputs
// ============================================================================

// ConversationRef identifies the bot conversation and user an action runs for
type ConversationRef struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId"`
}

type SendToAgentInput struct {
	ConversationRef
	AssigneeID *int `json:"assigneeId,omitempty" validate:"omitempty,gt=0"`
}

type SendToTeamInput struct {
	ConversationRef
	TeamID int `json:"teamId" validate:"required,gt=0"`
}

type CloseConversationInput struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type ContactRef struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
}

type UpdateCustomAttributesInput struct {
	ContactRef
	CustomAttributes string `json:"customAttributes"` // JSON object as a string
}

type UpdateEmailInput struct {
	ContactRef
	Email string `json:"email"` // "" clears the email
}

type UpdatePhoneInput struct {
	ContactRef
	Phone string `json:"phone" validate:"required"`
}

type GetContactInput struct {
	ContactID int `json:"contactId" validate:"required,gt=0"`
}

type UpdateContactInput struct {
	ContactID        int              `json:"contactId" validate:"required,gt=0"`
	Name             *string          `json:"name,omitempty"`
	Email            *string          `json:"email,omitempty"`
	PhoneNumber      *string          `json:"phone_number,omitempty"`
	CustomAttributes []map[string]any `json:"custom_attributes,omitempty"`
}

type StatusResult struct {
	CurrentStatus string `json:"currentStatus"`
}

type AttributesResult struct {
	Attributes map[string]any `json:"attributes"`
}

type MessageResult struct {
	Message    string   `json:"message"`
	Attributes []string `json:"attributes,omitempty"`
}

// ContactResult keeps nullable fields as pointers so absent values encode as null
type ContactResult struct {
	Email                *string        `json:"email"`
	Name                 *string        `json:"name"`
	PhoneNumber          *string        `json:"phone_number"`
	AdditionalAttributes map[string]any `json:"additional_attributes"`
	CustomAttributes     map[string]any `json:"custom_attributes"`
}

// ============================================================================
// Service
// ============================================================================

// Actions implements live-agent handoff and contact attribute actions
type Actions struct {
	chatwoot      ports.ChatwootGateway
	conversations ports.ConversationRepository
	users         ports.UserRepository
	validate      *validator.Validate
}

func NewActions(chatwoot ports.ChatwootGateway, conversations ports.ConversationRepository, users ports.UserRepository) *Actions {
	return &Actions{
		chatwoot:      chatwoot,
		conversations: conversations,
		users:         users,
		validate:      validator.New(),
	}
}

// SendToAgent optionally assigns an agent, then opens the conversation so a human picks it up
func (a *Actions) SendToAgent(ctx context.Context, in SendToAgentInput) (out *StatusResult, err error) {
	defer func() { metrics.RecordAction("sendToAgent", err) }()
	const prefix = "Error sending to agent!"

	if err := a.check(in); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	convID, err := a.chatwootConversationID(ctx, in.ConversationID)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	if in.AssigneeID != nil {
		if _, err := a.chatwoot.AssignConversation(ctx, convID, &dto.AssignmentRequest{AssigneeID: in.AssigneeID}); err != nil {
			return nil, &ActionError{Prefix: prefix, Err: err}
		}
	}

	resp, err := a.chatwoot.ToggleStatus(ctx, convID, StatusOpen)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	slog.Info("Conversation handed to agent", "chatwoot_conversation_id", convID, "assignee_id", in.AssigneeID)
	return &StatusResult{CurrentStatus: statusOr(resp, StatusOpen)}, nil
}

// SendToTeam assigns the conversation to a team and opens it
func (a *Actions) SendToTeam(ctx context.Context, in SendToTeamInput) (out *StatusResult, err error) {
	defer func() { metrics.RecordAction("sendToTeam", err) }()
	const prefix = "Error assigning to team!"

	if err := a.check(in); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	convID, err := a.chatwootConversationID(ctx, in.ConversationID)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	teamID := in.TeamID
	if _, err := a.chatwoot.AssignConversation(ctx, convID, &dto.AssignmentRequest{TeamID: &teamID}); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	if _, err := a.chatwoot.ToggleStatus(ctx, convID, StatusOpen); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	slog.Info("Conversation assigned to team", "chatwoot_conversation_id", convID, "team_id", teamID)
	return &StatusResult{CurrentStatus: StatusOpen}, nil
}

// CloseConversation resolves the Chatwoot conversation
func (a *Actions) CloseConversation(ctx context.Context, in CloseConversationInput) (out *StatusResult, err error) {
	defer func() { metrics.RecordAction("closeConversation", err) }()
	const prefix = "Error closing conversation!"

	if err := a.check(in); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	convID, err := a.chatwootConversationID(ctx, in.ConversationID)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	resp, err := a.chatwoot.ToggleStatus(ctx, convID, StatusResolved)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	return &StatusResult{CurrentStatus: statusOr(resp, StatusResolved)}, nil
}

// GetCustomAttributes returns the custom attributes of the conversation's contact
func (a *Actions) GetCustomAttributes(ctx context.Context, in ContactRef) (out *AttributesResult, err error) {
	defer func() { metrics.RecordAction("getCustomAttributes", err) }()
	const prefix = "Error getting custom attributes!"

	contactID, err := a.resolveContact(ctx, in)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	contact, err := a.chatwoot.GetContact(ctx, contactID)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	attrs := contact.CustomAttributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &AttributesResult{Attributes: attrs}, nil
}

// UpdateCustomAttributes writes a JSON object string onto the contact's custom attributes
func (a *Actions) UpdateCustomAttributes(ctx context.Context, in UpdateCustomAttributesInput) (out *MessageResult, err error) {
	defer func() { metrics.RecordAction("updateCustomAttributes", err) }()
	const prefix = "Error updating custom attributes!"

	attrs, err := parseCustomAttributes(in.CustomAttributes)
	if err != nil {
		return nil, err
	}

	contactID, err := a.resolveContact(ctx, in.ContactRef)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	if _, err := a.chatwoot.UpdateContact(ctx, contactID, &dto.UpdateContactRequest{CustomAttributes: attrs}); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	return &MessageResult{Message: "Custom attributes updated successfully"}, nil
}

// UpdateEmail reports Chatwoot rejections in the result instead of failing,
// so flows can branch on duplicate or malformed emails
func (a *Actions) UpdateEmail(ctx context.Context, in UpdateEmailInput) (out *MessageResult, err error) {
	defer func() { metrics.RecordAction("updateEmail", err) }()

	const prefix = "Error updating email!"

	if err := a.check(in); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	contactID, err := a.resolveContact(ctx, in.ContactRef)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	email := in.Email
	_, err = a.chatwoot.UpdateContact(ctx, contactID, &dto.UpdateContactRequest{Email: &email})
	if err == nil {
		return &MessageResult{Message: "Email updated successfully"}, nil
	}

	slog.Warn("Chatwoot rejected email update", "error", err, "contact_id", contactID)
	var apiErr *ports.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		msg := apiErr.Message
		if msg == "" {
			msg = "Unprocessable Entity"
		}
		attrs := apiErr.Attributes
		if attrs == nil {
			attrs = []string{}
		}
		return &MessageResult{Message: "Error updating email: " + msg, Attributes: attrs}, nil
	}
	return &MessageResult{Message: fmt.Sprintf("Error updating email: %v", err)}, nil
}

// UpdatePhone sets the contact phone number
func (a *Actions) UpdatePhone(ctx context.Context, in UpdatePhoneInput) (out *MessageResult, err error) {
	defer func() { metrics.RecordAction("updatePhone", err) }()
	const prefix = "Error updating phone!"

	if err := a.check(in); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	contactID, err := a.resolveContact(ctx, in.ContactRef)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	phone := in.Phone
	if _, err := a.chatwoot.UpdateContact(ctx, contactID, &dto.UpdateContactRequest{PhoneNumber: &phone}); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	return &MessageResult{Message: "Phone updated successfully"}, nil
}

// GetContact reads a contact by its Chatwoot id
func (a *Actions) GetContact(ctx context.Context, in GetContactInput) (out *ContactResult, err error) {
	defer func() { metrics.RecordAction("getContact", err) }()
	const prefix = "Error getting contact!"

	if err := a.check(in); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	contact, err := a.chatwoot.GetContact(ctx, fmt.Sprint(in.ContactID))
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	return contactResult(contact), nil
}

// UpdateContact applies the given fields; custom_attributes objects are merged in order
func (a *Actions) UpdateContact(ctx context.Context, in UpdateContactInput) (out *ContactResult, err error) {
	defer func() { metrics.RecordAction("updateContact", err) }()
	const prefix = "Error updating contact!"

	if err := a.check(in); err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}

	req := &dto.UpdateContactRequest{
		Name:        in.Name,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
	}
	if len(in.CustomAttributes) > 0 {
		req.CustomAttributes = map[string]any{}
		for _, obj := range in.CustomAttributes {
			for k, v := range obj {
				req.CustomAttributes[k] = v
			}
		}
	}

	contact, err := a.chatwoot.UpdateContact(ctx, fmt.Sprint(in.ContactID), req)
	if err != nil {
		return nil, &ActionError{Prefix: prefix, Err: err}
	}
	return contactResult(contact), nil
}

// ============================================================================
// Helpers
// ============================================================================

func (a *Actions) check(in any) error {
	if err := a.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func (a *Actions) chatwootConversationID(ctx context.Context, conversationID string) (string, error) {
	conv, err := a.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	id := conv.Tags.Get(domain.TagChatwootID)
	if id == "" {
		return "", fmt.Errorf("%w: conversation %s has no %s tag", domain.ErrInvalidInput, conversationID, domain.TagChatwootID)
	}
	return id, nil
}

// resolveContact maps the bot user onto its Chatwoot contact id
func (a *Actions) resolveContact(ctx context.Context, ref ContactRef) (string, error) {
	if err := a.check(ref); err != nil {
		return "", err
	}
	user, err := a.users.GetUser(ctx, ref.UserID)
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", ref.UserID, err)
	}
	id := user.Tags.Get(domain.TagChatwootID)
	if id == "" {
		return "", fmt.Errorf("%w: user %s has no %s tag", domain.ErrInvalidInput, ref.UserID, domain.TagChatwootID)
	}
	return id, nil
}

// parseCustomAttributes accepts "" (treated as {}) or a JSON object
func parseCustomAttributes(raw string) (map[string]any, error) {
	if raw == "" {
		raw = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: Invalid JSON format for customAttributes", domain.ErrInvalidInput)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: customAttributes must be a valid JSON object", domain.ErrInvalidInput)
	}
	return obj, nil
}

func statusOr(resp *dto.ToggleStatusResponse, fallback string) string {
	if resp != nil && resp.Payload.CurrentStatus != "" {
		return resp.Payload.CurrentStatus
	}
	return fallback
}

func contactResult(c *dto.Contact) *ContactResult {
	out := &ContactResult{
		AdditionalAttributes: c.AdditionalAttributes,
		CustomAttributes:     c.CustomAttributes,
	}
	if c.Email != "" {
		out.Email = &c.Email
	}
	if c.Name != "" {
		out.Name = &c.Name
	}
	if c.PhoneNumber != "" {
		out.PhoneNumber = &c.PhoneNumber
	}
	if out.AdditionalAttributes == nil {
		out.AdditionalAttributes = map[string]any{}
	}
	if out.CustomAttributes == nil {
		out.CustomAttributes = map[string]any{}
	}
	return out
}
