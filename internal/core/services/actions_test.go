package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
)

func createTestActions() (*Actions, *MockChatwoot, *MockConversationRepository, *MockUserRepository) {
	chatwoot := new(MockChatwoot)
	conversations := new(MockConversationRepository)
	users := new(MockUserRepository)

	conversations.On("GetConversation", mock.Anything, "conv-1").
		Return(&domain.Conversation{ID: "conv-1", Tags: domain.Tags{domain.TagChatwootID: "321"}}, nil).Maybe()
	users.On("GetUser", mock.Anything, "user-1").
		Return(&domain.User{ID: "user-1", Tags: domain.Tags{domain.TagChatwootID: "55"}}, nil).Maybe()

	return NewActions(chatwoot, conversations, users), chatwoot, conversations, users
}

func toggled(status string) *dto.ToggleStatusResponse {
	resp := &dto.ToggleStatusResponse{}
	resp.Payload.Success = true
	resp.Payload.CurrentStatus = status
	return resp
}

var ref = ConversationRef{ConversationID: "conv-1", UserID: "user-1"}
var contactRef = ContactRef{ConversationID: "conv-1", UserID: "user-1"}

func TestSendToAgent_OpensConversation(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	chatwoot.On("ToggleStatus", mock.Anything, "321", "open").Return(toggled("open"), nil)

	out, err := a.SendToAgent(context.Background(), SendToAgentInput{ConversationRef: ref})

	require.NoError(t, err)
	assert.Equal(t, "open", out.CurrentStatus)
	chatwoot.AssertNotCalled(t, "AssignConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendToAgent_WithAssignee(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	assignee := 12
	chatwoot.On("AssignConversation", mock.Anything, "321", &dto.AssignmentRequest{AssigneeID: &assignee}).
		Return(&dto.AssignmentResponse{ID: "12"}, nil)
	chatwoot.On("ToggleStatus", mock.Anything, "321", "open").Return(toggled("open"), nil)

	_, err := a.SendToAgent(context.Background(), SendToAgentInput{ConversationRef: ref, AssigneeID: &assignee})

	require.NoError(t, err)
	chatwoot.AssertExpectations(t)
}

func TestSendToAgent_ChatwootFailure(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	chatwoot.On("ToggleStatus", mock.Anything, "321", "open").Return(nil, errors.New("connection refused"))

	_, err := a.SendToAgent(context.Background(), SendToAgentInput{ConversationRef: ref})

	require.Error(t, err)
	assert.Equal(t, "Error sending to agent! connection refused", err.Error())
}

func TestSendToTeam(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	team := 4
	chatwoot.On("AssignConversation", mock.Anything, "321", &dto.AssignmentRequest{TeamID: &team}).
		Return(&dto.AssignmentResponse{ID: "4"}, nil)
	chatwoot.On("ToggleStatus", mock.Anything, "321", "open").Return(toggled("open"), nil)

	out, err := a.SendToTeam(context.Background(), SendToTeamInput{ConversationRef: ref, TeamID: 4})

	require.NoError(t, err)
	assert.Equal(t, "open", out.CurrentStatus)
	chatwoot.AssertExpectations(t)
}

func TestSendToTeam_RequiresTeam(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()

	_, err := a.SendToTeam(context.Background(), SendToTeamInput{ConversationRef: ref})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	chatwoot.AssertNotCalled(t, "AssignConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestCloseConversation(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	chatwoot.On("ToggleStatus", mock.Anything, "321", "resolved").Return(toggled("resolved"), nil)

	out, err := a.CloseConversation(context.Background(), CloseConversationInput{ConversationID: "conv-1"})

	require.NoError(t, err)
	assert.Equal(t, "resolved", out.CurrentStatus)
}

func TestActions_UnknownConversation(t *testing.T) {
	a, _, conversations, _ := createTestActions()
	conversations.On("GetConversation", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	_, err := a.CloseConversation(context.Background(), CloseConversationInput{ConversationID: "missing"})

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "Error closing conversation!")
}

func TestGetCustomAttributes(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	chatwoot.On("GetContact", mock.Anything, "55").Return(&dto.Contact{
		CustomAttributes: map[string]any{"plan": "gold"},
	}, nil)

	out, err := a.GetCustomAttributes(context.Background(), contactRef)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"plan": "gold"}, out.Attributes)
}

func TestUpdateCustomAttributes(t *testing.T) {
	t.Run("object is sent", func(t *testing.T) {
		a, chatwoot, _, _ := createTestActions()
		chatwoot.On("UpdateContact", mock.Anything, "55", &dto.UpdateContactRequest{
			CustomAttributes: map[string]any{"plan": "gold", "seats": float64(3)},
		}).Return(&dto.Contact{}, nil)

		out, err := a.UpdateCustomAttributes(context.Background(), UpdateCustomAttributesInput{
			ContactRef:       contactRef,
			CustomAttributes: `{"plan": "gold", "seats": 3}`,
		})

		require.NoError(t, err)
		assert.Equal(t, "Custom attributes updated successfully", out.Message)
		chatwoot.AssertExpectations(t)
	})

	t.Run("empty string becomes empty object", func(t *testing.T) {
		attrs, err := parseCustomAttributes("")
		require.NoError(t, err)
		assert.Empty(t, attrs)
	})

	t.Run("whitespace is not treated as empty", func(t *testing.T) {
		for _, raw := range []string{" ", "\n\t"} {
			_, err := parseCustomAttributes(raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Invalid JSON format for customAttributes")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		a, chatwoot, _, _ := createTestActions()

		_, err := a.UpdateCustomAttributes(context.Background(), UpdateCustomAttributesInput{
			ContactRef:       contactRef,
			CustomAttributes: `{plan:`,
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid JSON format for customAttributes")
		chatwoot.AssertNotCalled(t, "UpdateContact", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("not an object", func(t *testing.T) {
		for _, raw := range []string{`[1,2]`, `"text"`, `null`, `42`} {
			_, err := parseCustomAttributes(raw)
			require.Error(t, err, raw)
			assert.Contains(t, err.Error(), "customAttributes must be a valid JSON object")
		}
	})
}

func TestUpdateEmail(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		a, chatwoot, _, _ := createTestActions()
		chatwoot.On("UpdateContact", mock.Anything, "55", mock.MatchedBy(func(r *dto.UpdateContactRequest) bool {
			return r.Email != nil && *r.Email == "ana@example.com"
		})).Return(&dto.Contact{}, nil)

		out, err := a.UpdateEmail(context.Background(), UpdateEmailInput{ContactRef: contactRef, Email: "ana@example.com"})

		require.NoError(t, err)
		assert.Equal(t, "Email updated successfully", out.Message)
	})

	t.Run("empty email is sent to clear it", func(t *testing.T) {
		a, chatwoot, _, _ := createTestActions()
		chatwoot.On("UpdateContact", mock.Anything, "55", mock.MatchedBy(func(r *dto.UpdateContactRequest) bool {
			return r.Email != nil && *r.Email == ""
		})).Return(&dto.Contact{}, nil)

		out, err := a.UpdateEmail(context.Background(), UpdateEmailInput{ContactRef: contactRef, Email: ""})

		require.NoError(t, err)
		assert.Equal(t, "Email updated successfully", out.Message)
		chatwoot.AssertExpectations(t)
	})

	t.Run("422 is reported, not raised", func(t *testing.T) {
		a, chatwoot, _, _ := createTestActions()
		chatwoot.On("UpdateContact", mock.Anything, "55", mock.Anything).Return(nil, &ports.APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Message:    "Email has already been taken",
			Attributes: []string{"email"},
		})

		out, err := a.UpdateEmail(context.Background(), UpdateEmailInput{ContactRef: contactRef, Email: "dup@example.com"})

		require.NoError(t, err)
		assert.Equal(t, "Error updating email: Email has already been taken", out.Message)
		assert.Equal(t, []string{"email"}, out.Attributes)
	})

	t.Run("other failures are reported too", func(t *testing.T) {
		a, chatwoot, _, _ := createTestActions()
		chatwoot.On("UpdateContact", mock.Anything, "55", mock.Anything).Return(nil, errors.New("timeout"))

		out, err := a.UpdateEmail(context.Background(), UpdateEmailInput{ContactRef: contactRef, Email: "x@example.com"})

		require.NoError(t, err)
		assert.Equal(t, "Error updating email: timeout", out.Message)
		assert.Empty(t, out.Attributes)
	})
}

func TestUpdatePhone(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	chatwoot.On("UpdateContact", mock.Anything, "55", mock.MatchedBy(func(r *dto.UpdateContactRequest) bool {
		return r.PhoneNumber != nil && *r.PhoneNumber == "+525555"
	})).Return(&dto.Contact{}, nil)

	out, err := a.UpdatePhone(context.Background(), UpdatePhoneInput{ContactRef: contactRef, Phone: "+525555"})

	require.NoError(t, err)
	assert.Equal(t, "Phone updated successfully", out.Message)
}

func TestUpdatePhone_UserWithoutContact(t *testing.T) {
	a, chatwoot, _, users := createTestActions()
	users.On("GetUser", mock.Anything, "user-2").Return(&domain.User{ID: "user-2", Tags: domain.Tags{}}, nil)

	_, err := a.UpdatePhone(context.Background(), UpdatePhoneInput{
		ContactRef: ContactRef{ConversationID: "conv-1", UserID: "user-2"},
		Phone:      "+525555",
	})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	chatwoot.AssertNotCalled(t, "UpdateContact", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetContact(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	chatwoot.On("GetContact", mock.Anything, "12").Return(&dto.Contact{
		Name:             "Ana",
		PhoneNumber:      "+525555",
		CustomAttributes: map[string]any{"plan": "gold"},
	}, nil)

	out, err := a.GetContact(context.Background(), GetContactInput{ContactID: 12})

	require.NoError(t, err)
	require.NotNil(t, out.Name)
	assert.Equal(t, "Ana", *out.Name)
	assert.Nil(t, out.Email)
	assert.Equal(t, map[string]any{}, out.AdditionalAttributes)
	assert.Equal(t, "gold", out.CustomAttributes["plan"])
}

func TestUpdateContact_MergesCustomAttributes(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()
	name := "Ana María"
	chatwoot.On("UpdateContact", mock.Anything, "12", &dto.UpdateContactRequest{
		Name:             &name,
		CustomAttributes: map[string]any{"plan": "gold", "vip": true},
	}).Return(&dto.Contact{Name: name}, nil)

	out, err := a.UpdateContact(context.Background(), UpdateContactInput{
		ContactID:        12,
		Name:             &name,
		CustomAttributes: []map[string]any{{"plan": "gold"}, {"vip": true}},
	})

	require.NoError(t, err)
	assert.Equal(t, name, *out.Name)
	chatwoot.AssertExpectations(t)
}

func TestGetContact_Validation(t *testing.T) {
	a, chatwoot, _, _ := createTestActions()

	_, err := a.GetContact(context.Background(), GetContactInput{})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	chatwoot.AssertNotCalled(t, "GetContact", mock.Anything, mock.Anything)
}
