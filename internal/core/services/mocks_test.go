package services

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
)

// ============================================================================
// Mock Repositories
// ============================================================================

// MockWebhookRepository mocks WebhookRepository interface
type MockWebhookRepository struct {
	mock.Mock
}

func (m *MockWebhookRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockWebhookRepository) UpdateStatus(ctx context.Context, id int64, status string, errorLog *string) error {
	args := m.Called(ctx, id, status, errorLog)
	return args.Error(0)
}

func (m *MockWebhookRepository) PurgeProcessed(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).(int64), args.Error(1)
}

// MockConversationRepository mocks ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetOrCreateConversation(ctx context.Context, channel string, tags domain.Tags) (*domain.Conversation, error) {
	args := m.Called(ctx, channel, tags)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockUserRepository mocks UserRepository interface
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetOrCreateUser(ctx context.Context, tags domain.Tags) (*domain.User, error) {
	args := m.Called(ctx, tags)
	if result := args.Get(0); result != nil {
		return result.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMessageRepository mocks MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockStateRepository mocks StateRepository interface
type MockStateRepository struct {
	mock.Mock
}

func (m *MockStateRepository) GetState(ctx context.Context) (*domain.IntegrationState, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		return result.(*domain.IntegrationState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStateRepository) SaveState(ctx context.Context, state *domain.IntegrationState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockStateRepository) ClearState(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockDedupRepository mocks DedupRepository interface
type MockDedupRepository struct {
	mock.Mock
}

func (m *MockDedupRepository) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, eventID, ttl)
	if fn, ok := args.Get(0).(func(context.Context, string, time.Duration) bool); ok {
		return fn(ctx, eventID, ttl), args.Error(1)
	}
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupRepository) Release(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

// ============================================================================
// Mock Gateways
// ============================================================================

// MockChatwoot mocks ChatwootGateway interface
type MockChatwoot struct {
	mock.Mock
}

func (m *MockChatwoot) CreateMessage(ctx context.Context, token, conversationID string, req *dto.MessageRequest) (*dto.MessageResponse, error) {
	args := m.Called(ctx, token, conversationID, req)
	if result := args.Get(0); result != nil {
		return result.(*dto.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatwoot) CreateAttachmentMessage(ctx context.Context, token, conversationID string, att *ports.Attachment) (*dto.MessageResponse, error) {
	// drain the body so tests can assert on what was uploaded
	if att != nil && att.Body != nil {
		_, _ = io.Copy(io.Discard, att.Body)
	}
	args := m.Called(ctx, token, conversationID, att)
	if result := args.Get(0); result != nil {
		return result.(*dto.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatwoot) ToggleStatus(ctx context.Context, conversationID, status string) (*dto.ToggleStatusResponse, error) {
	args := m.Called(ctx, conversationID, status)
	if result := args.Get(0); result != nil {
		return result.(*dto.ToggleStatusResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatwoot) AssignConversation(ctx context.Context, conversationID string, req *dto.AssignmentRequest) (*dto.AssignmentResponse, error) {
	args := m.Called(ctx, conversationID, req)
	if result := args.Get(0); result != nil {
		return result.(*dto.AssignmentResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatwoot) GetContact(ctx context.Context, contactID string) (*dto.Contact, error) {
	args := m.Called(ctx, contactID)
	if result := args.Get(0); result != nil {
		return result.(*dto.Contact), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatwoot) UpdateContact(ctx context.Context, contactID string, req *dto.UpdateContactRequest) (*dto.Contact, error) {
	args := m.Called(ctx, contactID, req)
	if result := args.Get(0); result != nil {
		return result.(*dto.Contact), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatwoot) CreateAgentBot(ctx context.Context, req *dto.CreateAgentBotRequest) (*dto.AgentBot, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(*dto.AgentBot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatwoot) DeleteAgentBot(ctx context.Context, agentBotID int) error {
	args := m.Called(ctx, agentBotID)
	return args.Error(0)
}

func (m *MockChatwoot) AssignAgentBot(ctx context.Context, inboxID int, agentBotID *int) error {
	args := m.Called(ctx, inboxID, agentBotID)
	return args.Error(0)
}

func (m *MockChatwoot) ShowInboxAgentBot(ctx context.Context, inboxID int) (*dto.AgentBot, error) {
	args := m.Called(ctx, inboxID)
	if result := args.Get(0); result != nil {
		return result.(*dto.AgentBot), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMediaFetcher mocks MediaFetcher interface
type MockMediaFetcher struct {
	mock.Mock
}

func (m *MockMediaFetcher) Fetch(ctx context.Context, url string) (*ports.Media, error) {
	args := m.Called(ctx, url)
	if result := args.Get(0); result != nil {
		return result.(*ports.Media), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockShortener mocks URLShortener interface
type MockShortener struct {
	mock.Mock
}

func (m *MockShortener) Shorten(ctx context.Context, url string) string {
	args := m.Called(ctx, url)
	return args.String(0)
}

// MockPublisher mocks EventPublisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishIncoming(ctx context.Context, event *domain.IncomingEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// silentT lets assert.Eventually poll mock.AssertCalled without failing the test on early misses
type silentT struct{}

func (silentT) Logf(string, ...any)   {}
func (silentT) Errorf(string, ...any) {}
func (silentT) FailNow()              {}
