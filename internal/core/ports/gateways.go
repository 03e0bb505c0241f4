package ports

import (
	"context"
	"fmt"
	"io"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
)

// Attachment is a media file ready to be uploaded as a multipart message
type Attachment struct {
	Content     string // caption, may be empty
	FileName    string
	ContentType string
	FileType    string // image, video, audio, file
	Body        io.Reader
}

// APIError is returned by the gateway for every non-2xx Chatwoot response
type APIError struct {
	StatusCode int
	Message    string
	Attributes []string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chatwoot api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("chatwoot api error %d: %s", e.StatusCode, e.Body)
}

// ChatwootGateway is the Chatwoot account REST API.
// Message endpoints take an explicit token so they can post as the agent bot;
// every other call uses the configured user API key.
type ChatwootGateway interface {
	CreateMessage(ctx context.Context, token, conversationID string, req *dto.MessageRequest) (*dto.MessageResponse, error)
	CreateAttachmentMessage(ctx context.Context, token, conversationID string, att *Attachment) (*dto.MessageResponse, error)

	ToggleStatus(ctx context.Context, conversationID, status string) (*dto.ToggleStatusResponse, error)
	AssignConversation(ctx context.Context, conversationID string, req *dto.AssignmentRequest) (*dto.AssignmentResponse, error)

	GetContact(ctx context.Context, contactID string) (*dto.Contact, error)
	UpdateContact(ctx context.Context, contactID string, req *dto.UpdateContactRequest) (*dto.Contact, error)

	CreateAgentBot(ctx context.Context, req *dto.CreateAgentBotRequest) (*dto.AgentBot, error)
	DeleteAgentBot(ctx context.Context, agentBotID int) error
	AssignAgentBot(ctx context.Context, inboxID int, agentBotID *int) error
	ShowInboxAgentBot(ctx context.Context, inboxID int) (*dto.AgentBot, error)
}

// Media is a downloaded file; the caller must close Body
type Media struct {
	Body        io.ReadCloser
	ContentType string
}

// MediaFetcher downloads media referenced by bot messages
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (*Media, error)
}

// URLShortener shortens long download links for channels that cannot attach files
type URLShortener interface {
	// Shorten never fails; it returns the original URL when shortening is not possible
	Shorten(ctx context.Context, url string) string
}

// EventPublisher fans inbound bot events out to the bot runtime
type EventPublisher interface {
	PublishIncoming(ctx context.Context, event *domain.IncomingEvent) error
}
