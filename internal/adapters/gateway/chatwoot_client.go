// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/ports"
	"chatwoot-relay/internal/metrics"
)

// APIError is the error type of every non-2xx Chatwoot response
type APIError = ports.APIError

// IsStatus reports whether err is an APIError with the given status code
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// ChatwootClient talks to the account-scoped Chatwoot REST API
type ChatwootClient struct {
	httpClient *http.Client
	baseURL    string // {baseUrl}/api/v1/accounts/{accountId}
	userAPIKey string
	limiter    *rate.Limiter
}

// Compile-time interface check
var _ ports.ChatwootGateway = (*ChatwootClient)(nil)

// ChatwootOption customizes the client
type ChatwootOption func(*ChatwootClient)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) ChatwootOption {
	return func(c *ChatwootClient) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second; 0 or less disables it
func WithRateLimit(perSecond float64) ChatwootOption {
	return func(c *ChatwootClient) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewChatwootClient creates a client for one Chatwoot account
func NewChatwootClient(baseURL string, accountID int, userAPIKey string, timeout time.Duration, opts ...ChatwootOption) *ChatwootClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &ChatwootClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    fmt.Sprintf("%s/api/v1/accounts/%d", strings.TrimRight(baseURL, "/"), accountID),
		userAPIKey: userAPIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================================================
// Messages
// ============================================================================

// CreateMessage posts a JSON message to a conversation
func (c *ChatwootClient) CreateMessage(ctx context.Context, token, conversationID string, req *dto.MessageRequest) (*dto.MessageResponse, error) {
	var out dto.MessageResponse
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	if err := c.doJSON(ctx, token, http.MethodPost, path, req, &out); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &out, nil
}

// CreateAttachmentMessage streams the attachment as multipart field attachments[].
// The form is written through a pipe while the request is in flight, so the
// media is never held in memory.
func (c *ChatwootClient) CreateAttachmentMessage(ctx context.Context, token, conversationID string, att *ports.Attachment) (*dto.MessageResponse, error) {
	pr, pw := io.Pipe()
	// unblocks the writer if do returns before the transport consumes the body
	defer pr.Close()

	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAttachmentForm(writer, att))
	}()

	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	var out dto.MessageResponse
	if err := c.do(ctx, token, http.MethodPost, path, writer.FormDataContentType(), pr, &out); err != nil {
		return nil, fmt.Errorf("create attachment message: %w", err)
	}
	return &out, nil
}

func writeAttachmentForm(writer *multipart.Writer, att *ports.Attachment) error {
	fields := [][2]string{
		{"content", att.Content},
		{"message_type", "outgoing"},
		{"file_type", att.FileType},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments[]"; filename=%q`, att.FileName))
	header.Set("Content-Type", att.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create attachment part: %w", err)
	}
	if _, err := io.Copy(part, att.Body); err != nil {
		return fmt.Errorf("copy attachment: %w", err)
	}
	return writer.Close()
}

// ============================================================================
// Conversations
// ============================================================================

// ToggleStatus sets the conversation status (open, resolved, pending)
func (c *ChatwootClient) ToggleStatus(ctx context.Context, conversationID, status string) (*dto.ToggleStatusResponse, error) {
	var out dto.ToggleStatusResponse
	path := fmt.Sprintf("/conversations/%s/toggle_status", conversationID)
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodPost, path, dto.ToggleStatusRequest{Status: status}, &out); err != nil {
		return nil, fmt.Errorf("toggle status: %w", err)
	}
	return &out, nil
}

// AssignConversation assigns the conversation to an agent or a team
func (c *ChatwootClient) AssignConversation(ctx context.Context, conversationID string, req *dto.AssignmentRequest) (*dto.AssignmentResponse, error) {
	var out dto.AssignmentResponse
	path := fmt.Sprintf("/conversations/%s/assignments", conversationID)
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodPost, path, req, &out); err != nil {
		return nil, fmt.Errorf("assign conversation: %w", err)
	}
	return &out, nil
}

// ============================================================================
// Contacts
// ============================================================================

func (c *ChatwootClient) GetContact(ctx context.Context, contactID string) (*dto.Contact, error) {
	var out dto.ContactResponse
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodGet, "/contacts/"+contactID, nil, &out); err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &out.Payload, nil
}

func (c *ChatwootClient) UpdateContact(ctx context.Context, contactID string, req *dto.UpdateContactRequest) (*dto.Contact, error) {
	var out dto.ContactResponse
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodPut, "/contacts/"+contactID, req, &out); err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return &out.Payload, nil
}

// ============================================================================
// Agent bots
// ============================================================================

func (c *ChatwootClient) CreateAgentBot(ctx context.Context, req *dto.CreateAgentBotRequest) (*dto.AgentBot, error) {
	var out dto.AgentBot
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodPost, "/agent_bots", req, &out); err != nil {
		return nil, fmt.Errorf("create agent bot: %w", err)
	}
	return &out, nil
}

func (c *ChatwootClient) DeleteAgentBot(ctx context.Context, agentBotID int) error {
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodDelete, fmt.Sprintf("/agent_bots/%d", agentBotID), nil, nil); err != nil {
		return fmt.Errorf("delete agent bot: %w", err)
	}
	return nil
}

// AssignAgentBot sets the inbox agent bot; a nil id detaches it
func (c *ChatwootClient) AssignAgentBot(ctx context.Context, inboxID int, agentBotID *int) error {
	path := fmt.Sprintf("/inboxes/%d/set_agent_bot", inboxID)
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodPost, path, dto.SetAgentBotRequest{AgentBot: agentBotID}, nil); err != nil {
		return fmt.Errorf("assign agent bot: %w", err)
	}
	return nil
}

func (c *ChatwootClient) ShowInboxAgentBot(ctx context.Context, inboxID int) (*dto.AgentBot, error) {
	var out dto.AgentBot
	if err := c.doJSON(ctx, c.userAPIKey, http.MethodGet, fmt.Sprintf("/inboxes/%d/agent_bot", inboxID), nil, &out); err != nil {
		return nil, fmt.Errorf("show inbox agent bot: %w", err)
	}
	return &out, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (c *ChatwootClient) doJSON(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.do(ctx, token, method, path, "application/json", reader, out)
}

func (c *ChatwootClient) do(ctx context.Context, token, method, path, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api_access_token", token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveChatwootRequest(method, 0, started)
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()
	metrics.ObserveChatwootRequest(method, resp.StatusCode, started)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		var eb dto.ErrorBody
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Message = eb.Message
			if apiErr.Message == "" {
				apiErr.Message = eb.Error
			}
			apiErr.Attributes = eb.Attributes
		}
		slog.Warn("Chatwoot API returned error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"message", apiErr.Message,
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
