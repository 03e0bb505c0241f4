package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
	"chatwoot-relay/internal/metrics"
)

// Chatwoot message_type for everything the bot sends
const outgoingMessageType = "outgoing"

// SendError wraps any failure while relaying an outgoing message
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("Error sending message to Chatwoot: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// UnsupportedTypeError is returned for message types outside the closed set
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return "Unsupported message type: " + e.Type
}

func (e *UnsupportedTypeError) Is(target error) bool {
	return target == domain.ErrUnsupportedMessage
}

// OutgoingRequest is one bot message addressed to a bot conversation
type OutgoingRequest struct {
	ConversationID string
	UserID         string
	Message        domain.OutgoingMessage
}

// SenderConfig holds rendering settings
type SenderConfig struct {
	BotToken         string // preferred over the token stored at register
	FileLinkTemplate string // %s receives the download URL
}

// Sender renders bot messages into Chatwoot messages
type Sender struct {
	chatwoot      ports.ChatwootGateway
	media         ports.MediaFetcher
	shortener     ports.URLShortener
	conversations ports.ConversationRepository
	messages      ports.MessageRepository
	state         ports.StateRepository
	cfg           SenderConfig
}

func NewSender(
	chatwoot ports.ChatwootGateway,
	media ports.MediaFetcher,
	shortener ports.URLShortener,
	conversations ports.ConversationRepository,
	messages ports.MessageRepository,
	state ports.StateRepository,
	cfg SenderConfig,
) *Sender {
	return &Sender{
		chatwoot:      chatwoot,
		media:         media,
		shortener:     shortener,
		conversations: conversations,
		messages:      messages,
		state:         state,
		cfg:           cfg,
	}
}

// messageTypeLabel keeps the metrics label set bounded; the type comes from the request body
func messageTypeLabel(t string) string {
	if domain.IsKnownType(t) {
		return t
	}
	return "unsupported"
}

// target is the resolved Chatwoot destination of one outgoing call
type target struct {
	token          string
	conversationID string
	platform       string
}

// SendOutgoing relays the message and returns the tags recorded on the bot message
func (s *Sender) SendOutgoing(ctx context.Context, req OutgoingRequest) (tags domain.Tags, err error) {
	defer func() {
		metrics.RecordMessageSent(messageTypeLabel(req.Message.Type), err)
	}()

	conv, err := s.conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, &SendError{Err: fmt.Errorf("load conversation %s: %w", req.ConversationID, err)}
	}
	chatwootID := conv.Tags.Get(domain.TagChatwootID)
	if chatwootID == "" {
		return nil, &SendError{Err: fmt.Errorf("%w: conversation %s has no %s tag", domain.ErrInvalidInput, conv.ID, domain.TagChatwootID)}
	}

	token, err := s.botToken(ctx)
	if err != nil {
		return nil, &SendError{Err: err}
	}

	t := target{
		token:          token,
		conversationID: chatwootID,
		platform:       conv.Tags.Get(domain.TagPlatform),
	}
	ids, err := s.dispatch(ctx, t, req.Message, false)
	if err != nil {
		slog.Error("Failed to send message to Chatwoot",
			"error", err,
			"type", req.Message.Type,
			"chatwoot_conversation_id", chatwootID,
		)
		return nil, &SendError{Err: err}
	}

	tags = domain.Tags{}
	if len(ids) > 0 {
		tags[domain.TagChatwootID] = ids[len(ids)-1]
	}

	record := &domain.Message{
		ConversationID: conv.ID,
		UserID:         req.UserID,
		Direction:      domain.DirectionOutgoing,
		Type:           req.Message.Type,
		Payload:        req.Message.Payload,
		Tags:           tags,
		CreatedAt:      time.Now(),
	}
	if err := s.messages.CreateMessage(ctx, record); err != nil {
		// Chatwoot already has the message
		slog.Warn("Failed to record outgoing message", "error", err, "conversation_id", conv.ID)
	}

	slog.Info("Message sent to Chatwoot",
		"type", req.Message.Type,
		"conversation_id", conv.ID,
		"chatwoot_conversation_id", chatwootID,
		"chatwoot_message_ids", ids,
	)
	return tags, nil
}

func (s *Sender) botToken(ctx context.Context) (string, error) {
	if s.cfg.BotToken != "" {
		return s.cfg.BotToken, nil
	}
	st, err := s.state.GetState(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			return "", err
		}
		return "", fmt.Errorf("load integration state: %w", err)
	}
	if st.AgentBotAPIKey == "" {
		return "", domain.ErrNotRegistered
	}
	return st.AgentBotAPIKey, nil
}

// dispatch sends msg and returns the ids of the Chatwoot messages it created
func (s *Sender) dispatch(ctx context.Context, t target, msg domain.OutgoingMessage, inBloc bool) ([]string, error) {
	switch msg.Type {
	case domain.MessageTypeText:
		var p domain.TextPayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		return s.post(ctx, t, &dto.MessageRequest{Content: p.Text})

	case domain.MessageTypeMarkdown:
		var p domain.MarkdownPayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		content := p.Markdown
		if content == "" {
			content = p.Text
		}
		return s.post(ctx, t, &dto.MessageRequest{Content: content})

	case domain.MessageTypeChoice, domain.MessageTypeDropdown:
		var p domain.ChoicePayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		return s.post(ctx, t, choiceRequest(p, t.platform))

	case domain.MessageTypeImage, domain.MessageTypeVideo, domain.MessageTypeAudio, domain.MessageTypeFile:
		var p domain.MediaPayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		return s.sendMedia(ctx, t, msg.Type, p)

	case domain.MessageTypeCard, domain.MessageTypeCards:
		var p domain.CardPayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		return s.post(ctx, t, &dto.MessageRequest{
			Content:           "card message",
			ContentType:       dto.ContentTypeCards,
			ContentAttributes: dto.CardsAttributes{Items: []dto.CardItem{cardItem(p)}},
		})

	case domain.MessageTypeCarousel:
		var p domain.CarouselPayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		items := make([]dto.CardItem, 0, len(p.Items))
		for _, card := range p.Items {
			items = append(items, cardItem(card))
		}
		return s.post(ctx, t, &dto.MessageRequest{
			Content:           "carousel message",
			ContentType:       dto.ContentTypeCards,
			ContentAttributes: dto.CardsAttributes{Items: items},
		})

	case domain.MessageTypeLocation:
		var p domain.LocationPayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		content, err := locationContent(p)
		if err != nil {
			return nil, err
		}
		return s.post(ctx, t, &dto.MessageRequest{Content: content})

	case domain.MessageTypeBloc:
		if inBloc {
			return nil, fmt.Errorf("%w: bloc items cannot be blocs", domain.ErrInvalidInput)
		}
		var p domain.BlocPayload
		if err := msg.DecodePayload(&p); err != nil {
			return nil, err
		}
		var ids []string
		for i, item := range p.Items {
			itemIDs, err := s.dispatch(ctx, t, item, true)
			if err != nil {
				return ids, fmt.Errorf("bloc item %d (%s): %w", i, item.Type, err)
			}
			ids = append(ids, itemIDs...)
		}
		return ids, nil
	}

	return nil, &UnsupportedTypeError{Type: msg.Type}
}

func (s *Sender) post(ctx context.Context, t target, req *dto.MessageRequest) ([]string, error) {
	req.MessageType = outgoingMessageType
	req.Private = false
	resp, err := s.chatwoot.CreateMessage(ctx, t.token, t.conversationID, req)
	if err != nil {
		return nil, err
	}
	return []string{resp.ID.String()}, nil
}

// sendMedia uploads the media as an attachment. Facebook pages cannot
// receive arbitrary files, so files there become a short download link.
func (s *Sender) sendMedia(ctx context.Context, t target, mediaType string, p domain.MediaPayload) ([]string, error) {
	mediaURL := p.URLFor(mediaType)
	if mediaURL == "" {
		return nil, fmt.Errorf("%w: media URL is missing for type: %s", domain.ErrInvalidInput, mediaType)
	}

	if t.platform == domain.PlatformFacebookPage && mediaType == domain.MessageTypeFile {
		link := s.shortener.Shorten(ctx, mediaURL)
		return s.post(ctx, t, &dto.MessageRequest{Content: fileLinkText(s.cfg.FileLinkTemplate, link)})
	}

	media, err := s.media.Fetch(ctx, mediaURL)
	if err != nil {
		return nil, fmt.Errorf("error sending %s message: %w", mediaType, err)
	}
	defer media.Body.Close()

	fileName := p.Title
	if fileName == "" {
		fileName = "media"
	}
	resp, err := s.chatwoot.CreateAttachmentMessage(ctx, t.token, t.conversationID, &ports.Attachment{
		Content:     p.Caption,
		FileName:    fileName,
		ContentType: media.ContentType,
		FileType:    mediaType,
		Body:        media.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("error sending %s message: %w", mediaType, err)
	}
	return []string{resp.ID.String()}, nil
}

func choiceRequest(p domain.ChoicePayload, platform string) *dto.MessageRequest {
	items := make([]dto.InputSelectItem, 0, len(p.Options))
	labels := make([]string, 0, len(p.Options))
	for _, opt := range p.Options {
		items = append(items, dto.InputSelectItem{Title: opt.Label, Value: opt.Value})
		labels = append(labels, opt.Label)
	}

	content := p.Text
	if platform == domain.PlatformFacebookPage {
		// Messenger does not render input_select, so the options are listed in the text too
		content = p.Text + "\n" + strings.Join(labels, "\n")
	}
	return &dto.MessageRequest{
		Content:           content,
		ContentType:       dto.ContentTypeInputSelect,
		ContentAttributes: dto.InputSelectAttributes{Items: items},
	}
}

func cardItem(p domain.CardPayload) dto.CardItem {
	title := p.Title
	if title == "" {
		title = "No title provided"
	}
	description := p.Subtitle
	if description == "" {
		description = "No description provided"
	}

	actions := make([]dto.CardItemAction, 0, len(p.Actions))
	for _, a := range p.Actions {
		switch a.Action {
		case domain.CardActionPostback, domain.CardActionSay:
			actions = append(actions, dto.CardItemAction{Type: "postback", Text: a.Label, Payload: a.Value})
		default:
			actions = append(actions, dto.CardItemAction{Type: "link", Text: a.Label, URI: a.Value})
		}
	}
	return dto.CardItem{
		MediaURL:    p.ImageURL,
		Title:       title,
		Description: description,
		Actions:     actions,
	}
}

func locationContent(p domain.LocationPayload) (string, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return "", fmt.Errorf("%w: latitude and longitude are required to generate a Google Maps link", domain.ErrInvalidInput)
	}
	lat := strconv.FormatFloat(*p.Latitude, 'f', -1, 64)
	lng := strconv.FormatFloat(*p.Longitude, 'f', -1, 64)

	name := p.Title
	if name == "" {
		name = "Location"
	}
	address := p.Address
	if address == "" {
		address = "No address provided"
	}
	return fmt.Sprintf("%s\n%s\n[View on Google Maps](https://www.google.com/maps?q=%s,%s)", name, address, lat, lng), nil
}

func fileLinkText(template, link string) string {
	if !strings.Contains(template, "%s") {
		return strings.TrimSpace(template + " " + link)
	}
	return fmt.Sprintf(template, link)
}
