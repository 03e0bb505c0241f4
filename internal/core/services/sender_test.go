package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatwoot-relay/internal/adapters/dto"
	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
)

type senderMocks struct {
	chatwoot      *MockChatwoot
	media         *MockMediaFetcher
	shortener     *MockShortener
	conversations *MockConversationRepository
	messages      *MockMessageRepository
	state         *MockStateRepository
}

func createTestSender(platform string) (*Sender, *senderMocks) {
	m := &senderMocks{
		chatwoot:      new(MockChatwoot),
		media:         new(MockMediaFetcher),
		shortener:     new(MockShortener),
		conversations: new(MockConversationRepository),
		messages:      new(MockMessageRepository),
		state:         new(MockStateRepository),
	}
	m.conversations.On("GetConversation", mock.Anything, "conv-1").Return(&domain.Conversation{
		ID:   "conv-1",
		Tags: domain.Tags{domain.TagChatwootID: "321", domain.TagPlatform: platform},
	}, nil)
	m.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(nil).Maybe()

	s := NewSender(m.chatwoot, m.media, m.shortener, m.conversations, m.messages, m.state, SenderConfig{
		BotToken:         "bot-token",
		FileLinkTemplate: "Download: %s",
	})
	return s, m
}

func outgoing(msgType string, payload any) OutgoingRequest {
	raw, _ := json.Marshal(payload)
	return OutgoingRequest{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Message:        domain.OutgoingMessage{Type: msgType, Payload: raw},
	}
}

// captureMessage records the JSON body the sender posted
func captureMessage(m *senderMocks, id string) *dto.MessageRequest {
	got := &dto.MessageRequest{}
	m.chatwoot.On("CreateMessage", mock.Anything, "bot-token", "321", mock.AnythingOfType("*dto.MessageRequest")).
		Run(func(args mock.Arguments) { *got = *args.Get(3).(*dto.MessageRequest) }).
		Return(&dto.MessageResponse{ID: dto.FlexibleID(id)}, nil).Once()
	return got
}

func TestSendOutgoing_Text(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)
	got := captureMessage(m, "900")

	tags, err := s.SendOutgoing(context.Background(), outgoing("text", domain.TextPayload{Text: "Hola"}))

	require.NoError(t, err)
	assert.Equal(t, domain.Tags{domain.TagChatwootID: "900"}, tags)
	assert.Equal(t, "Hola", got.Content)
	assert.Equal(t, "outgoing", got.MessageType)
	assert.False(t, got.Private)
	assert.Empty(t, got.ContentType)

	m.messages.AssertCalled(t, "CreateMessage", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.Direction == domain.DirectionOutgoing && msg.Tags.Get(domain.TagChatwootID) == "900"
	}))
}

func TestSendOutgoing_Markdown(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)
	got := captureMessage(m, "901")

	_, err := s.SendOutgoing(context.Background(), outgoing("markdown", domain.MarkdownPayload{Markdown: "**bold**"}))

	require.NoError(t, err)
	assert.Equal(t, "**bold**", got.Content)
}

func TestSendOutgoing_Choice(t *testing.T) {
	payload := domain.ChoicePayload{
		Text: "Pick one",
		Options: []domain.ChoiceOption{
			{Label: "Sales", Value: "sales"},
			{Label: "Support", Value: "support"},
		},
	}
	wantAttrs := dto.InputSelectAttributes{Items: []dto.InputSelectItem{
		{Title: "Sales", Value: "sales"},
		{Title: "Support", Value: "support"},
	}}

	t.Run("whatsapp", func(t *testing.T) {
		s, m := createTestSender(domain.PlatformWhatsApp)
		got := captureMessage(m, "1")

		_, err := s.SendOutgoing(context.Background(), outgoing("choice", payload))

		require.NoError(t, err)
		assert.Equal(t, "Pick one", got.Content)
		assert.Equal(t, "input_select", got.ContentType)
		assert.Equal(t, wantAttrs, got.ContentAttributes)
	})

	t.Run("facebook page dropdown lists labels", func(t *testing.T) {
		s, m := createTestSender(domain.PlatformFacebookPage)
		got := captureMessage(m, "1")

		_, err := s.SendOutgoing(context.Background(), outgoing("dropdown", payload))

		require.NoError(t, err)
		assert.Equal(t, "Pick one\nSales\nSupport", got.Content)
		assert.Equal(t, "input_select", got.ContentType)
		assert.Equal(t, wantAttrs, got.ContentAttributes)
	})
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestSendOutgoing_ImageUpload(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)
	body := &closeTracker{Reader: strings.NewReader("JPEGDATA")}
	m.media.On("Fetch", mock.Anything, "https://cdn.example.com/cat.jpg").
		Return(&ports.Media{Body: body, ContentType: "image/jpeg"}, nil)
	m.chatwoot.On("CreateAttachmentMessage", mock.Anything, "bot-token", "321", mock.MatchedBy(func(att *ports.Attachment) bool {
		return att.FileName == "media" &&
			att.ContentType == "image/jpeg" &&
			att.FileType == "image" &&
			att.Content == "a cat"
	})).Return(&dto.MessageResponse{ID: "77"}, nil)

	tags, err := s.SendOutgoing(context.Background(), outgoing("image", domain.MediaPayload{
		ImageURL: "https://cdn.example.com/cat.jpg",
		Caption:  "a cat",
	}))

	require.NoError(t, err)
	assert.Equal(t, "77", tags.Get(domain.TagChatwootID))
	assert.True(t, body.closed)
	m.chatwoot.AssertExpectations(t)
}

func TestSendOutgoing_MediaMissingURL(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)

	_, err := s.SendOutgoing(context.Background(), outgoing("video", domain.MediaPayload{ImageURL: "https://x/y.png"}))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "Error sending message to Chatwoot: ")
	assert.Contains(t, err.Error(), "media URL is missing for type: video")
	m.media.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestSendOutgoing_FileOnFacebookPageSendsShortLink(t *testing.T) {
	s, m := createTestSender(domain.PlatformFacebookPage)
	m.shortener.On("Shorten", mock.Anything, "https://files.example.com/report.pdf").Return("https://is.gd/abc")
	got := captureMessage(m, "5")

	_, err := s.SendOutgoing(context.Background(), outgoing("file", domain.MediaPayload{
		FileURL: "https://files.example.com/report.pdf",
		Title:   "report.pdf",
	}))

	require.NoError(t, err)
	assert.Equal(t, "Download: https://is.gd/abc", got.Content)
	m.media.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	m.chatwoot.AssertNotCalled(t, "CreateAttachmentMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendOutgoing_Card(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)
	got := captureMessage(m, "9")

	_, err := s.SendOutgoing(context.Background(), outgoing("card", domain.CardPayload{
		ImageURL: "https://cdn/p.png",
		Actions: []domain.CardAction{
			{Action: "url", Label: "Open", Value: "https://shop"},
			{Action: "postback", Label: "Buy", Value: "BUY_1"},
			{Action: "say", Label: "Hi", Value: "hello"},
		},
	}))

	require.NoError(t, err)
	assert.Equal(t, "card message", got.Content)
	assert.Equal(t, "cards", got.ContentType)
	assert.Equal(t, dto.CardsAttributes{Items: []dto.CardItem{{
		MediaURL:    "https://cdn/p.png",
		Title:       "No title provided",
		Description: "No description provided",
		Actions: []dto.CardItemAction{
			{Type: "link", Text: "Open", URI: "https://shop"},
			{Type: "postback", Text: "Buy", Payload: "BUY_1"},
			{Type: "postback", Text: "Hi", Payload: "hello"},
		},
	}}}, got.ContentAttributes)
}

func TestSendOutgoing_Carousel(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)
	got := captureMessage(m, "10")

	_, err := s.SendOutgoing(context.Background(), outgoing("carousel", domain.CarouselPayload{Items: []domain.CardPayload{
		{Title: "A", Subtitle: "first"},
		{Title: "B", Subtitle: "second"},
	}}))

	require.NoError(t, err)
	assert.Equal(t, "carousel message", got.Content)
	assert.Equal(t, "cards", got.ContentType)
	attrs := got.ContentAttributes.(dto.CardsAttributes)
	require.Len(t, attrs.Items, 2)
	assert.Equal(t, "B", attrs.Items[1].Title)
	assert.Equal(t, "second", attrs.Items[1].Description)
}

func TestSendOutgoing_Location(t *testing.T) {
	lat, lng := 19.4326, -99.1332

	t.Run("with defaults", func(t *testing.T) {
		s, m := createTestSender(domain.PlatformWhatsApp)
		got := captureMessage(m, "11")

		_, err := s.SendOutgoing(context.Background(), outgoing("location", domain.LocationPayload{Latitude: &lat, Longitude: &lng}))

		require.NoError(t, err)
		assert.Equal(t, "Location\nNo address provided\n[View on Google Maps](https://www.google.com/maps?q=19.4326,-99.1332)", got.Content)
	})

	t.Run("zero coordinates are valid", func(t *testing.T) {
		s, m := createTestSender(domain.PlatformWhatsApp)
		got := captureMessage(m, "12")
		zero := 0.0

		_, err := s.SendOutgoing(context.Background(), outgoing("location", domain.LocationPayload{
			Latitude: &zero, Longitude: &zero, Title: "Null Island", Address: "Atlantic",
		}))

		require.NoError(t, err)
		assert.Equal(t, "Null Island\nAtlantic\n[View on Google Maps](https://www.google.com/maps?q=0,0)", got.Content)
	})

	t.Run("missing longitude", func(t *testing.T) {
		s, _ := createTestSender(domain.PlatformWhatsApp)

		_, err := s.SendOutgoing(context.Background(), outgoing("location", domain.LocationPayload{Latitude: &lat}))

		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSendOutgoing_BlocStopsOnFirstFailure(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)
	m.chatwoot.On("CreateMessage", mock.Anything, "bot-token", "321", mock.MatchedBy(func(r *dto.MessageRequest) bool {
		return r.Content == "one"
	})).Return(&dto.MessageResponse{ID: "1"}, nil).Once()
	m.chatwoot.On("CreateMessage", mock.Anything, "bot-token", "321", mock.MatchedBy(func(r *dto.MessageRequest) bool {
		return r.Content == "two"
	})).Return(nil, errors.New("boom")).Once()

	item := func(text string) domain.OutgoingMessage {
		raw, _ := json.Marshal(domain.TextPayload{Text: text})
		return domain.OutgoingMessage{Type: "text", Payload: raw}
	}
	_, err := s.SendOutgoing(context.Background(), outgoing("bloc", domain.BlocPayload{Items: []domain.OutgoingMessage{
		item("one"), item("two"), item("three"),
	}}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bloc item 1 (text): boom")
	m.chatwoot.AssertNumberOfCalls(t, "CreateMessage", 2)
	m.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendOutgoing_UnsupportedType(t *testing.T) {
	s, _ := createTestSender(domain.PlatformWhatsApp)

	_, err := s.SendOutgoing(context.Background(), outgoing("hologram", map[string]string{}))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedMessage)
	assert.Equal(t, "Error sending message to Chatwoot: Unsupported message type: hologram", err.Error())

	types := sentMessageTypeLabels(t)
	assert.Contains(t, types, "unsupported")
	assert.NotContains(t, types, "hologram")
}

// sentMessageTypeLabels lists the type labels currently exported on messages_sent_total
func sentMessageTypeLabels(t *testing.T) []string {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var types []string
	for _, mf := range families {
		if mf.GetName() != "chatwoot_relay_messages_sent_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "type" {
					types = append(types, lp.GetValue())
				}
			}
		}
	}
	return types
}

func TestSendOutgoing_ConversationWithoutChatwootID(t *testing.T) {
	s, m := createTestSender(domain.PlatformWhatsApp)
	m.conversations.On("GetConversation", mock.Anything, "conv-2").Return(&domain.Conversation{ID: "conv-2", Tags: domain.Tags{}}, nil)

	req := outgoing("text", domain.TextPayload{Text: "x"})
	req.ConversationID = "conv-2"
	_, err := s.SendOutgoing(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	m.chatwoot.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendOutgoing_TokenFromState(t *testing.T) {
	_, m := createTestSender(domain.PlatformWhatsApp)
	s := NewSender(m.chatwoot, m.media, m.shortener, m.conversations, m.messages, m.state, SenderConfig{})
	m.state.On("GetState", mock.Anything).Return(&domain.IntegrationState{AgentBotID: 3, AgentBotAPIKey: "stored-token"}, nil)
	m.chatwoot.On("CreateMessage", mock.Anything, "stored-token", "321", mock.Anything).Return(&dto.MessageResponse{ID: "1"}, nil)

	_, err := s.SendOutgoing(context.Background(), outgoing("text", domain.TextPayload{Text: "x"}))

	require.NoError(t, err)
	m.chatwoot.AssertExpectations(t)
}

func TestSendOutgoing_NotRegistered(t *testing.T) {
	_, m := createTestSender(domain.PlatformWhatsApp)
	s := NewSender(m.chatwoot, m.media, m.shortener, m.conversations, m.messages, m.state, SenderConfig{})
	m.state.On("GetState", mock.Anything).Return(nil, domain.ErrNotRegistered)

	_, err := s.SendOutgoing(context.Background(), outgoing("text", domain.TextPayload{Text: "x"}))

	assert.ErrorIs(t, err, domain.ErrNotRegistered)
}

func TestMessageTypeLabel(t *testing.T) {
	for _, known := range []string{"text", "markdown", "choice", "dropdown", "image", "video", "audio", "file", "card", "cards", "carousel", "location", "bloc"} {
		assert.Equal(t, known, messageTypeLabel(known))
	}
	assert.Equal(t, "unsupported", messageTypeLabel("hologram"))
	assert.Equal(t, "unsupported", messageTypeLabel(""))
	assert.Equal(t, "unsupported", messageTypeLabel(strings.Repeat("x", 512)))
}
