package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType constants: the closed set of bot message variants
const (
	MessageTypeText     = "text"
	MessageTypeMarkdown = "markdown"
	MessageTypeChoice   = "choice"
	MessageTypeDropdown = "dropdown"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeFile     = "file"
	MessageTypeCard     = "card"
	MessageTypeCards    = "cards" // alias used by older bot builds
	MessageTypeCarousel = "carousel"
	MessageTypeLocation = "location"
	MessageTypeBloc     = "bloc"
)

// OutgoingMessage is a bot message waiting to be rendered for Chatwoot.
// Payload stays raw until the dispatcher knows which variant to decode.
type OutgoingMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodePayload unmarshals the raw payload into dst
func (m OutgoingMessage) DecodePayload(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrInvalidInput, m.Type)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrInvalidInput, m.Type, err)
	}
	return nil
}

type TextPayload struct {
	Text string `json:"text"`
}

type MarkdownPayload struct {
	Markdown string `json:"markdown"`
	Text     string `json:"text,omitempty"`
}

// ChoiceOption is shared by choice and dropdown
type ChoiceOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ChoicePayload covers both choice and dropdown messages
type ChoicePayload struct {
	Text    string         `json:"text"`
	Options []ChoiceOption `json:"options"`
}

// MediaPayload covers image, video, audio and file. Only the URL field
// matching the message type is expected to be set.
type MediaPayload struct {
	ImageURL string `json:"imageUrl,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
	Title    string `json:"title,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// URLFor returns the media URL for the given media message type
func (p MediaPayload) URLFor(mediaType string) string {
	switch mediaType {
	case MessageTypeImage:
		return p.ImageURL
	case MessageTypeVideo:
		return p.VideoURL
	case MessageTypeAudio:
		return p.AudioURL
	case MessageTypeFile:
		return p.FileURL
	}
	return ""
}

// Card action kinds
const (
	CardActionURL      = "url"
	CardActionPostback = "postback"
	CardActionSay      = "say"
)

type CardAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	Value  string `json:"value"`
}

type CardPayload struct {
	Title    string       `json:"title"`
	Subtitle string       `json:"subtitle,omitempty"`
	ImageURL string       `json:"imageUrl,omitempty"`
	Actions  []CardAction `json:"actions"`
}

type CarouselPayload struct {
	Items []CardPayload `json:"items"`
}

// LocationPayload uses pointers so that a 0 coordinate is not mistaken for a missing one
type LocationPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address,omitempty"`
	Title     string   `json:"title,omitempty"`
}

// BlocPayload is an ordered group of messages sent one after another
type BlocPayload struct {
	Items []OutgoingMessage `json:"items"`
}

// IsMediaType reports whether the message type needs an attachment upload
func IsMediaType(t string) bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// IsKnownType reports whether t belongs to the closed set of bot message types
func IsKnownType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeMarkdown, MessageTypeChoice, MessageTypeDropdown,
		MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile,
		MessageTypeCard, MessageTypeCards, MessageTypeCarousel, MessageTypeLocation, MessageTypeBloc:
		return true
	}
	return false
}
