package domain

import "errors"

var (
	// ErrNotFound is returned when a bot entity or Chatwoot resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks caller mistakes (bad payload, missing tag, bad JSON)
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedMessage is returned for message types outside the closed set
	ErrUnsupportedMessage = errors.New("unsupported message type")

	// ErrNotRegistered means no agent bot token is available for message endpoints
	ErrNotRegistered = errors.New("integration not registered")
)
