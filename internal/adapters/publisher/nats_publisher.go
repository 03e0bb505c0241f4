// Package publisher fans stored inbound messages out to the bot runtime
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"chatwoot-relay/internal/core/domain"
	"chatwoot-relay/internal/core/ports"
)

const defaultSubject = "bot.incoming"

var _ ports.EventPublisher = (*NATSPublisher)(nil)

// NATSPublisher publishes IncomingEvents as JSON on {subject}.{platform}
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	URL            string
	Subject        string
	ConnectTimeout time.Duration
}

// NewNATSPublisher connects to NATS; reconnects are retried forever in the background
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("chatwoot-relay"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return newPublisher(conn, cfg.Subject), nil
}

func newPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = defaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// PublishIncoming publishes the event. The Chatwoot message id goes into
// Nats-Msg-Id so JetStream consumers can drop redeliveries.
func (p *NATSPublisher) PublishIncoming(ctx context.Context, event *domain.IncomingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(p.subject, event)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Connected reports the connection state for the status endpoint
func (p *NATSPublisher) Connected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

func buildMessage(base string, event *domain.IncomingEvent) (*nats.Msg, error) {
	if event == nil || event.Conversation == nil || event.Message == nil {
		return nil, fmt.Errorf("%w: incomplete incoming event", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode incoming event: %w", err)
	}

	subject := base
	if platform := event.Conversation.Tags.Get(domain.TagPlatform); platform != "" {
		subject = base + "." + platform
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	if id := event.Message.Tags.Get(domain.TagChatwootID); id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	return msg, nil
}
