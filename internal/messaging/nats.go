// Package messaging provides a NATS client wrapper used to mirror the chat
// client's reconciled events onto a message bus. It handles connection
// lifecycle, subject-based subscriptions, and the chat and selection
// subjects other local tools subscribe to.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/protocol"
)

// NATS subject patterns used by the mirror.
const (
	SubjectChat   = "chat"   // + .<chat_id>
	SubjectClient = "client" // + .<profile>.selection
)

// ChatSubject returns the subject messages of chatID are published on.
func ChatSubject(chatID string) string {
	return SubjectChat + "." + chatID
}

// SelectionSubject returns the subject selection changes of a profile are
// published on.
func SelectionSubject(profile string) string {
	return SubjectClient + "." + profile + ".selection"
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chatclient",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("[nats] disconnected")
			} else {
				log.Info().Msg("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("[nats] reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Debug().Msg("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("[nats] connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Flush waits until the server has processed every published message.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[subject]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeToChat delivers every message mirrored for chatID. Use "*" to
// receive all chats. Undecodable payloads are skipped.
func (c *NATSClient) SubscribeToChat(chatID string, handler func(protocol.Message)) error {
	return c.Subscribe(ChatSubject(chatID), func(msg *nats.Msg) {
		m, err := protocol.ParseStreamMessage(msg.Data)
		if err != nil {
			log.Debug().Err(err).Str("subject", msg.Subject).Msg("[nats] skipping payload")
			return
		}
		handler(m)
	})
}

// UnsubscribeFromChat removes a subscription made with SubscribeToChat.
func (c *NATSClient) UnsubscribeFromChat(chatID string) error {
	return c.unsubscribe(ChatSubject(chatID))
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("[nats] drain")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("[nats] connection drain")
	}

	log.Debug().Msg("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", subject, err)
	}
	return nil
}
