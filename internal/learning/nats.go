package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/tenant"
)

// DefaultSubject carries conversation-close events.
const DefaultSubject = "sicc.conversation.closed"

// CloseEvent is the payload published when a conversation closes.
type CloseEvent struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
}

// Connect dials NATS with the daemon's reconnection policy.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 5
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = time.Second
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Consumer runs the learning pipeline off conversation-close events.
//
// Delivery is at-least-once: redelivered events reach the extractor, which
// absorbs them through the conversation claim and the candidate dedup
// hash. Nothing here tries to make delivery exactly-once.
type Consumer struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	extractor  *Extractor
	supervisor *PatternSupervisor
	subject    string
	logger     *zap.Logger
}

// NewConsumer creates a consumer over an established connection.
func NewConsumer(nc *nats.Conn, extractor *Extractor, supervisor *PatternSupervisor, subject string, logger *zap.Logger) *Consumer {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		nc:         nc,
		extractor:  extractor,
		supervisor: supervisor,
		subject:    subject,
		logger:     logger,
	}
}

// Start subscribes to the close-event subject. Handler failures are logged
// and dropped; the conversation stays claimable for a later delivery only
// when the claim itself failed.
func (c *Consumer) Start() error {
	sub, err := c.nc.Subscribe(c.subject, func(msg *nats.Msg) {
		if err := c.handle(msg.Data); err != nil {
			c.logger.Error("processing conversation close event", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}
	c.sub = sub
	c.logger.Info("learning consumer started", zap.String("subject", c.subject))
	return nil
}

func (c *Consumer) handle(data []byte) error {
	var event CloseEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decoding close event: %w", err)
	}

	scope, err := tenant.NewScope(event.TenantID)
	if err != nil {
		return fmt.Errorf("close event for invalid tenant %q: %w", event.TenantID, err)
	}
	ctx := tenant.NewContext(context.Background(), scope)

	if err := c.extractor.OnConversationClosed(ctx, event.ConversationID); err != nil {
		return err
	}
	if _, err := c.supervisor.ReviewPending(ctx); err != nil {
		return err
	}
	return nil
}

// Publish emits a close event for consumers of this subject.
func Publish(nc *nats.Conn, subject string, event CloseEvent) error {
	if subject == "" {
		subject = DefaultSubject
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return nc.Publish(subject, data)
}

// Stop drains the subscription.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}
