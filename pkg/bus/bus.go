// Package bus links the pipeline stages over a RabbitMQ topic exchange.
//
// Each event type publishes under its own routing key, so the Analyzer
// binds message.enriched, the Executor binds message.classified.*, and
// alert consumers bind alert.*. Publishes run in confirm mode: an event
// counts as durably accepted only once the broker acks it, which is what
// lets the Monitor delete source messages afterwards.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
)

// Routing keys per event detail type.
const (
	KeyMessageEnriched     = "message.enriched"
	KeyClassifiedTransient = "message.classified.transient"
	KeyClassifiedPoison    = "message.classified.poison"
	KeyClassifiedSystemic  = "message.classified.systemic"
	KeyClassifiedAll       = "message.classified.*"
	KeyPoisonPillAlert     = "alert.poison_pill"

	keyUnrouted = "event.unrouted"
)

// RoutingKey maps an event detail type onto the exchange's routing scheme.
func RoutingKey(detailType string) string {
	switch detailType {
	case models.DetailTypeMessageEnriched:
		return KeyMessageEnriched
	case models.DetailTypeTransient:
		return KeyClassifiedTransient
	case models.DetailTypePoisonPill:
		return KeyClassifiedPoison
	case models.DetailTypeSystemic:
		return KeyClassifiedSystemic
	case models.DetailTypePoisonPillAlert:
		return KeyPoisonPillAlert
	default:
		return keyUnrouted
	}
}

// Bus is a broker connection with one confirm-mode publisher channel.
type Bus struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	exchange string
	timeout  time.Duration

	// mu serializes publishes; the confirm channel is not safe for
	// concurrent publishing.
	mu sync.Mutex
}

// Connect dials the broker, declares the topic exchange and switches the
// publisher channel into confirm mode.
func Connect(cfg *config.BusConfig) (*Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial bus: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	return &Bus{
		conn:     conn,
		pubCh:    ch,
		exchange: cfg.Exchange,
		timeout:  cfg.PublishTimeout(),
	}, nil
}

// Publish sends an event and waits for the broker's confirm.
func (b *Bus) Publish(ctx context.Context, event *models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.mu.Lock()
	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, b.exchange, RoutingKey(event.DetailType), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.Time,
			Type:         event.DetailType,
			Body:         body,
		})
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.DetailType, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", event.DetailType, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected %s event %s", event.DetailType, event.ID)
	}
	return nil
}

// Ping reports whether the broker connection is alive.
func (b *Bus) Ping() error {
	if b.conn.IsClosed() {
		return errors.New("bus connection closed")
	}
	return nil
}

// NotifyClose relays broker-side connection loss so the service can exit
// and restart clean rather than run without a bus.
func (b *Bus) NotifyClose() <-chan *amqp.Error {
	return b.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close shuts the publisher channel and the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = b.conn.Close()
		return fmt.Errorf("close publisher channel: %w", err)
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close bus connection: %w", err)
	}
	return nil
}
