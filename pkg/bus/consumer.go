package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/recoverloop/redrive/pkg/models"
)

// Handler processes one event. Returning an error requeues the delivery
// for another attempt.
type Handler func(ctx context.Context, event *models.Event) error

// Subscription is a group of workers consuming one queue.
type Subscription struct {
	queue   string
	handler Handler
	ch      *amqp.Channel
	wg      sync.WaitGroup
}

// Subscribe declares a durable queue, binds it to the routing keys and
// starts workers handling deliveries until the context is cancelled.
// Prefetch bounds the unsettled deliveries across the channel; it never
// drops below the worker count or the workers would starve.
func (b *Bus) Subscribe(ctx context.Context, queue string, bindingKeys []string, workers, prefetch int, handler Handler) (*Subscription, error) {
	if workers <= 0 {
		workers = 1
	}
	if prefetch < workers {
		prefetch = workers
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel for %s: %w", queue, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range bindingKeys {
		if err := ch.QueueBind(queue, key, b.exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("bind %s to %s: %w", queue, key, err)
		}
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set QoS on %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	sub := &Subscription{queue: queue, handler: handler, ch: ch}
	for i := 0; i < workers; i++ {
		sub.wg.Add(1)
		go sub.work(ctx, deliveries)
	}

	// Closing the channel ends the deliveries range in every worker.
	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()

	slog.Info("Subscribed to bus queue", "queue", queue, "binding_keys", bindingKeys, "workers", workers)
	return sub, nil
}

func (s *Subscription) work(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer s.wg.Done()
	for d := range deliveries {
		s.dispatch(ctx, d)
	}
}

// dispatch decodes and handles a delivery, then settles it: success acks,
// handler errors requeue, an unreadable envelope is dropped outright
// since no number of redeliveries will fix it.
func (s *Subscription) dispatch(ctx context.Context, d amqp.Delivery) {
	var event models.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		slog.Error("Dropping unreadable bus event", "queue", s.queue, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := s.handler(ctx, &event); err != nil {
		slog.Warn("Event handling failed, requeueing",
			"queue", s.queue,
			"detail_type", event.DetailType,
			"event_id", event.ID,
			"redelivered", d.Redelivered,
			"error", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Wait blocks until every worker has drained after the subscription's
// context was cancelled.
func (s *Subscription) Wait() {
	s.wg.Wait()
}
