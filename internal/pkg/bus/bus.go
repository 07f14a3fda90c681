// Package bus wraps the AMQP connection for both messaging styles this
// service uses: fire-and-forget domain events on a topic exchange and
// correlation-keyed request/reply with the inventory service.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds the broker settings.
type Config struct {
	URL      string
	Exchange string
}

// Bus owns one connection and one channel. Channel operations are issued
// from the wiring goroutine at startup; publishing afterwards is safe
// because amqp091 serializes writes per channel.
type Bus struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string

	// replyQueue is the exclusive server-named queue inventory responses
	// come back on.
	replyQueue string
}

// Connect dials the broker with retry and declares the topic exchange plus
// the exclusive reply queue.
func Connect(cfg Config) (*Bus, error) {
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("bus: exchange name cannot be empty")
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 0; attempt < 5; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		wait := time.Duration(attempt*attempt)*time.Second + time.Second
		slog.Warn("broker not reachable, retrying", "wait", wait, "error", err)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: connect after retries: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("bus: declare exchange %s: %w", cfg.Exchange, err)
	}

	reply, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("bus: declare reply queue: %w", err)
	}

	return &Bus{
		conn:       conn,
		channel:    channel,
		exchange:   cfg.Exchange,
		replyQueue: reply.Name,
	}, nil
}

// Close tears down the channel and the connection.
func (b *Bus) Close() error {
	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			return err
		}
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// PublishEvent marshals the event and publishes it persistently under the
// routing key.
func (b *Bus) PublishEvent(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: marshal event for %s: %w", routingKey, err)
	}

	err = b.channel.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", routingKey, err)
	}
	return nil
}

// PublishRequest sends a request expecting a correlated reply on the
// bus's reply queue. Requests are transient: if the broker restarts the
// waiting side times out and the caller retries.
func (b *Bus) PublishRequest(ctx context.Context, routingKey, correlationID string, body []byte) error {
	err := b.channel.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       b.replyQueue,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish request %s: %w", routingKey, err)
	}
	return nil
}

// ConsumeReplies drains the reply queue into handler. Replies are auto-acked:
// a reply that cannot be matched is dropped, never redelivered, because the
// requester has already moved on.
func (b *Bus) ConsumeReplies(handler func(body []byte) error) error {
	msgs, err := b.channel.Consume(b.replyQueue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: consume replies: %w", err)
	}

	go func() {
		for msg := range msgs {
			if err := handler(msg.Body); err != nil {
				slog.Warn("dropped reply", "error", err)
			}
		}
	}()
	return nil
}

// Consume binds a durable queue to the given routing keys and feeds
// deliveries to handler one at a time. A handler error nacks with requeue.
func (b *Bus) Consume(queueName string, routingKeys []string, handler func(ctx context.Context, routingKey string, body []byte) error) error {
	q, err := b.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", queueName, err)
	}
	for _, key := range routingKeys {
		if err := b.channel.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bus: bind %s to %s: %w", queueName, key, err)
		}
	}
	if err := b.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("bus: set qos: %w", err)
	}

	msgs, err := b.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: consume %s: %w", queueName, err)
	}

	go func() {
		for msg := range msgs {
			if err := handler(context.Background(), msg.RoutingKey, msg.Body); err != nil {
				slog.Error("message handling failed, requeueing",
					"queue", queueName, "routing_key", msg.RoutingKey, "error", err)
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}()
	return nil
}
