package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/achievetrack/apiserver/config"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient moves achievement events through one queue per channel.
// A delivery whose handler fails is republished with its attempt count
// bumped; after maxAttempts it is parked on "<channel>.dead".
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	// mu serialises use of channel and guards declared.
	mu       sync.Mutex
	declared map[string]struct{}

	durable     bool
	autoDelete  bool
	maxAttempts int
}

// NewRabbitMQClient dials the broker and opens a single channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig, maxAttempts int) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set rabbitmq prefetch: %w", err)
		}
	}

	return &RabbitMQClient{
		conn:        conn,
		channel:     ch,
		declared:    make(map[string]struct{}),
		durable:     cfg.QueueDurable,
		autoDelete:  cfg.QueueAutoDelete,
		maxAttempts: normalizeAttempts(maxAttempts),
	}, nil
}

func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}
	messageID := uuid.NewString()
	if err := r.publish(ctx, channel, messageID, data, attrs); err != nil {
		return "", err
	}
	return messageID, nil
}

func (r *RabbitMQClient) publish(ctx context.Context, queue, messageID string, data []byte, attrs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.declareLocked(queue); err != nil {
		return err
	}

	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}
	mode := amqp.Transient
	if r.durable {
		mode = amqp.Persistent
	}
	err := r.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    messageID,
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Subscribe consumes channel until ctx ends or the broker closes the
// delivery stream.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	consumerTag := "notifier-" + uuid.NewString()
	r.mu.Lock()
	err := r.declareLocked(channel)
	var deliveries <-chan amqp.Delivery
	if err == nil {
		deliveries, err = r.channel.Consume(channel, consumerTag, false, false, false, false, nil)
	}
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume %s: %w", channel, err)
	}
	defer func() {
		r.mu.Lock()
		_ = r.channel.Cancel(consumerTag, false)
		r.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			r.handle(ctx, channel, delivery, handler)
		}
	}
}

func (r *RabbitMQClient) handle(ctx context.Context, channel string, delivery amqp.Delivery, handler Handler) {
	msg := Message{
		ID:         delivery.MessageId,
		Data:       delivery.Body,
		Attributes: headersToAttributes(delivery.Headers),
	}
	if err := handler(ctx, msg); err == nil {
		_ = delivery.Ack(false)
		return
	}

	attempt := attemptOf(msg.Attributes) + 1
	target := channel
	if attempt >= r.maxAttempts {
		target = deadLetterName(channel)
	}
	// The retry copy must be on the broker before the original is acked.
	if err := r.publish(ctx, target, msg.ID, msg.Data, withAttempt(msg.Attributes, attempt)); err != nil {
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQClient) declareLocked(name string) error {
	if _, ok := r.declared[name]; ok {
		return nil
	}
	if _, err := r.channel.QueueDeclare(name, r.durable, r.autoDelete, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	r.declared[name] = struct{}{}
	return nil
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
