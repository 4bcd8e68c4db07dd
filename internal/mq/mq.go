package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"github.com/achievetrack/apiserver/config"
	"github.com/achievetrack/apiserver/types"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// EventHandler processes a decoded achievement event.
type EventHandler func(ctx context.Context, event types.Event) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

const (
	attrEventType     = "event_type"
	attrAchievementID = "achievement_id"
	attrStatus        = "status"
	attrAttempt       = "x-attempt"

	defaultMaxAttempts = 5
)

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Open connects to the broker selected by cfg.Backend. It returns nil and
// no error when messaging is disabled.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.MQBackendNone, "":
		return nil, nil
	case config.MQBackendMemory:
		backend = NewMemoryBackend(0, cfg.MaxAttempts)
	case config.MQBackendRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ, cfg.MaxAttempts)
	case config.MQBackendPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub, cfg.MaxAttempts)
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(backend), nil
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

// PublishEvent encodes event as JSON and publishes it with routing
// attributes so consumers can filter without decoding the body.
func (m *MQ) PublishEvent(ctx context.Context, channel string, event types.Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	attrs := map[string]string{
		attrEventType:     string(event.Type),
		attrAchievementID: strconv.Itoa(event.Achievement.ID),
		attrStatus:        string(event.Achievement.Status),
	}
	return m.backend.Publish(ctx, channel, data, attrs)
}

// SubscribeEvents consumes channel and hands each decoded event to handler.
// Undecodable messages are acknowledged and dropped since redelivery
// cannot fix them.
func (m *MQ) SubscribeEvents(ctx context.Context, channel string, handler EventHandler) error {
	return m.backend.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		var event types.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return nil
		}
		return handler(ctx, event)
	})
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}

// attemptOf reports how many deliveries of a message have already failed.
func attemptOf(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[attrAttempt])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func withAttempt(attrs map[string]string, attempt int) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	maps.Copy(out, attrs)
	out[attrAttempt] = strconv.Itoa(attempt)
	return out
}

func deadLetterName(channel string) string {
	return channel + ".dead"
}

func normalizeAttempts(n int) int {
	if n < 1 {
		return defaultMaxAttempts
	}
	return n
}
