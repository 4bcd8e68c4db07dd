package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend delivers messages in process. Each channel is a buffered
// queue shared by its subscribers. A failed message is requeued until it
// reaches maxAttempts and is then moved to the channel's dead queue.
type MemoryBackend struct {
	mu          sync.Mutex
	channels    map[string]chan Message
	closed      bool
	size        int
	maxAttempts int
}

// NewMemoryBackend constructs a backend whose channels buffer up to size
// messages.
func NewMemoryBackend(size, maxAttempts int) *MemoryBackend {
	if size < 1 {
		size = 64
	}
	return &MemoryBackend{
		channels:    make(map[string]chan Message),
		size:        size,
		maxAttempts: normalizeAttempts(maxAttempts),
	}
}

func (m *MemoryBackend) queue(channel string) (chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("memory backend closed")
	}
	q, ok := m.channels[channel]
	if !ok {
		q = make(chan Message, m.size)
		m.channels[channel] = q
	}
	return q, nil
}

func (m *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	q, err := m.queue(channel)
	if err != nil {
		return "", err
	}

	msg := Message{ID: uuid.NewString(), Data: data, Attributes: attrs}
	select {
	case q <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}
	q, err := m.queue(channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			if err := handler(ctx, msg); err != nil {
				m.retry(channel, q, msg)
			}
		}
	}
}

// retry never blocks; a full queue drops the message.
func (m *MemoryBackend) retry(channel string, q chan Message, msg Message) {
	attempt := attemptOf(msg.Attributes) + 1
	msg.Attributes = withAttempt(msg.Attributes, attempt)
	if attempt >= m.maxAttempts {
		dead, err := m.queue(deadLetterName(channel))
		if err != nil {
			return
		}
		q = dead
	}
	select {
	case q <- msg:
	default:
	}
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
