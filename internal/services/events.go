package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/achievetrack/apiserver/internal/mq"
	"github.com/achievetrack/apiserver/types"
	"github.com/google/uuid"
)

// Hook reacts to a committed achievement event. Hooks run after the write
// and cannot affect its outcome.
type Hook interface {
	Name() string
	Handle(ctx context.Context, event types.Event) error
}

// FailureCounter is told about every hook error.
type FailureCounter interface {
	HookFailed(hook string)
}

// Dispatcher runs hooks in registration order. Errors are logged and
// counted, never returned.
type Dispatcher struct {
	logger   *slog.Logger
	hooks    []Hook
	failures FailureCounter
}

func NewDispatcher(logger *slog.Logger, hooks ...Hook) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, hooks: hooks}
}

// Add appends hook to the dispatch list.
func (d *Dispatcher) Add(hook Hook) {
	d.hooks = append(d.hooks, hook)
}

func (d *Dispatcher) CountFailuresWith(counter FailureCounter) {
	d.failures = counter
}

// Emit delivers event to every hook. The caller's cancellation is
// detached so a client disconnect cannot drop side effects of a committed
// transition.
func (d *Dispatcher) Emit(ctx context.Context, event types.Event) {
	if d == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, hook := range d.hooks {
		if err := d.run(ctx, hook, event); err != nil {
			d.logger.Warn("achievement hook failed",
				slog.String("hook", hook.Name()),
				slog.String("event", string(event.Type)),
				slog.Int("achievement_id", event.Achievement.ID),
				slog.Any("error", err),
			)
			if d.failures != nil {
				d.failures.HookFailed(hook.Name())
			}
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, hook Hook, event types.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.Handle(ctx, event)
}

func newEvent(eventType types.EventType, achievement types.Achievement, from types.Status, actorID int) types.Event {
	return types.Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Achievement: achievement,
		From:        from,
		ActorID:     actorID,
		OccurredAt:  time.Now().UTC(),
	}
}

// Publisher forwards events to a message broker channel, where the
// notifier command consumes them.
type Publisher struct {
	broker  *mq.MQ
	channel string
}

func NewPublisher(broker *mq.MQ, channel string) *Publisher {
	return &Publisher{broker: broker, channel: channel}
}

func (p *Publisher) Name() string {
	return "publisher"
}

func (p *Publisher) Handle(ctx context.Context, event types.Event) error {
	if _, err := p.broker.PublishEvent(ctx, p.channel, event); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
