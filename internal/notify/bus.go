// Package notify delivers challenge completion notifications off the tracking path.
package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/events"
	"example.com/challenges/internal/observability"
	"example.com/challenges/internal/progress"
)

const defaultBufferSize = 256

var _ progress.Notifier = (*Bus)(nil)

// Observer receives completion events from the bus goroutine.
type Observer interface {
	Notify(ctx context.Context, event events.ChallengeCompleted) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event events.ChallengeCompleted) error

// Notify calls f.
func (f ObserverFunc) Notify(ctx context.Context, event events.ChallengeCompleted) error {
	return f(ctx, event)
}

// Option configures the Bus.
type Option func(*Bus)

// WithBufferSize sets the number of pending events held before new ones are dropped.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.size = size
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(b *Bus) { b.logger = logger }
}

// Bus queues completion events and hands them to every observer from a single
// goroutine, so observers see events in the order they were published.
// Publishing never blocks: when the queue is full the event is dropped and counted.
type Bus struct {
	observers []Observer
	logger    *logrus.Entry
	size      int

	mu     sync.RWMutex
	queue  chan events.ChallengeCompleted
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewBus constructs a Bus. Call Start before publishing.
func NewBus(observers []Observer, opts ...Option) *Bus {
	b := &Bus{
		observers: observers,
		logger:    logrus.WithField("component", "notify"),
		size:      defaultBufferSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan events.ChallengeCompleted, b.size)
	return b
}

// Start launches the delivery goroutine. It drains the queue until Close is
// called; ctx is passed to observers.
func (b *Bus) Start(ctx context.Context) {
	b.once.Do(func() {
		go b.run(ctx)
	})
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)
	for event := range b.queue {
		for _, observer := range b.observers {
			if err := observer.Notify(ctx, event); err != nil {
				b.logger.WithFields(logrus.Fields{
					"challenge_id": event.ChallengeID,
					"user_id":      event.UserID,
				}).WithError(err).Warn("notification delivery failed")
			}
		}
	}
}

// NotifyChallengeCompleted implements progress.Notifier.
func (b *Bus) NotifyChallengeCompleted(challenge domain.Challenge, trophy domain.Trophy) {
	b.Publish(NewChallengeCompleted(challenge, trophy))
}

// Publish enqueues event without blocking. It reports whether the event was accepted.
func (b *Bus) Publish(event events.ChallengeCompleted) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		observability.RecordNotificationDropped()
		return false
	}
	select {
	case b.queue <- event:
		return true
	default:
		observability.RecordNotificationDropped()
		b.logger.WithField("challenge_id", event.ChallengeID).Warn("notification queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits until queued events are delivered or
// ctx expires. Close must only be called after Start.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewChallengeCompleted builds the notification payload for a persisted trophy.
func NewChallengeCompleted(challenge domain.Challenge, trophy domain.Trophy) events.ChallengeCompleted {
	return events.ChallengeCompleted{
		ChallengeID:    challenge.ID,
		ChallengeTitle: challenge.Title,
		Scope:          string(challenge.Scope),
		UserID:         trophy.UserID,
		TrophyID:       trophy.ID,
		TrophyTitle:    trophy.Title,
		Rank:           trophy.Metadata[domain.TrophyMetaRank],
		AwardedAt:      trophy.AwardedAt,
	}
}
