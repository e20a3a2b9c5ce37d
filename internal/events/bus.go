package events

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/universe"
)

// Publish failure modes. Provenance violations are hard errors, never
// swallowed.
var (
	ErrUniverseMismatch  = errors.New("event universe does not match bus universe")
	ErrMissingProvenance = errors.New("event is missing session provenance")
)

const recentLogSize = 100

// Handler processes one event. Returned errors are logged and do not abort
// the publish.
type Handler func(Event) error

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	id        uint64
	eventType EventType
	all       bool
	handler   Handler
}

// Bus is a typed pub/sub bus bound to exactly one universe context.
// Publishes are serialized: handlers for one event all run before the next
// publish dispatches, so subscribers observe a deterministic FIFO order.
type Bus struct {
	ctx    *universe.Context
	logger *zap.Logger

	mu          sync.Mutex
	nextID      uint64
	byType      map[EventType][]*Subscription
	global      []*Subscription
	recent      []Event
	queue       []Event
	dispatching bool
	published   uint64
	rejected    uint64
}

// NewBus creates a bus bound to ctx. ctx must not be nil.
func NewBus(ctx *universe.Context, logger *zap.Logger) (*Bus, error) {
	if ctx == nil {
		return nil, errors.New("event bus requires a universe context")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		ctx:    ctx,
		logger: logger.Named("event_bus").With(zap.String("universe", ctx.Universe().String())),
		byType: make(map[EventType][]*Subscription),
		recent: make([]Event, 0, recentLogSize),
	}, nil
}

// Context returns the universe context the bus is bound to.
func (b *Bus) Context() *universe.Context { return b.ctx }

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, eventType: eventType, handler: handler}
	b.byType[eventType] = append(b.byType[eventType], sub)
	return sub
}

// SubscribeAll registers a handler invoked for every event, after the
// type-specific handlers.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, all: true, handler: handler}
	b.global = append(b.global, sub)
	return sub
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.all {
		b.global = removeSub(b.global, sub.id)
		return
	}
	b.byType[sub.eventType] = removeSub(b.byType[sub.eventType], sub.id)
}

func removeSub(subs []*Subscription, id uint64) []*Subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish validates provenance, records the event in the ring log, then
// invokes type-specific handlers followed by global handlers in
// subscription order. Handler errors and panics are logged and do not stop
// dispatch. Dispatch is run-to-completion: events published from inside a
// handler are queued and delivered after the current event's handlers
// finish, so subscribers observe a strict FIFO order.
func (b *Bus) Publish(event Event) error {
	base := event.Base()
	if base.Universe != b.ctx.Universe() {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return fmt.Errorf("%w: event=%s bus=%s type=%s",
			ErrUniverseMismatch, base.Universe, b.ctx.Universe(), event.Type())
	}
	if base.SessionID == "" {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return fmt.Errorf("%w: type=%s source=%s", ErrMissingProvenance, event.Type(), base.Source)
	}

	b.mu.Lock()
	b.published++
	b.recent = append(b.recent, event)
	if len(b.recent) > recentLogSize {
		b.recent = b.recent[1:]
	}
	b.queue = append(b.queue, event)
	if b.dispatching {
		// A handler up the stack is already draining the queue.
		b.mu.Unlock()
		return nil
	}
	b.dispatching = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		typed := append([]*Subscription(nil), b.byType[next.Type()]...)
		global := append([]*Subscription(nil), b.global...)
		b.mu.Unlock()

		for _, sub := range typed {
			b.invoke(sub, next)
		}
		for _, sub := range global {
			b.invoke(sub, next)
		}
		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
	return nil
}

func (b *Bus) invoke(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type())),
				zap.Any("panic", r))
		}
	}()
	if err := sub.handler(event); err != nil {
		b.logger.Error("event handler failed",
			zap.String("event_type", string(event.Type())),
			zap.String("source", event.Base().Source),
			zap.Error(err))
	}
}

// RecentEvents returns up to n of the most recent events, oldest first.
// n <= 0 returns the whole ring log.
func (b *Bus) RecentEvents(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]Event, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

// ClearLog empties the ring log.
func (b *Bus) ClearLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = b.recent[:0]
}

// Stats reports publish counters and current subscriber counts.
type Stats struct {
	Published   uint64            `json:"published"`
	Rejected    uint64            `json:"rejected"`
	Subscribers map[EventType]int `json:"subscribers"`
	GlobalSubs  int               `json:"global_subscribers"`
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := make(map[EventType]int, len(b.byType))
	for t, list := range b.byType {
		if len(list) > 0 {
			subs[t] = len(list)
		}
	}
	return Stats{
		Published:   b.published,
		Rejected:    b.rejected,
		Subscribers: subs,
		GlobalSubs:  len(b.global),
	}
}
