package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for in-process event broadcasting.
// A nil *Bus is valid and drops everything, so library code can publish
// unconditionally.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(FramePublishedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	// The generic event.Publish needs the concrete type.
	switch e := ev.(type) {
	case FramePublishedEvent:
		event.Publish(b.dispatcher, e)
	case FrameReleasedEvent:
		event.Publish(b.dispatcher, e)
	case SlotReclaimedEvent:
		event.Publish(b.dispatcher, e)
	case ClientConnectedEvent:
		event.Publish(b.dispatcher, e)
	case ClientDisconnectedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function. The handler's
// parameter type determines which events it receives. Returns an
// unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e FramePublishedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b == nil {
		return func() {}
	}
	switch h := handler.(type) {
	case func(FramePublishedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameReleasedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SlotReclaimedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ClientConnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ClientDisconnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
