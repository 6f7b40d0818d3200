package events

import "sync"

const defaultRecentCap = 256

// Bus is an in-process publish/subscribe hub for engine events. Publishing
// never blocks: subscribers with a full channel miss that event. A bounded
// ring buffer of recent events is kept for late-joining observers.
type Bus struct {
	mu        sync.RWMutex
	listeners []chan<- Event
	recent    []Event
	head      int
	size      int
	closed    bool
}

// NewBus creates a Bus with the default recent-event capacity.
func NewBus() *Bus {
	return &Bus{recent: make([]Event, defaultRecentCap)}
}

// Subscribe registers a channel to receive future events. The caller owns
// the channel and should size it generously; delivery is non-blocking.
func (b *Bus) Subscribe(ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.listeners = append(b.listeners, ch)
	}
}

// Unsubscribe removes a previously subscribed channel.
func (b *Bus) Unsubscribe(ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			break
		}
	}
}

// Publish records the event and fans it out to all subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	tail := (b.head + b.size) % len(b.recent)
	b.recent[tail] = ev
	if b.size < len(b.recent) {
		b.size++
	} else {
		b.head = (b.head + 1) % len(b.recent)
	}

	listeners := make([]chan<- Event, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- ev:
		default:
			// subscriber is not keeping up; drop
		}
	}
}

// Recent returns buffered events in publication order, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return nil
	}
	out := make([]Event, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.recent[(b.head+i)%len(b.recent)]
	}
	return out
}

// Close drops all subscribers and buffered events. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = nil
	b.size = 0
	b.head = 0
}
