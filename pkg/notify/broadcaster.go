package notify

import (
	"context"
	"sync"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

const defaultBufferSize = 64

// Broadcaster delivers events to in-process subscribers of a session.
// Slow subscribers lose events rather than block the sender.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscription]struct{}
	bufferSize  int
}

type subscription struct {
	ch   chan domain.ProgressEvent
	once sync.Once
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broadcaster{
		subscribers: make(map[string]map[*subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel of events for one session and a function
// that unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan domain.ProgressEvent, func()) {
	sub := &subscription{ch: make(chan domain.ProgressEvent, b.bufferSize)}

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = make(map[*subscription]struct{})
	}
	b.subscribers[sessionID][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers[sessionID], sub)
		if len(b.subscribers[sessionID]) == 0 {
			delete(b.subscribers, sessionID)
		}
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Notify implements domain.ProgressNotifier
func (b *Broadcaster) Notify(_ context.Context, event domain.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[event.SessionID] {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of subscribers for a session
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}
