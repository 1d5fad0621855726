// Package events is the in-process pub/sub bus connecting the HTTP API, the
// engine, and background workers: a module-doc save published on the bus makes
// the engine reload that user's modules without a restart.
package events

import (
	"log/slog"
	"sync"
)

const (
	// TopicModuleChanged payloads are ModuleChanged values.
	TopicModuleChanged = "module:changed"
	// TopicUserAuthorized payloads are UserAuthorized values.
	TopicUserAuthorized = "user:authorized"
	// TopicStreamStatus payloads are StreamStatus values.
	TopicStreamStatus = "stream:status"

	defaultBufferSize = 128
)

// ModuleChanged announces that a user's module document changed and the
// module should be reinitialized.
type ModuleChanged struct {
	UserID int64
	Module string
}

// UserAuthorized announces a completed OAuth flow for a channel.
type UserAuthorized struct {
	UserID int64
}

// StreamStatus announces a stream going live or offline.
type StreamStatus struct {
	UserID int64
	Live   bool
}

// Bus is a non-blocking fan-out bus. Slow subscribers drop messages instead
// of stalling publishers.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[int]chan any
	nextSubID int

	dropMu     sync.Mutex
	dropCounts map[string]uint64
}

func NewBus() *Bus {
	return &Bus{
		subs:       make(map[string]map[int]chan any),
		dropCounts: make(map[string]uint64),
	}
}

func (b *Bus) Publish(topic string, payload any) {
	if topic == "" {
		return
	}
	// Sends stay under the read lock: unsubscribe closes the channel under
	// the write lock, so a send can never race the close. Sends never block
	// (buffered channel with a default branch), so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
			b.recordDrop(topic)
		}
	}
}

// Subscribe returns a receive channel for topic and an unsubscribe func that
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan any, func()) {
	ch := make(chan any, defaultBufferSize)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan any)
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[topic][id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
		}
		close(ch)
	}

	return ch, unsubscribe
}

func (b *Bus) recordDrop(topic string) {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	b.dropCounts[topic]++
	if b.dropCounts[topic]%100 == 1 {
		slog.Warn("event bus dropping messages",
			slog.String("topic", topic),
			slog.Uint64("total_drops", b.dropCounts[topic]))
	}
}
