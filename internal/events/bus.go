// Package events provides a minimal internal publish/subscribe bus for
// STREAM_STARTED and STREAM_ENDED player notifications.
package events

import (
	"sync"

	"github.com/playcast/playcast/internal/audio"
)

// Kind identifies the event type.
type Kind int

const (
	StreamStarted Kind = iota
	StreamEnded
)

// Event carries the StreamDetails of the item the event concerns.
type Event struct {
	Kind    Kind
	Details audio.StreamDetails
}

// Handler receives published events. Handlers are invoked synchronously
// from the publishing goroutine; slow handlers should hand off to their
// own goroutine.
type Handler func(Event)

// Bus is a concurrency-safe fan-out publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler that receives every future published
// event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish fans out ev to every subscribed handler.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
}
