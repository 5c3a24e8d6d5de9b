// Package livefeed fans per-frame feed updates out to live viewers: the
// HTTP event stream and gRPC watchers.
package livefeed

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
)

// DefaultSubscriberBuffer lets a viewer fall this many updates behind
// before updates are dropped for it.
const DefaultSubscriberBuffer = 10

// Hub is a pipeline.FeedSink that broadcasts to subscribers. Publishing
// never blocks; a slow subscriber misses updates.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan pipeline.FeedUpdate
	latest *pipeline.FeedUpdate

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan pipeline.FeedUpdate)}
}

// Subscribe registers a viewer. buffer <= 0 uses DefaultSubscriberBuffer.
func (h *Hub) Subscribe(buffer int) (string, <-chan pipeline.FeedUpdate) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	id := uuid.NewString()
	ch := make(chan pipeline.FeedUpdate, buffer)
	h.mu.Lock()
	h.subs[id] = ch
	n := len(h.subs)
	h.mu.Unlock()
	log.Printf("[livefeed] viewer connected: %s (total: %d)", id, n)
	return id, ch
}

// Unsubscribe removes a viewer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		log.Printf("[livefeed] viewer disconnected: %s (remaining: %d)", id, n)
	}
}

// PublishFeed records update as the latest and offers it to every viewer.
func (h *Hub) PublishFeed(update pipeline.FeedUpdate) {
	h.mu.Lock()
	h.latest = &update
	for _, ch := range h.subs {
		select {
		case ch <- update:
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.Unlock()
	h.published.Add(1)
}

// Latest returns the most recent update, if any.
func (h *Hub) Latest() (pipeline.FeedUpdate, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return pipeline.FeedUpdate{}, false
	}
	return *h.latest, true
}

// Stats contains hub counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{Published: h.published.Load(), Dropped: h.dropped.Load(), Subscribers: n}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
