package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/speedwatch/internal/httputil"
)

// DefaultKeepAlive is how often an idle event stream is pinged.
const DefaultKeepAlive = 30 * time.Second

// sseEvent is one server-sent event; Data is encoded as JSON.
type sseEvent struct {
	Type string
	Data any
}

// eventBus fans out non-feed events (configuration and location changes)
// to connected event streams. Slow viewers miss events rather than block
// the publisher.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan sseEvent
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan sseEvent)}
}

func (b *eventBus) subscribe() (int, <-chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan sseEvent, 4)
	b.subs[b.nextID] = ch
	return b.nextID, ch
}

func (b *eventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *eventBus) publish(e sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func writeEvent(w http.ResponseWriter, e sseEvent) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		log.Printf("[api] failed to encode %s event: %v", e.Type, err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

// streamFeed sends an "init" event with the current status, then every
// feed update as "feed" plus "config_update" and "location_update"
// events, until the client goes away.
func (s *Server) streamFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Feed == nil {
		httputil.ServiceUnavailable(w, "live feed is not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	feedID, updates := s.cfg.Feed.Subscribe(0)
	defer s.cfg.Feed.Unsubscribe(feedID)
	busID, events := s.events.subscribe()
	defer s.events.unsubscribe(busID)

	init := map[string]any{
		"config":     s.cfg.Store.Load().ToTuning(),
		"is_running": s.cfg.Pipeline != nil && s.cfg.Pipeline.Running(),
	}
	if s.cfg.Session != nil {
		init["stats"] = s.cfg.Session.Snapshot()
	}
	if latest, ok := s.cfg.Feed.Latest(); ok {
		init["feed"] = latest
	}
	if err := writeEvent(w, sseEvent{Type: "init", Data: init}); err != nil {
		return
	}
	flusher.Flush()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			err = writeEvent(w, sseEvent{Type: "feed", Data: u})
		case e := <-events:
			err = writeEvent(w, e)
		case <-s.cfg.Clock.After(s.cfg.KeepAlive):
			_, err = w.Write([]byte(": ping\n\n"))
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}
