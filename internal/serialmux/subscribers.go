package serialmux

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscriberBuffer lets a consumer fall a few lines behind before lines
// are dropped for it.
const subscriberBuffer = 64

// subscriberSet fans lines out to subscriber channels. Once closed, every
// channel is closed and later subscribers receive an already closed one.
type subscriberSet struct {
	mu      sync.Mutex
	chans   map[string]chan string
	closed  bool
	dropped atomic.Uint64
}

func (s *subscriberSet) add(buffer int) (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	if s.chans == nil {
		s.chans = make(map[string]chan string)
	}
	s.chans[id] = ch
	return id, ch
}

func (s *subscriberSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chans[id]; ok {
		close(ch)
		delete(s.chans, id)
	}
}

// broadcast hands line to every subscriber with room for it.
func (s *subscriberSet) broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

// closeAll reports whether this call did the closing.
func (s *subscriberSet) closeAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	for id, ch := range s.chans {
		close(ch)
		delete(s.chans, id)
	}
	return true
}

func (s *subscriberSet) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *subscriberSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chans)
}
