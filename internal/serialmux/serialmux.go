// Package serialmux shares one serial link to the edge detector board
// between several readers. The board streams JSON lines (frames and
// status reports) and accepts newline-terminated KEY=VALUE commands.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// maxLine bounds a single board line; frames with many detections run to
// a few kilobytes.
const maxLine = 1 << 20

// startCommands switch the board to the frame format the sources decode.
var startCommands = []string{
	"FORMAT=JSON", // one frame object per line
	"BOXES=XYWH",  // bounding boxes as x, y, width, height in pixels
	"STREAM=ON",
}

// SerialMuxInterface is implemented by the board link and by the disabled
// stand-in used for other sources.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of lines read from the board.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets the channel for id.
	Unsubscribe(string)
	SendCommand(string) error
	// Monitor reads the port until ctx ends, the port closes or a read
	// fails.
	Monitor(context.Context) error
	Close() error
	Initialize() error
	// AttachAdminRoutes mounts debug pages under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats count the board traffic since the mux was created.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Commands    uint64 `json:"commands"`
	Subscribers int    `json:"subscribers"`
}

// SerialMux multiplexes lines from one port to many subscribers.
type SerialMux[T SerialPorter] struct {
	port    T
	subs    subscriberSet
	writeMu sync.Mutex

	lines    atomic.Uint64
	commands atomic.Uint64
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	return s.subs.add(subscriberBuffer)
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subs.remove(id)
}

// Initialize syncs the board clock and starts the frame stream.
func (s *SerialMux[T]) Initialize() error {
	if err := s.SendCommand(fmt.Sprintf("CLOCK=%d", time.Now().UnixMilli())); err != nil {
		return fmt.Errorf("failed to synchronize clock: %w", err)
	}
	for _, command := range startCommands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes one command line. Commands from different callers
// never interleave.
func (s *SerialMux[T]) SendCommand(command string) error {
	line := strings.TrimRight(command, "\n") + "\n"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	s.commands.Add(1)
	return nil
}

// Monitor fans lines out until the port is exhausted. A subscriber that
// falls behind misses lines instead of stalling the port. Returns nil when
// the port closes and ctx.Err() on cancellation.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		scan.Buffer(make([]byte, 0, 64*1024), maxLine)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if s.subs.isClosed() {
				return nil
			}
			s.lines.Add(1)
			s.subs.broadcast(line)
		}
	}
}

// Close closes every subscriber channel and then the port.
func (s *SerialMux[T]) Close() error {
	s.subs.closeAll()
	return s.port.Close()
}

// Stats returns the traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Lines:       s.lines.Load(),
		Dropped:     s.subs.dropped.Load(),
		Commands:    s.commands.Load(),
		Subscribers: s.subs.count(),
	}
}
