package source

import (
	"context"
	"io"
	"log"

	"github.com/banshee-data/speedwatch/internal/serialmux"
	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// SerialSource reads frames from an edge detector board. Status lines are
// folded into the board state served on the admin routes; frame lines are
// decoded and returned.
type SerialSource struct {
	mux   serialmux.SerialMuxInterface
	id    string
	lines chan string
}

// NewSerialSource subscribes to mux. The caller runs mux.Monitor.
func NewSerialSource(mux serialmux.SerialMuxInterface) *SerialSource {
	id, ch := mux.Subscribe()
	return &SerialSource{mux: mux, id: id, lines: ch}
}

// Next blocks until a frame line arrives. It returns io.EOF once the mux
// closes the subscription.
func (s *SerialSource) Next(ctx context.Context) (detect.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return detect.Frame{}, ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return detect.Frame{}, io.EOF
			}
			switch serialmux.ClassifyPayload(line) {
			case serialmux.EventTypeFrame:
				frame, err := DecodeFrame([]byte(line))
				if err != nil {
					log.Printf("serial: dropping frame: %v", err)
					continue
				}
				return frame, nil
			case serialmux.EventTypeStatus:
				if err := serialmux.HandleStatus(line); err != nil {
					log.Printf("serial: bad status line: %v", err)
				}
			default:
				// Board banners and echoes.
			}
		}
	}
}

// Close unsubscribes from the mux. The mux itself stays open.
func (s *SerialSource) Close() error {
	s.mux.Unsubscribe(s.id)
	return nil
}
