// Package source delivers frames to the pipeline: recorded JSON-lines
// replays, an edge detector board on a serial port, UDP datagrams, pcap
// captures of those datagrams, and a synthetic generator for development.
package source

import (
	"context"
	"io"

	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// Source yields frames in timestamp order. Next returns io.EOF once the
// source is exhausted and ctx.Err() when cancelled.
type Source interface {
	Next(ctx context.Context) (detect.Frame, error)
}

// Closer is implemented by sources that hold a file, port or socket.
type Closer interface {
	Source
	io.Closer
}

// SliceSource replays an in-memory list of frames.
type SliceSource struct {
	Frames []detect.Frame
	pos    int
}

// Next returns the next frame or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (detect.Frame, error) {
	if err := ctx.Err(); err != nil {
		return detect.Frame{}, err
	}
	if s.pos >= len(s.Frames) {
		return detect.Frame{}, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}
