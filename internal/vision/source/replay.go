package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"time"

	"github.com/banshee-data/speedwatch/internal/fsutil"
	"github.com/banshee-data/speedwatch/internal/timeutil"
	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// ReplaySource reads frames from a JSON-lines recording. With Paced set it
// waits between frames for the recorded gap, scaled by Speed.
type ReplaySource struct {
	Paced bool
	Speed float64 // playback rate when paced; 0 means 1x

	file    fs.File
	scanner *bufio.Scanner
	clock   timeutil.Clock
	line    int
	prevTS  time.Time
}

// OpenReplay opens path on fsys. A nil fsys uses the OS file system and a
// nil clock uses wall time.
func OpenReplay(fsys fsutil.FileSystem, path string, clock timeutil.Clock) (*ReplaySource, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay %s: %w", path, err)
	}
	return NewReplaySource(f, clock), nil
}

// NewReplaySource reads frames from r. If r is an fs.File it is closed by
// Close.
func NewReplaySource(r io.Reader, clock timeutil.Clock) *ReplaySource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &ReplaySource{clock: clock, scanner: bufio.NewScanner(r)}
	s.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if f, ok := r.(fs.File); ok {
		s.file = f
	}
	return s
}

// Next returns the next decodable frame. Blank lines are skipped and
// malformed lines are logged and skipped.
func (s *ReplaySource) Next(ctx context.Context) (detect.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return detect.Frame{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return detect.Frame{}, fmt.Errorf("failed to read replay line %d: %w", s.line+1, err)
			}
			return detect.Frame{}, io.EOF
		}
		s.line++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		frame, err := DecodeFrame(raw)
		if err != nil {
			log.Printf("replay: skipping line %d: %v", s.line, err)
			continue
		}
		if err := s.pace(ctx, frame.Timestamp); err != nil {
			return detect.Frame{}, err
		}
		return frame, nil
	}
}

func (s *ReplaySource) pace(ctx context.Context, ts time.Time) error {
	prev := s.prevTS
	if prev.IsZero() || ts.After(prev) {
		s.prevTS = ts
	}
	if !s.Paced || prev.IsZero() || !ts.After(prev) {
		return nil
	}
	gap := ts.Sub(prev)
	if s.Speed > 0 {
		gap = time.Duration(float64(gap) / s.Speed)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(gap):
		return nil
	}
}

// Close closes the underlying file, if any.
func (s *ReplaySource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
