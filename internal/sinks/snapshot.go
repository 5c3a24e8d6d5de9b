package sinks

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/banshee-data/speedwatch/internal/fsutil"
	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
)

// Snapshot defaults.
const (
	DefaultSnapshotPad   = 20
	DefaultSnapshotQueue = 16
	DefaultJPEGQuality   = 90
)

var (
	ErrSnapshotQueueFull = errors.New("snapshot queue full")
	ErrNoPixels          = errors.New("frame has no pixels")
)

// SnapshotConfig configures a SnapshotWriter.
type SnapshotConfig struct {
	FS        fsutil.FileSystem // defaults to the OS file system
	Dir       string
	Pad       int // pixels added around the box before clamping to the frame
	QueueSize int
	Quality   int
	Location  func() *time.Location // file name timestamps; UTC when nil
}

// SnapshotStats counts requests by outcome.
type SnapshotStats struct {
	Requested uint64 `json:"requested"`
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

type snapshotJob struct {
	name string
	req  pipeline.SnapshotRequest
}

// SnapshotWriter crops and encodes overspeed snapshots on its own
// goroutine. RequestSnapshot never blocks: when the queue is full the
// request is dropped.
type SnapshotWriter struct {
	cfg   SnapshotConfig
	queue chan snapshotJob

	requested atomic.Uint64
	written   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewSnapshotWriter creates cfg.Dir. Call Run to start writing.
func NewSnapshotWriter(cfg SnapshotConfig) (*SnapshotWriter, error) {
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Pad < 0 {
		cfg.Pad = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSnapshotQueue
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultJPEGQuality
	}
	if err := cfg.FS.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir %s: %w", cfg.Dir, err)
	}
	return &SnapshotWriter{cfg: cfg, queue: make(chan snapshotJob, cfg.QueueSize)}, nil
}

// SnapshotName is the file name used for req.
func (w *SnapshotWriter) SnapshotName(req pipeline.SnapshotRequest) string {
	loc := time.UTC
	if w.cfg.Location != nil {
		loc = w.cfg.Location()
	}
	return fmt.Sprintf("overspeed_%d_%s_%.0fkmh.jpg", req.TrackID, req.Timestamp.In(loc).Format("20060102_150405"), req.SpeedKmh)
}

// RequestSnapshot queues req and returns the file name it will be written
// under.
func (w *SnapshotWriter) RequestSnapshot(_ context.Context, req pipeline.SnapshotRequest) (string, error) {
	w.requested.Add(1)
	if req.Frame.Image == nil {
		w.dropped.Add(1)
		return "", ErrNoPixels
	}
	job := snapshotJob{name: w.SnapshotName(req), req: req}
	select {
	case w.queue <- job:
		return job.name, nil
	default:
		w.dropped.Add(1)
		return "", ErrSnapshotQueueFull
	}
}

// Run writes queued snapshots until ctx is cancelled, then writes what is
// already queued and returns.
func (w *SnapshotWriter) Run(ctx context.Context) {
	for {
		select {
		case job := <-w.queue:
			w.write(job)
		case <-ctx.Done():
			for {
				select {
				case job := <-w.queue:
					w.write(job)
				default:
					return
				}
			}
		}
	}
}

func (w *SnapshotWriter) write(job snapshotJob) {
	if err := w.encode(job); err != nil {
		w.failed.Add(1)
		log.Printf("snapshot %s failed: %v", job.name, err)
		return
	}
	w.written.Add(1)
}

func (w *SnapshotWriter) encode(job snapshotJob) error {
	crop, err := Crop(job.req.Frame.Image, job.req.BBox.Rect(), w.cfg.Pad)
	if err != nil {
		return err
	}
	path := filepath.Join(w.cfg.Dir, job.name)
	f, err := w.cfg.FS.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, crop, &jpeg.Options{Quality: w.cfg.Quality}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return f.Close()
}

// Stats returns the outcome counters.
func (w *SnapshotWriter) Stats() SnapshotStats {
	return SnapshotStats{
		Requested: w.requested.Load(),
		Written:   w.written.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img covered by box grown by pad on every side
// and clamped to the image bounds.
func Crop(img image.Image, box image.Rectangle, pad int) (image.Image, error) {
	if img == nil {
		return nil, ErrNoPixels
	}
	r := image.Rect(box.Min.X-pad, box.Min.Y-pad, box.Max.X+pad, box.Max.Y+pad).Intersect(img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("box %v lies outside the frame %v", box, img.Bounds())
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r), nil
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out, nil
}
