package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/speedwatch/internal/vision/detect"
	"github.com/banshee-data/speedwatch/internal/vision/source"
	"github.com/banshee-data/speedwatch/internal/vision/tracks"
)

// prefetched is one acquired and detected frame waiting for the tracker.
type prefetched struct {
	frame  detect.Frame
	dets   []detect.Detection
	detErr error
}

// Run pulls frames from src until it is exhausted or ctx is cancelled.
// It returns nil when src reports io.EOF. Out-of-order frames are dropped
// and counted; sink failures never stop the loop. Cancellation discards
// the in-flight tracks.
func (p *Pipeline) Run(ctx context.Context, src source.Source) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline: already running")
	}
	defer p.running.Store(false)
	now := time.Now()
	p.startedAt.Store(&now)
	opsf("pipeline started (prefetch=%d)", p.cfg.PrefetchDepth)

	var err error
	if p.cfg.PrefetchDepth > 0 {
		err = p.runPrefetch(ctx, src)
	} else {
		err = p.runInline(ctx, src)
	}

	st := p.Stats()
	if ctx.Err() != nil {
		p.Reset()
		opsf("pipeline stopped: %d frames, %d entries", st.Frames, st.Entries)
		return ctx.Err()
	}
	if err != nil {
		opsf("pipeline failed after %d frames: %v", st.Frames, err)
		return err
	}
	opsf("source exhausted: %d frames, %d entries, %d out of order", st.Frames, st.Entries, st.OutOfOrder)
	return nil
}

func (p *Pipeline) runInline(ctx context.Context, src source.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.Next(ctx)
		if err != nil {
			return sourceErr(err)
		}
		if _, err := p.ProcessFrame(ctx, frame); tolerate(err) != nil {
			return err
		}
	}
}

// runPrefetch moves acquisition and detection onto one worker goroutine
// feeding a bounded channel. A single producer keeps frame order.
func (p *Pipeline) runPrefetch(ctx context.Context, src source.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan prefetched, p.cfg.PrefetchDepth)
	srcErr := make(chan error, 1)

	go func() {
		defer close(queue)
		for {
			frame, err := src.Next(ctx)
			if err != nil {
				srcErr <- err
				return
			}
			dets, detErr := p.cfg.Detector.Detect(ctx, frame)
			select {
			case queue <- prefetched{frame: frame, dets: dets, detErr: detErr}:
			case <-ctx.Done():
				srcErr <- ctx.Err()
				return
			}
		}
	}()

	for item := range queue {
		if ctx.Err() != nil {
			break
		}
		if err := p.handleDetected(ctx, item); err != nil {
			cancel()
			for range queue {
			}
			<-srcErr
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sourceErr(<-srcErr)
}

func (p *Pipeline) handleDetected(ctx context.Context, item prefetched) error {
	_, err := p.process(ctx, item.frame, item.dets, item.detErr)
	return tolerate(err)
}

// tolerate swallows the per-frame errors Run survives.
func tolerate(err error) error {
	if err == nil || errors.Is(err, tracks.ErrOutOfOrderFrame) {
		return nil
	}
	return err
}

func sourceErr(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("failed to read frame: %w", err)
}
