package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/units"
	"github.com/banshee-data/speedwatch/internal/vision/detect"
	"github.com/banshee-data/speedwatch/internal/vision/overspeed"
	"github.com/banshee-data/speedwatch/internal/vision/speed"
	"github.com/banshee-data/speedwatch/internal/vision/tracks"
)

// Config holds the pipeline's collaborators. Only Store is required.
type Config struct {
	Store     *config.Store
	Detector  detect.Detector // defaults to detect.Precomputed
	Logs      LogSink         // optional
	Snapshots SnapshotSink    // optional
	Feed      FeedSink        // optional
	Observers []Observer

	// PrefetchDepth bounds the frames acquired and detected ahead of the
	// tracker in Run. Zero processes inline.
	PrefetchDepth int
}

// Stats are the pipeline's running counters.
type Stats struct {
	Frames         uint64 `json:"frames_processed"`
	DetectorErrors uint64 `json:"detector_errors"`
	OutOfOrder     uint64 `json:"out_of_order_frames"`
	Entries        uint64 `json:"entries_emitted"`
	Snapshots      uint64 `json:"snapshots_requested"`
	SinkErrors     uint64 `json:"sink_errors"`
}

// Pipeline orchestrates one camera's frames.
type Pipeline struct {
	cfg     Config
	tracker *tracks.Tracker

	mu      sync.Mutex // serialises frames and Reset
	lastCal *config.CalibrationConfig

	frames         atomic.Uint64
	detectorErrors atomic.Uint64
	outOfOrder     atomic.Uint64
	entries        atomic.Uint64
	snapshots      atomic.Uint64
	sinkErrors     atomic.Uint64

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
}

// New builds a pipeline around cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: config store is required")
	}
	if isNilInterface(cfg.Detector) {
		cfg.Detector = detect.Precomputed{}
	}
	cal := cfg.Store.Load()
	return &Pipeline{
		cfg:     cfg,
		tracker: tracks.NewTracker(tracks.TrackerConfigFromCalibration(cal)),
		lastCal: cal,
	}, nil
}

// Tracker exposes the tracker for read-only snapshot access.
func (p *Pipeline) Tracker() *tracks.Tracker { return p.tracker }

// Running reports whether Run is active.
func (p *Pipeline) Running() bool { return p.running.Load() }

// StartedAt returns when Run last started, or the zero time.
func (p *Pipeline) StartedAt() time.Time {
	if t := p.startedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Stats returns a copy of the running counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:         p.frames.Load(),
		DetectorErrors: p.detectorErrors.Load(),
		OutOfOrder:     p.outOfOrder.Load(),
		Entries:        p.entries.Load(),
		Snapshots:      p.snapshots.Load(),
		SinkErrors:     p.sinkErrors.Load(),
	}
}

// Reset discards every track and starts a new tracker run.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracker.Reset()
	diagf("tracker reset")
}

// ProcessFrame runs one frame through detection and tracking.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame detect.Frame) (FrameResult, error) {
	dets, err := p.cfg.Detector.Detect(ctx, frame)
	return p.process(ctx, frame, dets, err)
}

func (p *Pipeline) process(ctx context.Context, frame detect.Frame, dets []detect.Detection, detErr error) (FrameResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal := p.cfg.Store.Load()
	if cal != p.lastCal {
		p.tracker.SetConfig(tracks.TrackerConfigFromCalibration(cal))
		p.lastCal = cal
		diagf("calibration applied at frame %d: limit=%.0f km/h ppm=%.2f", frame.Seq, cal.SpeedLimitKmh, cal.PixelsPerMeter)
	}

	res := FrameResult{Seq: frame.Seq, Timestamp: frame.Timestamp}
	if detErr != nil {
		p.detectorErrors.Add(1)
		res.DetectorErr = detErr
		diagf("detector failed on frame %d: %v", frame.Seq, detErr)
		dets = nil
	}
	res.RawDetections = len(dets)

	fp := detect.FilterParams{
		ConfidenceThreshold: cal.ConfidenceThreshold,
		VehicleClasses:      cal.VehicleClasses,
		ZoneStart:           cal.DetectionZoneStart,
		ZoneEnd:             cal.DetectionZoneEnd,
	}
	filtered := detect.ZoneFilter(detect.Filter(dets, fp), frame.Height, fp)
	res.Detections = len(filtered)

	upd, err := p.tracker.Update(filtered, frame.Timestamp)
	if err != nil {
		if errors.Is(err, tracks.ErrOutOfOrderFrame) {
			p.outOfOrder.Add(1)
			opsf("dropped frame %d: %v", frame.Seq, err)
		}
		return res, fmt.Errorf("failed to update tracks: %w", err)
	}
	res.Update = upd
	tracef("frame %d: %d/%d detections, created=%v confirmed=%v lost=%v",
		frame.Seq, len(filtered), len(dets), upd.Created, upd.Confirmed, upd.Lost)

	params := speed.ParamsFromCalibration(cal)
	classifier := overspeed.Classifier{WarningRatio: cal.WarningRatio}

	for _, trk := range p.tracker.ConfirmedTracks() {
		// Coasting tracks have no new observation to estimate from.
		if trk.Misses > 0 {
			continue
		}
		p.assess(ctx, frame, trk, cal, params, classifier, &res)
	}

	res.Feed = p.buildFeed(frame, cal, classifier)
	if !isNilInterface(p.cfg.Feed) {
		p.cfg.Feed.PublishFeed(res.Feed)
	}

	p.frames.Add(1)
	for _, o := range p.cfg.Observers {
		if !isNilInterface(o) {
			o.FrameProcessed(res)
		}
	}
	if len(res.Entries) > 0 {
		diagf("frame %d: %d entries, %d transitions", frame.Seq, len(res.Entries), len(res.Transitions))
	}
	return res, nil
}

// assess estimates, classifies and reports one confirmed track.
func (p *Pipeline) assess(ctx context.Context, frame detect.Frame, trk *tracks.Track,
	cal *config.CalibrationConfig, params speed.Params, classifier overspeed.Classifier, res *FrameResult) {

	est, ok := speed.Compute(trk.History(), trk.CurrentSpeedKmh, params)
	current := trk.CurrentSpeedKmh
	if ok {
		v := est.SmoothedKmh
		current = &v
		tracef("track %d: raw=%.2f smoothed=%.2f px=%.2f dt=%s n=%d",
			trk.ID, est.RawKmh, est.SmoothedKmh, est.DisplacementPx, est.Elapsed, est.Points)
	}
	if current == nil {
		return
	}

	dec := classifier.Classify(*current, cal.SpeedLimitKmh)
	assessment := tracks.Assessment{Overspeed: dec.Overspeed, Severity: dec.Severity}
	if ok {
		assessment.SpeedKmh = current
	}
	wasOverspeed, live := p.tracker.RecordAssessment(trk.ID, assessment)
	if !live {
		return
	}
	transition := dec.Overspeed && !wasOverspeed
	rounded := math.Round(*current)

	if !transition && !shouldReport(trk, rounded, frame.Timestamp, cal) {
		return
	}

	entry := SpeedLogEntry{
		Timestamp:     frame.Timestamp,
		TrackID:       trk.ID,
		VehicleType:   trk.Class,
		SpeedKmh:      rounded,
		SpeedMph:      units.RoundTo(units.ConvertSpeed(rounded, units.MPH), 1),
		SpeedLimitKmh: cal.SpeedLimitKmh,
		Overspeed:     dec.Overspeed,
		Severity:      units.RoundTo(dec.Severity, 3),
		Confidence:    trk.Confidence,
		CameraName:    cal.CameraName,
	}

	if transition {
		res.Transitions = append(res.Transitions, trk.ID)
		req := SnapshotRequest{
			Frame:     frame,
			BBox:      trk.BBox,
			TrackID:   trk.ID,
			SpeedKmh:  rounded,
			Timestamp: frame.Timestamp,
		}
		res.Snapshots = append(res.Snapshots, req)
		opsf("overspeed: track %d (%s) %.0f km/h, limit %.0f", trk.ID, trk.Class, rounded, cal.SpeedLimitKmh)
		if !isNilInterface(p.cfg.Snapshots) {
			p.snapshots.Add(1)
			ref, err := p.cfg.Snapshots.RequestSnapshot(ctx, req)
			if err != nil {
				p.sinkErrors.Add(1)
				opsf("snapshot request for track %d failed: %v", trk.ID, err)
			} else {
				entry.SnapshotRef = ref
			}
		}
	}

	res.Entries = append(res.Entries, entry)
	p.entries.Add(1)
	p.tracker.MarkReported(trk.ID, rounded, frame.Timestamp)
	if !isNilInterface(p.cfg.Logs) {
		if err := p.cfg.Logs.WriteSpeedLog(ctx, entry); err != nil {
			p.sinkErrors.Add(1)
			opsf("failed to write speed log for track %d: %v", trk.ID, err)
		}
	}
}

// shouldReport applies the report delta and interval rules.
func shouldReport(trk *tracks.Track, rounded float64, now time.Time, cal *config.CalibrationConfig) bool {
	if trk.LastReportedKmh == nil {
		return true
	}
	if math.Abs(rounded-*trk.LastReportedKmh) > cal.ReportDeltaKmh {
		return true
	}
	return cal.ReportInterval > 0 && now.Sub(trk.LastReportedAt) >= cal.ReportInterval
}

func (p *Pipeline) buildFeed(frame detect.Frame, cal *config.CalibrationConfig, classifier overspeed.Classifier) FeedUpdate {
	confirmed := p.tracker.ConfirmedTracks()
	feed := FeedUpdate{
		Seq:           frame.Seq,
		Timestamp:     frame.Timestamp,
		Width:         frame.Width,
		Height:        frame.Height,
		SpeedLimitKmh: cal.SpeedLimitKmh,
		CameraName:    cal.CameraName,
		Tracks:        make([]FeedTrack, 0, len(confirmed)),
	}
	for _, trk := range confirmed {
		ft := FeedTrack{
			ID:          trk.ID,
			Class:       trk.Class,
			BBox:        trk.BBox,
			BBoxPercent: trk.BBox.Percent(frame.Width, frame.Height),
			Confidence:  trk.Confidence,
			Overspeed:   trk.Overspeed,
			Severity:    trk.Severity,
			Level:       overspeed.LevelNormal,
		}
		if trk.CurrentSpeedKmh != nil {
			kmh := math.Round(*trk.CurrentSpeedKmh)
			mph := units.RoundTo(units.ConvertSpeed(*trk.CurrentSpeedKmh, units.MPH), 1)
			ft.SpeedKmh = &kmh
			ft.SpeedMph = &mph
			ft.Level = classifier.Classify(*trk.CurrentSpeedKmh, cal.SpeedLimitKmh).Level
		}
		feed.Tracks = append(feed.Tracks, ft)
	}
	return feed
}
