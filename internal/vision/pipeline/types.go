package pipeline

import (
	"context"
	"reflect"
	"time"

	"github.com/banshee-data/speedwatch/internal/vision/detect"
	"github.com/banshee-data/speedwatch/internal/vision/overspeed"
	"github.com/banshee-data/speedwatch/internal/vision/tracks"
)

// SpeedLogEntry is one emitted speed record. Entries are values; later
// calibration changes never alter an entry already emitted.
type SpeedLogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	TrackID       uint64    `json:"vehicle_id"`
	VehicleType   string    `json:"vehicle_type"`
	// SpeedKmh is rounded to an integer for display. Overspeed and
	// Severity come from the unrounded smoothed speed, so an entry can read
	// speed_kmh == speed_limit with is_overspeed set.
	SpeedKmh      float64   `json:"speed_kmh"`
	SpeedMph      float64   `json:"speed_mph"`
	SpeedLimitKmh float64   `json:"speed_limit"`
	Overspeed     bool      `json:"is_overspeed"`
	Severity      float64   `json:"severity"`
	Confidence    float64   `json:"confidence"`
	SnapshotRef   string    `json:"snapshot,omitempty"`
	CameraName    string    `json:"camera_name"`
}

// SnapshotRequest asks for a still of a vehicle that just crossed the limit.
type SnapshotRequest struct {
	Frame     detect.Frame
	BBox      detect.BBox
	TrackID   uint64
	SpeedKmh  float64
	Timestamp time.Time
}

// FeedTrack is one confirmed vehicle in a live feed update.
type FeedTrack struct {
	ID          uint64          `json:"id"`
	Class       string          `json:"class"`
	BBox        detect.BBox     `json:"bbox"`
	BBoxPercent detect.BBox     `json:"bbox_percent"`
	Confidence  float64         `json:"confidence"`
	SpeedKmh    *float64        `json:"speed_kmh,omitempty"`
	SpeedMph    *float64        `json:"speed_mph,omitempty"`
	Overspeed   bool            `json:"is_overspeed"`
	Severity    float64         `json:"severity"`
	Level       overspeed.Level `json:"level"`
}

// FeedUpdate is the per-frame state pushed to live viewers.
type FeedUpdate struct {
	Seq           uint64      `json:"seq"`
	Timestamp     time.Time   `json:"timestamp"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	SpeedLimitKmh float64     `json:"speed_limit"`
	CameraName    string      `json:"camera_name"`
	Tracks        []FeedTrack `json:"tracks"`
}

// FrameResult summarises one processed frame.
type FrameResult struct {
	Seq           uint64
	Timestamp     time.Time
	RawDetections int
	Detections    int // after confidence, class and zone filtering
	DetectorErr   error
	Update        tracks.UpdateResult
	Entries       []SpeedLogEntry
	Snapshots     []SnapshotRequest
	Transitions   []uint64 // tracks that crossed into overspeed this frame
	Feed          FeedUpdate
}

// LogSink persists speed log entries.
type LogSink interface {
	WriteSpeedLog(ctx context.Context, entry SpeedLogEntry) error
}

// SnapshotSink accepts snapshot requests and returns a reference (file
// name or URL) for the log entry. Implementations must not block on I/O.
type SnapshotSink interface {
	RequestSnapshot(ctx context.Context, req SnapshotRequest) (string, error)
}

// FeedSink receives one update per processed frame. It must not block.
type FeedSink interface {
	PublishFeed(update FeedUpdate)
}

// Observer is notified after every processed frame.
type Observer interface {
	FrameProcessed(result FrameResult)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(ctx context.Context, entry SpeedLogEntry) error

// WriteSpeedLog calls f.
func (f LogSinkFunc) WriteSpeedLog(ctx context.Context, entry SpeedLogEntry) error {
	return f(ctx, entry)
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i any) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
