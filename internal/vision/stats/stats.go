// Package stats accumulates per-session statistics from processed frames.
package stats

import (
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
)

// DefaultSampleCap bounds the reported speeds kept for percentiles.
const DefaultSampleCap = 4096

// Summary is the percentile view of a set of speeds. All values are km/h.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_kmh"`
	Max   float64 `json:"max_kmh"`
	P50   float64 `json:"p50_kmh"`
	P85   float64 `json:"p85_kmh"`
	P98   float64 `json:"p98_kmh"`
}

// Summarise computes a Summary over speeds. The input is not modified.
func Summarise(speeds []float64) Summary {
	if len(speeds) == 0 {
		return Summary{}
	}
	sorted := slices.Clone(speeds)
	slices.Sort(sorted)
	return Summary{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		Max:   floats.Max(sorted),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P85:   stat.Quantile(0.85, stat.Empirical, sorted, nil),
		P98:   stat.Quantile(0.98, stat.Empirical, sorted, nil),
	}
}

// Snapshot is the session state reported by the API.
type Snapshot struct {
	StartedAt           time.Time `json:"started_at"`
	FramesProcessed     uint64    `json:"frames_processed"`
	DetectionsSeen      uint64    `json:"detections"`
	VehiclesConfirmed   uint64    `json:"total_vehicles"`
	EntriesEmitted      uint64    `json:"entries_emitted"`
	OverspeedCount      uint64    `json:"overspeed_count"`
	DetectorErrors      uint64    `json:"detector_errors"`
	LastFrameAt         time.Time `json:"last_frame_at,omitzero"`
	Speeds              Summary   `json:"speeds"`
	OverspeedPercentage float64   `json:"overspeed_percentage"`
}

// Collector is a pipeline.Observer. It keeps the most recent speed per
// vehicle (the value of its latest log entry) up to a bounded number of
// vehicles.
type Collector struct {
	mu        sync.Mutex
	startedAt time.Time
	sampleCap int

	frames, detections, confirmed, entries, overspeed, detErrors uint64
	lastFrame                                                    time.Time

	latest map[uint64]float64 // vehicle id -> last reported km/h
	order  []uint64           // vehicle ids in first-report order, for eviction
}

// NewCollector returns a collector started at now. A non-positive
// sampleCap uses DefaultSampleCap.
func NewCollector(now time.Time, sampleCap int) *Collector {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	return &Collector{
		startedAt: now,
		sampleCap: sampleCap,
		latest:    make(map[uint64]float64),
	}
}

// FrameProcessed implements pipeline.Observer.
func (c *Collector) FrameProcessed(r pipeline.FrameResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	c.detections += uint64(r.Detections)
	c.confirmed += uint64(len(r.Update.Confirmed))
	c.overspeed += uint64(len(r.Transitions))
	if r.DetectorErr != nil {
		c.detErrors++
	}
	c.lastFrame = r.Timestamp
	for _, e := range r.Entries {
		c.entries++
		c.record(e.TrackID, e.SpeedKmh)
	}
}

func (c *Collector) record(id uint64, kmh float64) {
	if _, ok := c.latest[id]; !ok {
		if len(c.order) >= c.sampleCap {
			delete(c.latest, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, id)
	}
	c.latest[id] = kmh
}

// Snapshot returns the current session statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		StartedAt:         c.startedAt,
		FramesProcessed:   c.frames,
		DetectionsSeen:    c.detections,
		VehiclesConfirmed: c.confirmed,
		EntriesEmitted:    c.entries,
		OverspeedCount:    c.overspeed,
		DetectorErrors:    c.detErrors,
		LastFrameAt:       c.lastFrame,
		Speeds:            Summarise(c.samples()),
	}
	if c.confirmed > 0 {
		s.OverspeedPercentage = math.Round(float64(c.overspeed)/float64(c.confirmed)*1000) / 10
	}
	return s
}

func (c *Collector) samples() []float64 {
	out := make([]float64, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.latest[id])
	}
	return out
}

// Reset clears every counter and restarts the session at now.
func (c *Collector) Reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedAt = now
	c.frames, c.detections, c.confirmed = 0, 0, 0
	c.entries, c.overspeed, c.detErrors = 0, 0, 0
	c.lastFrame = time.Time{}
	c.latest = make(map[uint64]float64)
	c.order = nil
}
