package tracks

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Sustained association, eligible for speed reporting
	TrackLost      TrackState = "lost"      // Missed past the grace period; terminal
)

// ErrOutOfOrderFrame is returned by Update for a frame older than the last one.
var ErrOutOfOrderFrame = errors.New("frame timestamp precedes previous frame")

// Track is one vehicle identity. Values returned by the Tracker accessors
// are snapshots; mutating them does not affect the tracker.
type Track struct {
	ID         uint64      `json:"id"`
	State      TrackState  `json:"state"`
	Class      string      `json:"class"`
	BBox       detect.BBox `json:"bbox"`
	Confidence float64     `json:"confidence"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LostAt      time.Time `json:"lost_at,omitzero"`

	Hits   int `json:"hits"`   // consecutive matched frames
	Misses int `json:"misses"` // consecutive missed frames
	Frames int `json:"frames"` // total matched frames

	// Written back by the pipeline through RecordAssessment / MarkReported.
	CurrentSpeedKmh *float64  `json:"speed_kmh,omitempty"`
	Overspeed       bool      `json:"overspeed"`
	Severity        float64   `json:"severity"`
	LastReportedKmh *float64  `json:"last_reported_kmh,omitempty"`
	LastReportedAt  time.Time `json:"last_reported_at,omitzero"`

	classVotes map[string]int
	history    *History
	observed   []Observation // populated on snapshots only
}

// History returns the track's observations, oldest first.
func (t *Track) History() []Observation {
	if t.history == nil {
		return t.observed
	}
	return t.history.Slice()
}

// Centroid returns the most recent associated centroid.
func (t *Track) Centroid() r2.Point {
	obs := t.History()
	if len(obs) == 0 {
		return t.BBox.Centroid()
	}
	last := obs[len(obs)-1]
	return r2.Point{X: last.X, Y: last.Y}
}

func (t *Track) snapshot() *Track {
	cp := *t
	cp.classVotes = nil
	cp.history = nil
	cp.observed = t.history.Slice()
	if t.CurrentSpeedKmh != nil {
		v := *t.CurrentSpeedKmh
		cp.CurrentSpeedKmh = &v
	}
	if t.LastReportedKmh != nil {
		v := *t.LastReportedKmh
		cp.LastReportedKmh = &v
	}
	return &cp
}

// vote records a class label and returns the majority label. Ties go to
// the label seen most recently.
func (t *Track) vote(label string) string {
	if t.classVotes == nil {
		t.classVotes = make(map[string]int)
	}
	t.classVotes[label]++
	best, bestN := label, t.classVotes[label]
	for l, n := range t.classVotes {
		if n > bestN || (n == bestN && best != label && l < best) {
			best, bestN = l, n
		}
	}
	return best
}

// UpdateResult lists the lifecycle transitions of one Update call.
type UpdateResult struct {
	Created   []uint64
	Confirmed []uint64
	Lost      []uint64
	Purged    []uint64

	// Assignments maps each input detection index to the track it updated
	// or created, or 0 when the detection was dropped (MaxTracks reached).
	Assignments []uint64
}

// Assessment is the per-frame speed and classification result written
// back onto a track.
type Assessment struct {
	SpeedKmh  *float64
	Overspeed bool
	Severity  float64
}

// Tracker manages track identity and lifecycle across frames.
type Tracker struct {
	Config TrackerConfig

	tracks    map[uint64]*Track
	nextID    uint64
	lastFrame time.Time

	// Running counters, reset by Reset.
	TracksCreated   int
	TracksConfirmed int
	TracksLost      int

	mu sync.RWMutex
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		Config: config,
		tracks: make(map[uint64]*Track),
		nextID: 1,
	}
}

// UpdateConfig applies fn to the tracker configuration under the tracker
// lock. A new history capacity applies to tracks created afterwards;
// existing tracks keep their rings.
func (t *Tracker) UpdateConfig(fn func(*TrackerConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.Config)
}

// SetConfig replaces the tracker configuration.
func (t *Tracker) SetConfig(cfg TrackerConfig) {
	t.UpdateConfig(func(c *TrackerConfig) { *c = cfg })
}

// Reset clears all tracks and starts a new run; ids restart at 1.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[uint64]*Track)
	t.nextID = 1
	t.lastFrame = time.Time{}
	t.TracksCreated = 0
	t.TracksConfirmed = 0
	t.TracksLost = 0
}

// Update associates one frame of filtered detections with the live tracks.
func (t *Tracker) Update(dets []detect.Detection, timestamp time.Time) (UpdateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res UpdateResult
	if !t.lastFrame.IsZero() && timestamp.Before(t.lastFrame) {
		return res, fmt.Errorf("%w: %s < %s", ErrOutOfOrderFrame,
			timestamp.Format(time.RFC3339Nano), t.lastFrame.Format(time.RFC3339Nano))
	}
	t.lastFrame = timestamp

	// Step 1: centroids
	centroids := make([]r2.Point, len(dets))
	for i, d := range dets {
		centroids[i] = d.Centroid()
	}

	// Step 2-3: associate live tracks, oldest first
	live := t.liveTracks()
	var assign []int
	if t.Config.Association == AssociationHungarian {
		assign = associateHungarian(live, centroids, t.Config.MaxAssociationDistancePx)
	} else {
		assign = associateGreedy(live, centroids, t.Config.MaxAssociationDistancePx)
	}

	res.Assignments = make([]uint64, len(dets))
	matched := make([]bool, len(live))

	// Step 4: matched tracks
	for di, ti := range assign {
		if ti < 0 {
			continue
		}
		trk := live[ti]
		matched[ti] = true
		res.Assignments[di] = trk.ID
		t.observe(trk, dets[di], centroids[di], timestamp)
		if trk.State == TrackTentative && trk.Hits >= t.Config.HitsToConfirm {
			trk.State = TrackConfirmed
			t.TracksConfirmed++
			res.Confirmed = append(res.Confirmed, trk.ID)
		}
	}

	// Step 5: unmatched tracks age toward Lost
	for ti, trk := range live {
		if matched[ti] {
			continue
		}
		trk.Misses++
		trk.Hits = 0
		if trk.Misses > t.Config.MissGraceFrames {
			trk.State = TrackLost
			trk.LostAt = timestamp
			t.TracksLost++
			res.Lost = append(res.Lost, trk.ID)
		}
	}

	// Step 6: unmatched detections start tentative tracks
	for di, ti := range assign {
		if ti >= 0 {
			continue
		}
		if t.Config.MaxTracks > 0 {
			evicted, ok := t.makeRoom()
			if !ok {
				continue
			}
			if evicted != 0 {
				res.Purged = append(res.Purged, evicted)
			}
		}
		trk := t.newTrack(dets[di], centroids[di], timestamp)
		res.Assignments[di] = trk.ID
		res.Created = append(res.Created, trk.ID)
		// A confirmation threshold of one promotes on creation.
		if trk.Hits >= t.Config.HitsToConfirm {
			trk.State = TrackConfirmed
			t.TracksConfirmed++
			res.Confirmed = append(res.Confirmed, trk.ID)
		}
	}

	// Step 7: purge Lost tracks past retention
	res.Purged = append(res.Purged, t.purgeLost(timestamp)...)
	return res, nil
}

// liveTracks returns every non-Lost track ordered by id.
func (t *Tracker) liveTracks() []*Track {
	live := make([]*Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		if trk.State != TrackLost {
			live = append(live, trk)
		}
	}
	slices.SortFunc(live, func(a, b *Track) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return live
}

func (t *Tracker) observe(trk *Track, d detect.Detection, c r2.Point, ts time.Time) {
	trk.history.Push(Observation{Timestamp: ts, X: c.X, Y: c.Y})
	trk.Misses = 0
	trk.Hits++
	trk.Frames++
	trk.LastSeenAt = ts
	trk.BBox = d.BBox
	trk.Confidence = d.Confidence
	trk.Class = trk.vote(d.Class)
}

func (t *Tracker) newTrack(d detect.Detection, c r2.Point, ts time.Time) *Track {
	trk := &Track{
		ID:          t.nextID,
		State:       TrackTentative,
		FirstSeenAt: ts,
		history:     NewHistory(t.Config.HistoryCapacity),
	}
	t.nextID++
	t.observe(trk, d, c, ts)
	t.tracks[trk.ID] = trk
	t.TracksCreated++
	return trk
}

// makeRoom reports whether a new track fits under MaxTracks. Lost tracks
// do not count toward the limit; when they fill it, the one lost longest
// ago is dropped early and its id returned.
func (t *Tracker) makeRoom() (uint64, bool) {
	if len(t.tracks) < t.Config.MaxTracks {
		return 0, true
	}
	var oldest *Track
	for _, trk := range t.tracks {
		if trk.State != TrackLost {
			continue
		}
		if oldest == nil || trk.LostAt.Before(oldest.LostAt) ||
			(trk.LostAt.Equal(oldest.LostAt) && trk.ID < oldest.ID) {
			oldest = trk
		}
	}
	if oldest == nil {
		return 0, false
	}
	delete(t.tracks, oldest.ID)
	return oldest.ID, true
}

// purgeLost removes Lost tracks whose retention window has elapsed.
func (t *Tracker) purgeLost(now time.Time) []uint64 {
	var purged []uint64
	for id, trk := range t.tracks {
		if trk.State == TrackLost && now.Sub(trk.LostAt) > t.Config.LostRetention {
			purged = append(purged, id)
		}
	}
	slices.Sort(purged)
	for _, id := range purged {
		delete(t.tracks, id)
	}
	return purged
}

// RecordAssessment stores the frame's speed and classification on a live
// track and reports the previous overspeed flag. ok is false if the track
// is gone or Lost.
func (t *Tracker) RecordAssessment(id uint64, a Assessment) (wasOverspeed bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trk, found := t.tracks[id]
	if !found || trk.State == TrackLost {
		return false, false
	}
	wasOverspeed = trk.Overspeed
	if a.SpeedKmh != nil {
		v := *a.SpeedKmh
		trk.CurrentSpeedKmh = &v
	}
	trk.Overspeed = a.Overspeed
	trk.Severity = a.Severity
	return wasOverspeed, true
}

// MarkReported records the value and time of the last emitted log entry.
func (t *Tracker) MarkReported(id uint64, kmh float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trk, ok := t.tracks[id]; ok {
		trk.LastReportedKmh = &kmh
		trk.LastReportedAt = at
	}
}

// ActiveTracks returns snapshots of every non-Lost track ordered by id.
func (t *Tracker) ActiveTracks() []*Track {
	return t.collect(func(trk *Track) bool { return trk.State != TrackLost })
}

// ConfirmedTracks returns snapshots of Confirmed tracks ordered by id.
func (t *Tracker) ConfirmedTracks() []*Track {
	return t.collect(func(trk *Track) bool { return trk.State == TrackConfirmed })
}

// AllTracks returns snapshots of every held track, Lost included.
func (t *Tracker) AllTracks() []*Track {
	return t.collect(func(*Track) bool { return true })
}

func (t *Tracker) collect(keep func(*Track) bool) []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		if keep(trk) {
			out = append(out, trk.snapshot())
		}
	}
	slices.SortFunc(out, func(a, b *Track) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Track returns a snapshot of one track, or nil if it is not held.
func (t *Tracker) Track(id uint64) *Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	trk, ok := t.tracks[id]
	if !ok {
		return nil
	}
	return trk.snapshot()
}

// TrackCount returns counts of held tracks by state.
func (t *Tracker) TrackCount() (total, tentative, confirmed, lost int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, trk := range t.tracks {
		total++
		switch trk.State {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		case TrackLost:
			lost++
		}
	}
	return
}
