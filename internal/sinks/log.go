package sinks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/speedwatch/internal/db"
	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
)

// DBLog stores entries in the speed_log table under one session.
type DBLog struct {
	DB        *db.DB
	SessionID string
}

// Record converts an emitted entry to its stored form.
func Record(e pipeline.SpeedLogEntry, sessionID string) db.SpeedLogRecord {
	return db.SpeedLogRecord{
		SessionID:     sessionID,
		Timestamp:     e.Timestamp,
		VehicleID:     e.TrackID,
		VehicleType:   e.VehicleType,
		SpeedKmh:      e.SpeedKmh,
		SpeedMph:      e.SpeedMph,
		SpeedLimitKmh: e.SpeedLimitKmh,
		Overspeed:     e.Overspeed,
		Severity:      e.Severity,
		Confidence:    e.Confidence,
		Snapshot:      e.SnapshotRef,
		CameraName:    e.CameraName,
	}
}

// WriteSpeedLog inserts e.
func (l *DBLog) WriteSpeedLog(ctx context.Context, e pipeline.SpeedLogEntry) error {
	_, err := l.DB.InsertSpeedLog(ctx, Record(e, l.SessionID))
	return err
}

// FanOut writes every entry to each sink. A failing sink does not stop
// the others; their errors are joined.
type FanOut struct {
	Sinks  []pipeline.LogSink
	failed atomic.Uint64
}

// NewFanOut skips nil sinks.
func NewFanOut(sinks ...pipeline.LogSink) *FanOut {
	f := &FanOut{}
	for _, s := range sinks {
		if s != nil {
			f.Sinks = append(f.Sinks, s)
		}
	}
	return f
}

// WriteSpeedLog writes e to every sink.
func (f *FanOut) WriteSpeedLog(ctx context.Context, e pipeline.SpeedLogEntry) error {
	var errs []error
	for _, s := range f.Sinks {
		if err := s.WriteSpeedLog(ctx, e); err != nil {
			f.failed.Add(1)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Failures counts individual sink errors.
func (f *FanOut) Failures() uint64 { return f.failed.Load() }

// Recent keeps the last entries in memory. It serves the logs endpoint
// when no database is configured.
type Recent struct {
	mu      sync.Mutex
	entries []db.SpeedLogRecord // oldest first
	max     int
	nextID  int64
}

// NewRecent keeps up to capacity entries.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Recent{max: capacity}
}

// WriteSpeedLog records e, evicting the oldest entry when full.
func (r *Recent) WriteSpeedLog(_ context.Context, e pipeline.SpeedLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rec := Record(e, "")
	rec.ID = r.nextID
	if len(r.entries) == r.max {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, rec)
	return nil
}

// RecentSpeedLogs returns up to limit entries, newest first.
func (r *Recent) RecentSpeedLogs(_ context.Context, limit int) ([]db.SpeedLogRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(limit, len(r.entries))
	out := make([]db.SpeedLogRecord, 0, max(n, 0))
	for i := len(r.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}
