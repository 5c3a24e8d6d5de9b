package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/speedwatch/internal/vision/stats"
)

// Session is one run of the pipeline.
type Session struct {
	ID         string    `json:"session_id"`
	CameraName string    `json:"camera_name"`
	Location   string    `json:"location"`
	StartedAt  time.Time `json:"started_at"`
}

// SpeedLogRecord is one stored speed log entry.
type SpeedLogRecord struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	VehicleID     uint64    `json:"vehicle_id"`
	VehicleType   string    `json:"vehicle_type"`
	SpeedKmh      float64   `json:"speed_kmh"`
	SpeedMph      float64   `json:"speed_mph"`
	SpeedLimitKmh float64   `json:"speed_limit"`
	Overspeed     bool      `json:"is_overspeed"`
	Severity      float64   `json:"severity"`
	Confidence    float64   `json:"confidence"`
	Snapshot      string    `json:"snapshot,omitempty"`
	CameraName    string    `json:"camera_name"`
}

// SpeedStats summarises stored vehicles. Each vehicle counts once, at the
// highest speed logged for it.
type SpeedStats struct {
	stats.Summary
	OverspeedCount int `json:"overspeed_count"`
}

// HistogramBucket counts vehicles in [LowerKmh, UpperKmh).
type HistogramBucket struct {
	LowerKmh  float64 `json:"lower_kmh"`
	UpperKmh  float64 `json:"upper_kmh"`
	Count     int     `json:"count"`
	Overspeed int     `json:"overspeed"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	whole, frac := math.Modf(s)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*1e3).UTC()
}

// StartSession records a new pipeline run and returns its id.
func (db *DB) StartSession(ctx context.Context, cameraName, location string, startedAt time.Time) (Session, error) {
	s := Session{
		ID:         uuid.NewString(),
		CameraName: cameraName,
		Location:   location,
		StartedAt:  startedAt.UTC(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, camera_name, location, started_unix) VALUES (?, ?, ?, ?)`,
		s.ID, s.CameraName, s.Location, unixSeconds(s.StartedAt))
	if err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return s, nil
}

// InsertSpeedLog stores r and returns its row id.
func (db *DB) InsertSpeedLog(ctx context.Context, r SpeedLogRecord) (int64, error) {
	var session any
	if r.SessionID != "" {
		session = r.SessionID
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO speed_log (
			session_id, ts_unix, vehicle_id, vehicle_type, speed_kmh, speed_mph,
			speed_limit_kmh, is_overspeed, severity, confidence, snapshot, camera_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, unixSeconds(r.Timestamp), int64(r.VehicleID), r.VehicleType, r.SpeedKmh, r.SpeedMph,
		r.SpeedLimitKmh, r.Overspeed, r.Severity, r.Confidence, r.Snapshot, r.CameraName,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert speed log: %w", err)
	}
	return res.LastInsertId()
}

// RecentSpeedLogs returns up to limit entries, newest first.
func (db *DB) RecentSpeedLogs(ctx context.Context, limit int) ([]SpeedLogRecord, error) {
	if limit <= 0 {
		return []SpeedLogRecord{}, nil
	}
	rows, err := db.QueryContext(ctx,
		`SELECT log_id, COALESCE(session_id, ''), ts_unix, vehicle_id, vehicle_type, speed_kmh, speed_mph,
			speed_limit_kmh, is_overspeed, severity, confidence, snapshot, camera_name
		FROM speed_log ORDER BY ts_unix DESC, log_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query speed log: %w", err)
	}
	defer rows.Close()

	out := []SpeedLogRecord{}
	for rows.Next() {
		var (
			r         SpeedLogRecord
			ts        float64
			vehicleID int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &ts, &vehicleID, &r.VehicleType, &r.SpeedKmh, &r.SpeedMph,
			&r.SpeedLimitKmh, &r.Overspeed, &r.Severity, &r.Confidence, &r.Snapshot, &r.CameraName); err != nil {
			return nil, fmt.Errorf("failed to scan speed log: %w", err)
		}
		r.Timestamp = fromUnixSeconds(ts)
		r.VehicleID = uint64(vehicleID)
		out = append(out, r)
	}
	return out, rows.Err()
}

// vehicleSpeeds returns each vehicle's peak speed since t, ascending, with
// a parallel overspeed flag.
func (db *DB) vehicleSpeeds(ctx context.Context, since time.Time) ([]float64, []bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT MAX(speed_kmh) AS peak, MAX(is_overspeed)
		FROM speed_log WHERE ts_unix >= ?
		GROUP BY COALESCE(session_id, ''), vehicle_id
		ORDER BY peak`, unixSeconds(since))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query vehicle speeds: %w", err)
	}
	defer rows.Close()

	var speeds []float64
	var over []bool
	for rows.Next() {
		var s float64
		var o int
		if err := rows.Scan(&s, &o); err != nil {
			return nil, nil, fmt.Errorf("failed to scan vehicle speed: %w", err)
		}
		speeds = append(speeds, s)
		over = append(over, o != 0)
	}
	return speeds, over, rows.Err()
}

// SpeedStats summarises vehicles logged since t.
func (db *DB) SpeedStats(ctx context.Context, since time.Time) (SpeedStats, error) {
	speeds, over, err := db.vehicleSpeeds(ctx, since)
	if err != nil {
		return SpeedStats{}, err
	}
	st := SpeedStats{Summary: stats.Summarise(speeds)}
	for _, o := range over {
		if o {
			st.OverspeedCount++
		}
	}
	return st, nil
}

// SpeedHistogram buckets vehicles logged since t by peak speed. Buckets
// start at zero and run to the fastest vehicle.
func (db *DB) SpeedHistogram(ctx context.Context, since time.Time, bucketKmh float64) ([]HistogramBucket, error) {
	if bucketKmh <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %v", bucketKmh)
	}
	speeds, over, err := db.vehicleSpeeds(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(speeds) == 0 {
		return []HistogramBucket{}, nil
	}

	n := int(math.Floor(speeds[len(speeds)-1]/bucketKmh)) + 1
	dividers := make([]float64, n+1)
	for i := range dividers {
		dividers[i] = float64(i) * bucketKmh
	}
	counts := stat.Histogram(nil, dividers, speeds, nil)

	buckets := make([]HistogramBucket, n)
	for i := range buckets {
		buckets[i] = HistogramBucket{LowerKmh: dividers[i], UpperKmh: dividers[i+1], Count: int(counts[i])}
	}
	for i, s := range speeds {
		if over[i] {
			buckets[min(int(math.Floor(s/bucketKmh)), n-1)].Overspeed++
		}
	}
	return buckets, nil
}

// Sessions returns every recorded session, newest first.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, camera_name, location, started_unix FROM sessions ORDER BY started_unix DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		var s Session
		var started float64
		if err := rows.Scan(&s.ID, &s.CameraName, &s.Location, &started); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.StartedAt = fromUnixSeconds(started)
		out = append(out, s)
	}
	return out, rows.Err()
}
