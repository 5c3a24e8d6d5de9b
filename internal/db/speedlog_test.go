package db

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func insert(t *testing.T, db *DB, r SpeedLogRecord) {
	t.Helper()
	if _, err := db.InsertSpeedLog(context.Background(), r); err != nil {
		t.Fatalf("InsertSpeedLog failed: %v", err)
	}
}

func TestStartSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s, err := db.StartSession(ctx, "Camera 1", "Main St", t0)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if len(s.ID) != 36 {
		t.Errorf("expected a uuid, got %q", s.ID)
	}
	later, err := db.StartSession(ctx, "Camera 1", "Main St", t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != later.ID {
		t.Fatalf("expected newest session first, got %+v", sessions)
	}
	if !sessions[1].StartedAt.Equal(t0) {
		t.Errorf("started_at round trip: got %v", sessions[1].StartedAt)
	}
}

func TestInsertAndRecentSpeedLogs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s, _ := db.StartSession(ctx, "Camera 1", "", t0)

	want := SpeedLogRecord{
		SessionID:     s.ID,
		Timestamp:     t0.Add(1500 * time.Millisecond),
		VehicleID:     42,
		VehicleType:   "truck",
		SpeedKmh:      72,
		SpeedMph:      44.7,
		SpeedLimitKmh: 60,
		Overspeed:     true,
		Severity:      1.2,
		Confidence:    0.91,
		Snapshot:      "overspeed_42.jpg",
		CameraName:    "Camera 1",
	}
	insert(t, db, SpeedLogRecord{Timestamp: t0, VehicleID: 41, VehicleType: "car", SpeedKmh: 40})
	insert(t, db, want)

	logs, err := db.RecentSpeedLogs(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSpeedLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	got := logs[0]
	if got.ID == 0 {
		t.Error("expected a row id")
	}
	want.ID = got.ID
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("newest entry mismatch (-want +got):\n%s", diff)
	}
	if logs[1].SessionID != "" {
		t.Errorf("entry without a session should read back empty, got %q", logs[1].SessionID)
	}

	one, _ := db.RecentSpeedLogs(ctx, 1)
	if len(one) != 1 || one[0].VehicleID != 42 {
		t.Errorf("limit not applied: %+v", one)
	}
	none, err := db.RecentSpeedLogs(ctx, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("limit 0 should return nothing, got %v %v", none, err)
	}
}

func TestSpeedStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Vehicle 1 is reported twice; only its peak counts.
	insert(t, db, SpeedLogRecord{Timestamp: t0, VehicleID: 1, SpeedKmh: 40})
	insert(t, db, SpeedLogRecord{Timestamp: t0.Add(time.Second), VehicleID: 1, SpeedKmh: 50})
	insert(t, db, SpeedLogRecord{Timestamp: t0.Add(2 * time.Second), VehicleID: 2, SpeedKmh: 70, Overspeed: true})
	insert(t, db, SpeedLogRecord{Timestamp: t0.Add(3 * time.Second), VehicleID: 3, SpeedKmh: 30})
	// Before the window.
	insert(t, db, SpeedLogRecord{Timestamp: t0.Add(-time.Hour), VehicleID: 9, SpeedKmh: 120, Overspeed: true})

	st, err := db.SpeedStats(ctx, t0)
	if err != nil {
		t.Fatalf("SpeedStats failed: %v", err)
	}
	if st.Count != 3 {
		t.Errorf("expected 3 vehicles, got %d", st.Count)
	}
	if st.OverspeedCount != 1 {
		t.Errorf("expected 1 overspeed vehicle, got %d", st.OverspeedCount)
	}
	if math.Abs(st.Mean-50) > 1e-9 {
		t.Errorf("expected mean 50, got %v", st.Mean)
	}
	if st.Max != 70 || st.P50 != 50 {
		t.Errorf("unexpected max/p50: %+v", st.Summary)
	}

	empty, err := db.SpeedStats(ctx, t0.Add(time.Hour))
	if err != nil || empty.Count != 0 {
		t.Errorf("expected empty stats, got %+v %v", empty, err)
	}
}

func TestSpeedHistogram(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, kmh := range []float64{5, 12, 18, 25, 30} {
		insert(t, db, SpeedLogRecord{Timestamp: t0, VehicleID: uint64(i + 1), SpeedKmh: kmh, Overspeed: kmh > 20})
	}

	buckets, err := db.SpeedHistogram(ctx, t0, 10)
	if err != nil {
		t.Fatalf("SpeedHistogram failed: %v", err)
	}
	want := []HistogramBucket{
		{LowerKmh: 0, UpperKmh: 10, Count: 1},
		{LowerKmh: 10, UpperKmh: 20, Count: 2},
		{LowerKmh: 20, UpperKmh: 30, Count: 1, Overspeed: 1},
		{LowerKmh: 30, UpperKmh: 40, Count: 1, Overspeed: 1},
	}
	if diff := cmp.Diff(want, buckets); diff != "" {
		t.Errorf("histogram mismatch (-want +got):\n%s", diff)
	}

	if _, err := db.SpeedHistogram(ctx, t0, 0); err == nil {
		t.Error("expected error for zero bucket width")
	}
	empty, err := db.SpeedHistogram(ctx, t0.Add(time.Hour), 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected no buckets, got %v %v", empty, err)
	}
}
