// Package sinks persists what the pipeline emits: speed log entries to
// daily CSV files and the database, and overspeed snapshots to JPEG files.
package sinks

import (
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/fsutil"
	"github.com/banshee-data/speedwatch/internal/units"
	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
)

// CSVHeader is written once at the top of every daily file.
var CSVHeader = []string{
	"timestamp", "vehicle_id", "vehicle_type", "speed_kmh", "speed_mph",
	"speed_limit", "is_overspeed", "severity", "confidence", "snapshot",
}

// DailyCSV appends entries to speed_log_YYYY-MM-DD.csv in Dir. The date
// and the timestamp column use the site timezone from the config store.
type DailyCSV struct {
	fs    fsutil.FileSystem
	dir   string
	store *config.Store

	mu      sync.Mutex
	written uint64
}

// NewDailyCSV creates dir if needed. A nil store logs in UTC.
func NewDailyCSV(fsys fsutil.FileSystem, dir string, store *config.Store) (*DailyCSV, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}
	return &DailyCSV{fs: fsys, dir: dir, store: store}, nil
}

func (d *DailyCSV) location() *time.Location {
	if d.store == nil {
		return time.UTC
	}
	return units.LocationOrUTC(d.store.Load().Timezone)
}

// PathFor returns the file an entry stamped t is written to.
func (d *DailyCSV) PathFor(t time.Time) string {
	return filepath.Join(d.dir, "speed_log_"+t.In(d.location()).Format("2006-01-02")+".csv")
}

// Written returns the number of rows appended.
func (d *DailyCSV) Written() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// WriteSpeedLog appends one row, writing the header first on a new file.
func (d *DailyCSV) WriteSpeedLog(_ context.Context, e pipeline.SpeedLogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	loc := d.location()
	path := d.PathFor(e.Timestamp)
	fresh := !d.fs.Exists(path)

	f, err := d.fs.OpenAppend(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(CSVHeader); err != nil {
			f.Close()
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}
	row := []string{
		e.Timestamp.In(loc).Format(time.RFC3339Nano),
		strconv.FormatUint(e.TrackID, 10),
		e.VehicleType,
		formatFloat(e.SpeedKmh),
		formatFloat(e.SpeedMph),
		formatFloat(e.SpeedLimitKmh),
		strconv.FormatBool(e.Overspeed),
		formatFloat(e.Severity),
		formatFloat(units.RoundTo(e.Confidence, 2)),
		e.SnapshotRef,
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	d.written++
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
