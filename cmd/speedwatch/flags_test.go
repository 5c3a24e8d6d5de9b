package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/fsutil"
	"github.com/banshee-data/speedwatch/internal/serialmux"
	"github.com/banshee-data/speedwatch/internal/timeutil"
)

// TestFlagDefaults verifies the flags a fresh install runs with.
func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, "", *grpcListen, "gRPC is opt-in")
	assert.Equal(t, "synthetic", *sourceKind)
	assert.Equal(t, serialmux.DefaultBaudRate, *baud)
	assert.Equal(t, 2370, *udpPort)
	assert.Equal(t, 4, *prefetch)
	assert.True(t, *realtime)
	assert.False(t, *diag)
	assert.False(t, *trace)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name     string
		opts     sourceOptions
		prefetch int
		wantErr  bool
	}{
		{"synthetic", sourceOptions{Kind: "synthetic"}, 4, false},
		{"replay with input", sourceOptions{Kind: "replay", Input: "drive.jsonl"}, 0, false},
		{"replay without input", sourceOptions{Kind: "replay"}, 0, true},
		{"pcap without input", sourceOptions{Kind: "pcap", UDPPort: 2370}, 0, true},
		{"pcap bad port", sourceOptions{Kind: "pcap", Input: "x.pcap", UDPPort: 0}, 0, true},
		{"udp", sourceOptions{Kind: "udp", UDPPort: 2370}, 0, false},
		{"udp port out of range", sourceOptions{Kind: "udp", UDPPort: 70000}, 0, true},
		{"serial", sourceOptions{Kind: "serial"}, 0, false},
		{"unknown", sourceOptions{Kind: "webcam"}, 0, true},
		{"negative prefetch", sourceOptions{Kind: "synthetic"}, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(tt.opts, tt.prefetch)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadCalibration(t *testing.T) {
	cal, err := loadCalibration("", "")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCalibration().SpeedLimitKmh, cal.SpeedLimitKmh)

	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("speed_limit_kmh: 50\ncamera_name: school\n"), 0o644))
	cal, err = loadCalibration(path, dir)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cal.SpeedLimitKmh)
	assert.Equal(t, "school", cal.CameraName)
	assert.Equal(t, config.DefaultCalibration().PixelsPerMeter, cal.PixelsPerMeter, "omitted fields keep defaults")

	_, err = loadCalibration(filepath.Join(t.TempDir(), "site.toml"), "")
	assert.Error(t, err)
	_, err = loadCalibration(path, t.TempDir())
	assert.Error(t, err, "files outside the config directory are rejected")
}

func TestOpenSyntheticSource(t *testing.T) {
	cal := config.DefaultCalibration()
	clock := timeutil.NewMockClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	src, board, err := openSource(sourceOptions{Kind: "synthetic", Frames: 3, Clock: clock}, cal)
	require.NoError(t, err)
	assert.IsType(t, &serialmux.DisabledSerialMux{}, board)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.False(t, f.Timestamp.Before(clock.Now()))
	}
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenReplaySource(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("drive.jsonl", nil, 0o644))

	src, _, err := openSource(sourceOptions{Kind: "replay", Input: "drive.jsonl", FS: fsys}, config.DefaultCalibration())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	_, _, err = openSource(sourceOptions{Kind: "replay", Input: "missing.jsonl", FS: fsys}, config.DefaultCalibration())
	assert.Error(t, err)
	_, _, err = openSource(sourceOptions{Kind: "pcap", Input: "missing.pcap", UDPPort: 2370, FS: fsys}, config.DefaultCalibration())
	assert.Error(t, err)
}

func TestOpenUnknownSource(t *testing.T) {
	_, _, err := openSource(sourceOptions{Kind: "webcam"}, config.DefaultCalibration())
	assert.Error(t, err)
}

func TestDebugWriter(t *testing.T) {
	assert.Nil(t, debugWriter(false, os.Stderr))
	assert.Equal(t, io.Writer(os.Stderr), debugWriter(true, os.Stderr))
}
