// Package api serves the JSON, chart and event-stream endpoints of the
// speed camera.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/db"
	"github.com/banshee-data/speedwatch/internal/livefeed"
	"github.com/banshee-data/speedwatch/internal/monitoring"
	"github.com/banshee-data/speedwatch/internal/site"
	"github.com/banshee-data/speedwatch/internal/timeutil"
	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
	"github.com/banshee-data/speedwatch/internal/vision/stats"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// PipelineStatus is the read side of a running pipeline.
type PipelineStatus interface {
	Running() bool
	StartedAt() time.Time
	Stats() pipeline.Stats
}

// SessionStats reports statistics for the current session.
type SessionStats interface {
	Snapshot() stats.Snapshot
}

// LogStore lists recent speed log entries, newest first. Both *db.DB and
// *sinks.Recent satisfy it.
type LogStore interface {
	RecentSpeedLogs(ctx context.Context, limit int) ([]db.SpeedLogRecord, error)
}

// SpeedHistory aggregates stored speed logs.
type SpeedHistory interface {
	SpeedStats(ctx context.Context, since time.Time) (db.SpeedStats, error)
	SpeedHistogram(ctx context.Context, since time.Time, bucketKmh float64) ([]db.HistogramBucket, error)
}

// Locator resolves the site location.
type Locator interface {
	Lookup(ctx context.Context) site.LocationData
	Refresh(ctx context.Context) site.LocationData
}

// Config wires a Server. Store is required; nil collaborators disable the
// endpoints that need them.
type Config struct {
	Store    *config.Store
	Pipeline PipelineStatus
	Session  SessionStats
	Logs     LogStore
	History  SpeedHistory
	Feed     *livefeed.Hub
	Locator  Locator

	// JWTSecret, when set, guards configuration writes with HS256 bearer
	// tokens.
	JWTSecret []byte

	// KeepAlive is the event-stream ping interval.
	KeepAlive time.Duration
	Clock     timeutil.Clock
}

// Server holds the API handlers.
type Server struct {
	cfg    Config
	events *eventBus
}

// NewServer returns a Server. Configuration changes are broadcast to
// event-stream viewers from here on.
func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	s := &Server{cfg: cfg, events: newEventBus()}
	cfg.Store.OnChange(func(c *config.CalibrationConfig) {
		s.events.publish(sseEvent{Type: "config_update", Data: c.ToTuning()})
	})
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/logs", s.listLogs)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/tracks", s.showTracks)
	mux.HandleFunc("/api/feed", s.streamFeed)
	mux.HandleFunc("/api/charts/speeds", s.speedChart)
	mux.HandleFunc("/api/charts/speeds.png", s.speedChartPNG)
	mux.HandleFunc("/api/location", s.showLocation)
	mux.HandleFunc("/api/location/refresh", s.refreshLocation)
	return mux
}

// startOfDay returns local midnight of t in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
