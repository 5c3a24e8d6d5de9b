package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/speedwatch/internal/db"
	"github.com/banshee-data/speedwatch/internal/httputil"
	"github.com/banshee-data/speedwatch/internal/units"
	"github.com/banshee-data/speedwatch/internal/version"
	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
	"github.com/banshee-data/speedwatch/internal/vision/stats"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 1000
)

type statusResponse struct {
	IsRunning       bool            `json:"is_running"`
	StartedAt       time.Time       `json:"started_at,omitzero"`
	UptimeSeconds   float64         `json:"uptime_seconds"`
	CameraName      string          `json:"camera_name"`
	Location        string          `json:"location"`
	SpeedLimitKmh   float64         `json:"speed_limit"`
	Version         string          `json:"version"`
	FramesProcessed uint64          `json:"frames_processed"`
	Pipeline        *pipeline.Stats `json:"pipeline,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	cal := s.cfg.Store.Load()
	now := s.cfg.Clock.Now()
	resp := statusResponse{
		CameraName:    cal.CameraName,
		Location:      cal.Location,
		SpeedLimitKmh: cal.SpeedLimitKmh,
		Version:       version.Version,
		Timestamp:     now,
	}
	if resp.Location == "" && s.cfg.Locator != nil {
		resp.Location = s.cfg.Locator.Lookup(r.Context()).Formatted
	}
	if p := s.cfg.Pipeline; p != nil {
		st := p.Stats()
		resp.IsRunning = p.Running()
		resp.StartedAt = p.StartedAt()
		resp.FramesProcessed = st.Frames
		resp.Pipeline = &st
		if resp.IsRunning && !resp.StartedAt.IsZero() {
			resp.UptimeSeconds = units.RoundTo(now.Sub(resp.StartedAt).Seconds(), 1)
		}
	}
	httputil.WriteJSONOK(w, resp)
}

type statsResponse struct {
	Session *stats.Snapshot `json:"session,omitempty"`
	Today   *db.SpeedStats  `json:"today,omitempty"`
	Since   time.Time       `json:"today_since"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	cal := s.cfg.Store.Load()
	resp := statsResponse{
		Since: startOfDay(s.cfg.Clock.Now(), units.LocationOrUTC(cal.Timezone)),
	}
	if s.cfg.Session != nil {
		snap := s.cfg.Session.Snapshot()
		resp.Session = &snap
	}
	if s.cfg.History != nil {
		today, err := s.cfg.History.SpeedStats(r.Context(), resp.Since)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve speed stats: %v", err))
			return
		}
		resp.Today = &today
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Logs == nil {
		httputil.ServiceUnavailable(w, "speed log is not available")
		return
	}

	limit := defaultLogLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = min(parsed, maxLogLimit)
	}

	logs, err := s.cfg.Logs.RecentSpeedLogs(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve speed logs: %v", err))
		return
	}
	if logs == nil {
		logs = []db.SpeedLogRecord{}
	}
	httputil.WriteJSONOK(w, logs)
}

func (s *Server) showTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Feed == nil {
		httputil.ServiceUnavailable(w, "live feed is not available")
		return
	}

	latest, ok := s.cfg.Feed.Latest()
	if !ok {
		cal := s.cfg.Store.Load()
		latest = pipeline.FeedUpdate{SpeedLimitKmh: cal.SpeedLimitKmh, CameraName: cal.CameraName}
	}
	if latest.Tracks == nil {
		latest.Tracks = []pipeline.FeedTrack{}
	}
	httputil.WriteJSONOK(w, latest)
}

func (s *Server) showLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Locator == nil {
		httputil.ServiceUnavailable(w, "location lookup is not available")
		return
	}
	httputil.WriteJSONOK(w, s.cfg.Locator.Lookup(r.Context()))
}

func (s *Server) refreshLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.authorised(w, r) {
		return
	}
	if s.cfg.Locator == nil {
		httputil.ServiceUnavailable(w, "location lookup is not available")
		return
	}
	loc := s.cfg.Locator.Refresh(r.Context())
	s.events.publish(sseEvent{Type: "location_update", Data: loc})
	httputil.WriteJSONOK(w, loc)
}
