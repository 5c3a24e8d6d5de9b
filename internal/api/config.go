package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/httputil"
	"github.com/banshee-data/speedwatch/internal/site"
)

// maxConfigBody bounds a configuration patch.
const maxConfigBody = 64 << 10

// configResponse is the current calibration in its patchable form.
type configResponse struct {
	*config.TuningConfig
	LocationData *site.LocationData `json:"location_data,omitempty"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showConfig(w, r)
	case http.MethodPost:
		if s.authorised(w, r) {
			s.updateConfig(w, r)
		}
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	resp := configResponse{TuningConfig: s.cfg.Store.Load().ToTuning()}
	if s.cfg.Locator != nil {
		loc := s.cfg.Locator.Lookup(r.Context())
		resp.LocationData = &loc
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Failed to read body: %v", err))
		return
	}

	var patch config.TuningConfig
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid configuration: %v", err))
		return
	}

	// Apply only fails validation; the current snapshot stays in place.
	next, err := s.cfg.Store.Apply(&patch)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"status": "ok", "config": next.ToTuning()})
}

// authorised checks the bearer token when a JWT secret is configured and
// writes a 401 when it is missing or invalid.
func (s *Server) authorised(w http.ResponseWriter, r *http.Request) bool {
	if len(s.cfg.JWTSecret) == 0 {
		return true
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		httputil.Unauthorized(w, "bearer token required")
		return false
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return s.cfg.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		httputil.Unauthorized(w, fmt.Sprintf("invalid token: %v", err))
		return false
	}
	return true
}
