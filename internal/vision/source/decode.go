package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// wireFrame is the JSON form shared by replay files, the detector board
// and UDP datagrams.
type wireFrame struct {
	Seq        uint64          `json:"seq"`
	TS         json.RawMessage `json:"ts"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Detections []wireDetection `json:"detections"`
}

type wireDetection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// ErrMissingTimestamp is returned for a frame without a "ts" field.
var ErrMissingTimestamp = errors.New("frame has no timestamp")

// DecodeFrame parses one wire frame. The timestamp may be an RFC 3339
// string or a number of unix seconds.
func DecodeFrame(data []byte) (detect.Frame, error) {
	return decodeFrame(data, time.Time{})
}

// decodeFrame falls back to captured when the frame carries no timestamp
// and captured is set.
func decodeFrame(data []byte, captured time.Time) (detect.Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return detect.Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	ts, err := parseTimestamp(w.TS)
	if errors.Is(err, ErrMissingTimestamp) && !captured.IsZero() {
		ts, err = captured, nil
	}
	if err != nil {
		return detect.Frame{}, err
	}
	if w.Width < 0 || w.Height < 0 {
		return detect.Frame{}, fmt.Errorf("frame %d has negative dimensions %dx%d", w.Seq, w.Width, w.Height)
	}
	f := detect.Frame{
		Seq:        w.Seq,
		Timestamp:  ts,
		Width:      w.Width,
		Height:     w.Height,
		Detections: make([]detect.Detection, 0, len(w.Detections)),
	}
	for _, d := range w.Detections {
		f.Detections = append(f.Detections, detect.Detection{
			BBox:       detect.BBox{X: d.X, Y: d.Y, Width: d.W, Height: d.H},
			Class:      d.Class,
			Confidence: d.Confidence,
		})
	}
	return f, nil
}

// EncodeFrame renders f in the wire format with an RFC 3339 timestamp.
// Pixel data is not carried.
func EncodeFrame(f detect.Frame) ([]byte, error) {
	ts, err := json.Marshal(f.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	w := wireFrame{
		Seq:        f.Seq,
		TS:         ts,
		Width:      f.Width,
		Height:     f.Height,
		Detections: make([]wireDetection, 0, len(f.Detections)),
	}
	for _, d := range f.Detections {
		w.Detections = append(w.Detections, wireDetection{
			X: d.BBox.X, Y: d.BBox.Y, W: d.BBox.Width, H: d.BBox.Height,
			Class:      d.Class,
			Confidence: d.Confidence,
		})
	}
	return json.Marshal(w)
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, ErrMissingTimestamp
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s: %w", raw, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		return t, nil
	}
	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
}
