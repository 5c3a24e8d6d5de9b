package serialmux

import "strings"

const (
	EventTypeFrame   = "frame"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload inspects a line from the detector board and returns an
// event type token. Frames carry a detections array; any other JSON object
// is a status report.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	if !strings.HasPrefix(p, "{") {
		return EventTypeUnknown
	}
	if strings.Contains(p, `"detections"`) {
		return EventTypeFrame
	}
	return EventTypeStatus
}
