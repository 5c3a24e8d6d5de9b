// Package detect defines per-frame detections and the filters applied to
// them before tracking.
//
// Detections are ephemeral: a Detector produces them for one Frame and the
// tracker consumes them immediately. Geometry uses golang/geo r2 points in
// pixel coordinates with the origin at the top-left of the frame.
package detect
