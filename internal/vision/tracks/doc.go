// Package tracks owns vehicle identity across frames.
//
// Responsibilities: centroid association of filtered detections to live
// tracks, track lifecycle (tentative, confirmed, lost), bounded per-track
// history, and the speed/overspeed bookkeeping the pipeline writes back.
//
// The tracker never blocks and does no I/O. Callers deliver frames in
// timestamp order; a frame older than the previous one is rejected.
package tracks
