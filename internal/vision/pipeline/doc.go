// Package pipeline runs the per-frame flow: detect, filter, track,
// estimate speed, classify against the limit, then hand log entries,
// snapshot requests and live feed updates to the configured sinks.
//
// The pipeline keeps no tracking state of its own. Track identity lives
// in the tracks package; calibration is read from config.Store once per
// frame so a settings change lands on a frame boundary.
package pipeline
