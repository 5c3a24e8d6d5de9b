package detect

import "slices"

// FilterParams is the subset of calibration the filters read.
type FilterParams struct {
	ConfidenceThreshold float64
	VehicleClasses      []string

	// Detection zone as fractions of frame height. Ignored when
	// ZoneEnd <= ZoneStart.
	ZoneStart float64
	ZoneEnd   float64
}

// Filter drops detections below the confidence threshold or outside the
// accepted classes. The input slice is not modified.
func Filter(dets []Detection, p FilterParams) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < p.ConfidenceThreshold {
			continue
		}
		if !slices.Contains(p.VehicleClasses, d.Class) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ZoneFilter keeps detections whose centroid lies inside the horizontal
// band [ZoneStart, ZoneEnd] of the frame height. A non-positive frame
// height or an empty band disables the filter.
func ZoneFilter(dets []Detection, frameHeight int, p FilterParams) []Detection {
	if frameHeight <= 0 || p.ZoneEnd <= p.ZoneStart {
		return dets
	}
	top := p.ZoneStart * float64(frameHeight)
	bottom := p.ZoneEnd * float64(frameHeight)
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		cy := d.Centroid().Y
		if cy >= top && cy <= bottom {
			out = append(out, d)
		}
	}
	return out
}
