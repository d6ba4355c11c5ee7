// Package timeline computes the derived geometry of the shot timeline: where
// each shot sits as a fraction of total duration, and where ruler ticks fall
// for a given zoom and viewport. Everything here is pure math over the shot
// list — it never mutates pipeline or playback state.
package timeline

import (
	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/google/uuid"
)

// Zoom bounds. Zoom scales the content width relative to the viewport.
const (
	MinZoom = 1.0
	MaxZoom = 4.0
)

// Segment is one shot's slice of the timeline, positioned as fractions of the
// total duration so the geometry survives zoom changes unchanged.
type Segment struct {
	ShotID        uuid.UUID `json:"shot_id"`
	LeftFraction  float64   `json:"left_fraction"`
	WidthFraction float64   `json:"width_fraction"`
	DurationSec   int       `json:"duration_sec"`
}

// Layout is the full derived geometry for one render of the timeline.
type Layout struct {
	Segments         []Segment `json:"segments"`
	TotalDurationSec int       `json:"total_duration_sec"`
	ContentWidthPx   float64   `json:"content_width_px"`
	PxPerSec         float64   `json:"px_per_sec"`
	Zoom             float64   `json:"zoom"`
}

// RulerMark is one tick on the timeline ruler. Labeled marks fall on multiples
// of the major interval; the rest are minor ticks.
type RulerMark struct {
	TimeSec   int  `json:"time_sec"`
	IsLabeled bool `json:"is_labeled"`
}

// ClampZoom bounds zoom to [MinZoom, MaxZoom].
func ClampZoom(zoom float64) float64 {
	if zoom < MinZoom {
		return MinZoom
	}
	if zoom > MaxZoom {
		return MaxZoom
	}
	return zoom
}

// Compute lays out the ordered shot list for the given zoom and viewport.
// A zero total duration yields all-zero fractions and no pixel scale.
func Compute(shots []models.Shot, zoom, viewportWidthPx float64) Layout {
	zoom = ClampZoom(zoom)

	total := 0
	for _, shot := range shots {
		total += shot.DurationSec
	}

	layout := Layout{
		Segments:         make([]Segment, 0, len(shots)),
		TotalDurationSec: total,
		Zoom:             zoom,
	}

	if total > 0 {
		layout.ContentWidthPx = viewportWidthPx * zoom
		layout.PxPerSec = layout.ContentWidthPx / float64(total)
	}

	cumulative := 0
	for _, shot := range shots {
		seg := Segment{ShotID: shot.ID, DurationSec: shot.DurationSec}
		if total > 0 {
			seg.LeftFraction = float64(cumulative) / float64(total)
			seg.WidthFraction = float64(shot.DurationSec) / float64(total)
		}
		layout.Segments = append(layout.Segments, seg)
		cumulative += shot.DurationSec
	}

	return layout
}

// majorIntervalSec picks the labeled-tick spacing from the pixel density.
// Denser timelines get finer intervals.
func majorIntervalSec(pxPerSec float64) int {
	switch {
	case pxPerSec >= 80:
		return 5
	case pxPerSec >= 40:
		return 10
	case pxPerSec >= 20:
		return 15
	default:
		return 30
	}
}

// RulerMarks emits ticks every majorInterval/5 seconds up to and including
// totalDurationSec, labeling exactly the multiples of the major interval.
// A non-positive duration yields no marks.
func RulerMarks(totalDurationSec int, viewportWidthPx, zoom float64) []RulerMark {
	if totalDurationSec <= 0 {
		return nil
	}

	zoom = ClampZoom(zoom)
	pxPerSec := viewportWidthPx * zoom / float64(totalDurationSec)
	major := majorIntervalSec(pxPerSec)
	step := major / 5

	marks := make([]RulerMark, 0, totalDurationSec/step+1)
	for t := 0; t <= totalDurationSec; t += step {
		marks = append(marks, RulerMark{
			TimeSec:   t,
			IsLabeled: t%major == 0,
		})
	}
	return marks
}
