package models

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a detected region in full-frame pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FromRect converts a rectangle into a box. Callers are expected to pass a
// canonical, already clipped rectangle.
func FromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func (b BoundingBox) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// DetectionFrame is the detector output of a single tick after the human veto.
type DetectionFrame struct {
	Timestamp  time.Time
	HumanBoxes []BoundingBox
	CatBoxes   []BoundingBox
	Vetoed     int
}

// SightingEvent is produced when a cat has been seen for long enough and the
// cooldown has elapsed.
type SightingEvent struct {
	ID        uuid.UUID
	Timestamp time.Time
	ChosenBox BoundingBox
	Frame     image.Image
}

type TickTimings struct {
	Tick        uint64
	Acquire     time.Duration
	Grayscale   time.Duration
	HumanDetect time.Duration
	CatDetect   time.Duration
	Veto        time.Duration
	Decide      time.Duration
	Evidence    time.Duration
	Total       time.Duration
}
