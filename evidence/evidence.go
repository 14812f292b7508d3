// Package evidence stores the snapshot images that back a sighting.
package evidence

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/cat-watch-service/models"
)

const (
	DefaultDir         = "media"
	DefaultJPEGQuality = 90

	timestampLayout = "20060102_150405"
)

// ChooseBox picks the box a sighting is reported with: the largest one, and
// the earliest detected among equals.
func ChooseBox(cats []models.BoundingBox) (models.BoundingBox, bool) {
	if len(cats) == 0 {
		return models.BoundingBox{}, false
	}
	best := cats[0]
	for _, c := range cats[1:] {
		if c.Area() > best.Area() {
			best = c
		}
	}
	return best, true
}

// Record lists the files written for one sighting. CropPath is empty when
// the chosen box had no area inside the frame.
type Record struct {
	FramePath string `json:"frame_path"`
	CropPath  string `json:"crop_path,omitempty"`
}

type Writer struct {
	dir     string
	quality int
}

// NewWriter creates dir if needed.
func NewWriter(dir string, quality int) (*Writer, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Writer{dir: dir, quality: quality}, nil
}

func (w *Writer) Dir() string {
	return w.dir
}

// Paths returns the file names used for a sighting at the given time.
func (w *Writer) Paths(ev models.SightingEvent) (frame, crop string) {
	ts := ev.Timestamp.Local().Format(timestampLayout)
	frame = filepath.Join(w.dir, "cat_"+ts+".jpg")
	crop = filepath.Join(w.dir, "cat_"+ts+"_crop.jpg")
	return frame, crop
}

// Write saves the full frame and, when it has area, the chosen box cropped
// to the frame.
func (w *Writer) Write(ev models.SightingEvent) (Record, error) {
	if ev.Frame == nil {
		return Record{}, fmt.Errorf("sighting %s has no frame", ev.ID)
	}
	framePath, cropPath := w.Paths(ev)

	if err := imaging.Save(ev.Frame, framePath, imaging.JPEGQuality(w.quality)); err != nil {
		return Record{}, fmt.Errorf("save frame: %w", err)
	}
	rec := Record{FramePath: framePath}

	crop := Crop(ev.Frame, ev.ChosenBox)
	if crop == nil {
		return rec, nil
	}
	if err := imaging.Save(crop, cropPath, imaging.JPEGQuality(w.quality)); err != nil {
		return rec, fmt.Errorf("save crop: %w", err)
	}
	rec.CropPath = cropPath
	return rec, nil
}

// Crop returns the chosen box region of frame, or nil when it is empty.
func Crop(frame image.Image, box models.BoundingBox) image.Image {
	region := box.Rect().Add(frame.Bounds().Min).Intersect(frame.Bounds())
	if region.Empty() {
		return nil
	}
	return imaging.Crop(frame, region)
}
