package evidence

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/cat-watch-service/models"
)

func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestChooseBoxLargestArea(t *testing.T) {
	cats := []models.BoundingBox{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 50, Y: 50, Width: 30, Height: 30},
		{X: 90, Y: 90, Width: 20, Height: 20},
	}
	got, ok := ChooseBox(cats)
	require.True(t, ok)
	assert.Equal(t, cats[1], got)
}

func TestChooseBoxTieBreaksOnFirst(t *testing.T) {
	cats := []models.BoundingBox{
		{X: 0, Y: 0, Width: 20, Height: 10},
		{X: 50, Y: 50, Width: 10, Height: 20},
	}
	got, ok := ChooseBox(cats)
	require.True(t, ok)
	assert.Equal(t, cats[0], got)
}

func TestChooseBoxEmpty(t *testing.T) {
	_, ok := ChooseBox(nil)
	assert.False(t, ok)
}

func TestWriteFrameAndCrop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")
	w, err := NewWriter(dir, 0)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	ts := time.Date(2026, 10, 19, 14, 3, 7, 0, time.Local)
	ev := models.SightingEvent{
		ID:        uuid.New(),
		Timestamp: ts,
		ChosenBox: models.BoundingBox{X: 20, Y: 30, Width: 40, Height: 25},
		Frame:     testFrame(160, 120),
	}

	rec, err := w.Write(ev)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cat_20261019_140307.jpg"), rec.FramePath)
	assert.Equal(t, filepath.Join(dir, "cat_20261019_140307_crop.jpg"), rec.CropPath)

	full, err := imaging.Open(rec.FramePath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 120), full.Bounds())

	crop, err := imaging.Open(rec.CropPath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 25), crop.Bounds())
}

func TestWriteClampsCropToFrame(t *testing.T) {
	w, err := NewWriter(t.TempDir(), 80)
	require.NoError(t, err)

	rec, err := w.Write(models.SightingEvent{
		Timestamp: time.Now(),
		ChosenBox: models.BoundingBox{X: 140, Y: 100, Width: 80, Height: 80},
		Frame:     testFrame(160, 120),
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.CropPath)

	crop, err := imaging.Open(rec.CropPath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), crop.Bounds())
}

func TestWriteSkipsZeroAreaCrop(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0)
	require.NoError(t, err)

	ev := models.SightingEvent{
		Timestamp: time.Now(),
		ChosenBox: models.BoundingBox{X: 500, Y: 500, Width: 10, Height: 10},
		Frame:     testFrame(160, 120),
	}
	rec, err := w.Write(ev)
	require.NoError(t, err)
	assert.FileExists(t, rec.FramePath)
	assert.Empty(t, rec.CropPath)

	_, crop := w.Paths(ev)
	_, statErr := os.Stat(crop)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteWithoutFrame(t *testing.T) {
	w, err := NewWriter(t.TempDir(), 0)
	require.NoError(t, err)
	_, err = w.Write(models.SightingEvent{Timestamp: time.Now()})
	assert.Error(t, err)
}

func TestPathsAreSecondResolution(t *testing.T) {
	w, err := NewWriter(t.TempDir(), 0)
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	a, _ := w.Paths(models.SightingEvent{Timestamp: base})
	b, _ := w.Paths(models.SightingEvent{Timestamp: base.Add(900 * time.Millisecond)})
	c, _ := w.Paths(models.SightingEvent{Timestamp: base.Add(time.Second)})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCropSubImageOrigin(t *testing.T) {
	frame := testFrame(100, 100).SubImage(image.Rect(10, 10, 60, 60))
	c := Crop(frame, models.BoundingBox{X: 0, Y: 0, Width: 5, Height: 5})
	require.NotNil(t, c)
	r, g, _, _ := c.At(0, 0).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(10), g>>8)
}
