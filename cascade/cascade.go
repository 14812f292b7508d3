// Package cascade runs OpenCV Haar cascades through gocv.
package cascade

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Tutortoise/cat-watch-service/detections"
)

// Classifier wraps a loaded gocv cascade. It is safe for use by one
// goroutine at a time.
type Classifier struct {
	mu         sync.Mutex
	path       string
	classifier gocv.CascadeClassifier
}

// Load reads a cascade definition from path. A missing or invalid file is an
// error.
func Load(path string) (*Classifier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cascade file %s: %w", path, err)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("could not load cascade at %s", path)
	}

	return &Classifier{path: path, classifier: classifier}, nil
}

func (c *Classifier) Detect(img *image.Gray, p detections.Params) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(pack(img))
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	minSize := image.Pt(p.MinSize, p.MinSize)
	return c.classifier.DetectMultiScaleWithParams(mat, p.ScaleFactor, p.MinNeighbors, 0, minSize, image.Point{}), nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}

func (c *Classifier) String() string {
	return "cascade(" + c.path + ")"
}

// pack copies a sub-image into a tightly packed buffer with a zero origin so
// it can be handed to OpenCV without aliasing the caller's pixels.
func pack(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], img.Pix[start:start+b.Dx()])
	}
	return out
}
