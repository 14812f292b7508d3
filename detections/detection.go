package detections

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"

	"github.com/Tutortoise/cat-watch-service/models"
)

type Kind int

const (
	Human Kind = iota
	Cat
)

func (k Kind) String() string {
	switch k {
	case Human:
		return "human"
	case Cat:
		return "cat"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Params are the tuning knobs handed to a classifier on every call.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

func DefaultParams(kind Kind) Params {
	if kind == Cat {
		return Params{ScaleFactor: CatScaleFactor, MinNeighbors: CatMinNeighbors, MinSize: CatMinSize}
	}
	return Params{ScaleFactor: HumanScaleFactor, MinNeighbors: HumanMinNeighbors, MinSize: HumanMinSize}
}

// Classifier is an external object detector. Returned rectangles are
// relative to img.Bounds().Min. Implementations must not modify img.
type Classifier interface {
	Detect(img *image.Gray, params Params) ([]image.Rectangle, error)
	Close() error
}

// ROI restricts a detector to the rows below TopFraction of the frame height.
type ROI struct {
	Enabled     bool
	TopFraction float64
}

var ErrUnknownKind = errors.New("no classifier registered for kind")

type detector struct {
	classifier Classifier
	params     Params
	roi        ROI
}

// Adapter puts every classifier behind the same Detect call.
type Adapter struct {
	detectors map[Kind]detector
}

func NewAdapter() *Adapter {
	return &Adapter{detectors: make(map[Kind]detector)}
}

// Register binds a classifier to a kind. The adapter owns the classifier
// afterwards and closes it in Close.
func (a *Adapter) Register(kind Kind, c Classifier, params Params, roi ROI) {
	a.detectors[kind] = detector{classifier: c, params: params, roi: roi}
}

func (a *Adapter) Detect(kind Kind, gray *image.Gray) ([]models.BoundingBox, error) {
	d, ok := a.detectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	frame := gray.Bounds()
	region := frame
	if d.roi.Enabled {
		region = roiRect(frame, d.roi.TopFraction)
		if region.Empty() {
			return nil, nil
		}
	}

	src := gray
	if region != frame {
		src = gray.SubImage(region).(*image.Gray)
	}

	rects, err := d.classifier.Detect(src, d.params)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", kind, err)
	}

	boxes := make([]models.BoundingBox, 0, len(rects))
	for _, r := range rects {
		// back into full-frame space, then clip to the frame
		r = r.Canon().Add(region.Min).Intersect(frame).Sub(frame.Min)
		if r.Empty() {
			continue
		}
		boxes = append(boxes, models.FromRect(r))
	}
	return boxes, nil
}

func (a *Adapter) Close() error {
	var err error
	for _, d := range a.detectors {
		err = multierr.Append(err, d.classifier.Close())
	}
	return err
}

func roiRect(frame image.Rectangle, topFraction float64) image.Rectangle {
	y0 := int(float64(frame.Dy()) * topFraction)
	return image.Rect(frame.Min.X, frame.Min.Y+y0, frame.Max.X, frame.Max.Y)
}

// Grayscale converts a frame into a single channel image with a zero origin.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+b.Dx()*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return gray
}
