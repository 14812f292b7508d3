// Package camera wraps an OpenCV video capture as a frame source and an
// optional preview window.
package camera

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Tutortoise/cat-watch-service/models"
)

// ErrEndOfStream is returned once the device stops delivering frames.
var ErrEndOfStream = errors.New("camera: end of stream")

type Source struct {
	mu      sync.Mutex
	device  string
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// Open accepts a numeric device index or a stream URL / file path.
func Open(device string) (*Source, error) {
	var id interface{} = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}
	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open camera %q: device not available", device)
	}
	return &Source{device: device, capture: capture, mat: gocv.NewMat()}, nil
}

// Read returns a copy of the next frame.
func (s *Source) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil, ErrEndOfStream
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, ErrEndOfStream
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	s.mat.Close()
	return err
}

func (s *Source) String() string {
	return "camera(" + s.device + ")"
}

var (
	humanColor = color.RGBA{R: 255, A: 255}
	catColor   = color.RGBA{G: 255, A: 255}
)

// Display shows each frame with human boxes in red and surviving cat boxes
// in green. Pressing q asks the loop to stop. The window is created on the
// first Show, so every HighGUI call happens on the goroutine driving it.
type Display struct {
	title  string
	window *gocv.Window
}

func NewDisplay(title string) *Display {
	return &Display{title: title}
}

func (d *Display) Show(frame image.Image, df models.DetectionFrame) bool {
	if d.window == nil {
		d.window = gocv.NewWindow(d.title)
	}
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return false
	}
	defer mat.Close()

	for _, b := range df.HumanBoxes {
		gocv.Rectangle(&mat, b.Rect(), humanColor, 2)
	}
	for _, b := range df.CatBoxes {
		gocv.Rectangle(&mat, b.Rect(), catColor, 2)
	}
	d.window.IMShow(mat)
	return d.window.WaitKey(1) == 'q'
}

func (d *Display) Close() error {
	if d.window == nil {
		return nil
	}
	err := d.window.Close()
	d.window = nil
	return err
}
