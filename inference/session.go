// Package inference runs single class YOLO detectors exported to ONNX.
package inference

import (
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/Tutortoise/cat-watch-service/detections"
)

type Detection struct {
	Box        image.Rectangle
	Confidence float32
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// InitEnvironment loads the onnxruntime shared library. It must be called once
// before any model is loaded.
func InitEnvironment(libPath string) error {
	if libPath != "" {
		if _, err := os.Stat(libPath); err != nil {
			return fmt.Errorf("onnxruntime library: %w", err)
		}
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing onnx environment: %w", err)
	}
	return nil
}

func DestroyEnvironment() error {
	return ort.DestroyEnvironment()
}

type Options struct {
	InputSize     int
	ConfThreshold float32
}

// ModelSession is one loaded model with its bound input and output tensors.
// Run is not safe for concurrent use, so Detect serializes callers.
type ModelSession struct {
	mu           sync.Mutex
	Session      *ort.AdvancedSession
	Input        *ort.Tensor[float32]
	Output       *ort.Tensor[float32]
	path         string
	inputSize    int
	anchors      int
	threshold    float32
	preprocessor *Preprocessor
}

// Load creates a session for the model at modelPath.
func Load(modelPath string, opts Options) (*ModelSession, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", modelPath, err)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}
	if opts.ConfThreshold <= 0 {
		opts.ConfThreshold = ConfThreshold
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("error setting intra op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("error setting inter op threads: %w", err)
	}

	anchors := anchorCount(opts.InputSize)
	inputShape := ort.NewShape(1, 3, int64(opts.InputSize), int64(opts.InputSize))
	outputShape := ort.NewShape(1, outputChannels, int64(anchors))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session:      session,
		Input:        inputTensor,
		Output:       outputTensor,
		path:         modelPath,
		inputSize:    opts.InputSize,
		anchors:      anchors,
		threshold:    opts.ConfThreshold,
		preprocessor: NewPreprocessor(opts.InputSize),
	}, nil
}

func (m *ModelSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.Session != nil {
		err = multierr.Append(err, m.Session.Destroy())
	}
	if m.Input != nil {
		err = multierr.Append(err, m.Input.Destroy())
	}
	if m.Output != nil {
		err = multierr.Append(err, m.Output.Destroy())
	}
	return err
}

func (m *ModelSession) String() string {
	return "onnx(" + m.path + ")"
}

// Detect implements detections.Classifier. The model has no notion of scale
// factor or neighbours, only MinSize is honoured.
func (m *ModelSession) Detect(img *image.Gray, p detections.Params) ([]image.Rectangle, error) {
	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		boxes, err := m.processImage(img)
		if err == nil {
			return filterMinSize(boxes, p.MinSize), nil
		}
		lastErr = err

		if attempt < RetryAttempts {
			time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unknown error")
}

func (m *ModelSession) processImage(img image.Image) ([]image.Rectangle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resized := imaging.Resize(img, m.inputSize, m.inputSize, imaging.Linear)
	m.preprocessor.Process(resized, m.Input.GetData())

	if err := m.Session.Run(); err != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}

	b := img.Bounds()
	dets, err := processPredictions(m.Output.GetData(), m.anchors, m.inputSize, m.threshold, b.Dx(), b.Dy())
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}

	return clusterBoxes(dets), nil
}

func processPredictions(predictions []float32, numPredictions, inputSize int, threshold float32, originalWidth, originalHeight int) ([]Detection, error) {
	expectedSize := outputChannels * numPredictions
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	dets := make([]Detection, 0, 100)
	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []Detection, numWorkers)

	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Detection, 0, 16)

			for start := range jobs {
				end := min(start+chunkSize, numPredictions)

				for i := start; i < end; i++ {
					confidence := predictions[4*numPredictions+i]
					if confidence < threshold {
						continue
					}
					local = append(local, Detection{
						Box: calculateBBox(
							[4]float32{
								predictions[i],
								predictions[numPredictions+i],
								predictions[2*numPredictions+i],
								predictions[3*numPredictions+i],
							},
							float32(inputSize),
							float32(originalWidth),
							float32(originalHeight),
						),
						Confidence: confidence,
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < numPredictions; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for chunk := range results {
		dets = append(dets, chunk...)
	}

	sortDetectionsByConfidence(dets)
	return dets, nil
}

// calculateBBox maps a normalized center/size prediction back onto the
// original image and clips it.
func calculateBBox(coords [4]float32, inputSize, origWidth, origHeight float32) image.Rectangle {
	scaleX := origWidth / inputSize
	scaleY := origHeight / inputSize

	centerX := coords[0] * inputSize
	centerY := coords[1] * inputSize
	width := coords[2] * inputSize
	height := coords[3] * inputSize

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return image.Rect(
		int(max(0, x1)),
		int(max(0, y1)),
		int(min(origWidth, x2)),
		int(min(origHeight, y2)),
	)
}

func sortDetectionsByConfidence(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}

func filterMinSize(boxes []image.Rectangle, minSize int) []image.Rectangle {
	if minSize <= 0 {
		return boxes
	}
	out := boxes[:0]
	for _, b := range boxes {
		if b.Dx() >= minSize && b.Dy() >= minSize {
			out = append(out, b)
		}
	}
	return out
}
