package inference

const (
	DefaultInputSize = 256
	ConfThreshold    = 0.8
	RetryAttempts    = 3
	RetryDelayMs     = 100

	// x, y, w, h, confidence for a single class model
	outputChannels = 5
)

// anchorCount is the number of predictions a YOLO head emits for a square
// input, one per cell at strides 8, 16 and 32.
func anchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}
