package inference

import (
	"image"
	"runtime"
	"sync"
)

// Preprocessor turns a square image into a planar CHW float tensor scaled
// to [0,1].
type Preprocessor struct {
	width, height int
	numWorkers    int
	bufferPool    *sync.Pool
}

func NewPreprocessor(size int) *Preprocessor {
	return &Preprocessor{
		width:      size,
		height:     size,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]float32, size*size*3)
				return &buf
			},
		},
	}
}

// Process writes img into dst, which must hold 3*size*size values.
func (p *Preprocessor) Process(img image.Image, dst []float32) {
	bufp := p.bufferPool.Get().(*[]float32)
	defer p.bufferPool.Put(bufp)
	buffer := *bufp

	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Dx() == p.width && nrgba.Bounds().Dy() == p.height {
		p.processParallel(nrgba, buffer)
	} else {
		p.processGeneric(img, buffer)
	}

	copy(dst, buffer)
}

// processParallel splits the rows of a packed NRGBA image across workers.
func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	channelSize := p.width * p.height
	workers := max(1, min(p.numWorkers, p.height))
	rowsPerWorker := p.height / workers
	b := img.Bounds()

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
				offset := y * p.width
				for x := 0; x < p.width; x++ {
					i := offset + x
					buffer[i] = float32(src[x*4]) / 255.0
					buffer[channelSize+i] = float32(src[x*4+1]) / 255.0
					buffer[channelSize*2+i] = float32(src[x*4+2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

func (p *Preprocessor) processGeneric(img image.Image, buffer []float32) {
	channelSize := p.width * p.height
	b := img.Bounds()
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			i := y*p.width + x
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			buffer[i] = float32(r>>8) / 255.0
			buffer[channelSize+i] = float32(g>>8) / 255.0
			buffer[channelSize*2+i] = float32(bl>>8) / 255.0
		}
	}
}
