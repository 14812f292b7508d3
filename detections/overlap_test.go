package detections

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tutortoise/cat-watch-service/models"
)

func box(x, y, w, h int) models.BoundingBox {
	return models.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

func TestIoUIdentity(t *testing.T) {
	for _, b := range []models.BoundingBox{box(0, 0, 1, 1), box(10, 20, 80, 80), box(3, 7, 200, 15)} {
		assert.InDelta(t, 1.0, IoU(b, b), 1e-12)
	}
}

func TestIoUDisjoint(t *testing.T) {
	assert.Equal(t, 0.0, IoU(box(0, 0, 10, 10), box(20, 20, 10, 10)))
	// touching edges share no area
	assert.Equal(t, 0.0, IoU(box(0, 0, 10, 10), box(10, 0, 10, 10)))
	assert.Equal(t, 0.0, IoU(box(0, 0, 10, 10), box(0, 10, 10, 10)))
}

func TestIoUSymmetric(t *testing.T) {
	pairs := [][2]models.BoundingBox{
		{box(0, 0, 10, 10), box(5, 5, 10, 10)},
		{box(0, 0, 100, 50), box(25, 10, 10, 80)},
		{box(3, 3, 4, 4), box(0, 0, 20, 20)},
		{box(0, 0, 10, 10), box(50, 50, 5, 5)},
	}
	for _, p := range pairs {
		assert.Equal(t, IoU(p[0], p[1]), IoU(p[1], p[0]))
	}
}

func TestIoUPartialOverlap(t *testing.T) {
	// 5x5 intersection, union 100+100-25
	assert.InDelta(t, 25.0/175.0, IoU(box(0, 0, 10, 10), box(5, 5, 10, 10)), 1e-12)
	// contained box
	assert.InDelta(t, 16.0/400.0, IoU(box(3, 3, 4, 4), box(0, 0, 20, 20)), 1e-12)
}

func TestIoUDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, IoU(box(0, 0, 0, 0), box(0, 0, 0, 0)))
	assert.Equal(t, 0.0, IoU(box(5, 5, 0, 10), box(0, 0, 20, 20)))
}

func TestVetoFullCover(t *testing.T) {
	cat := box(100, 100, 80, 80)
	human := box(90, 90, 100, 100)
	kept, vetoed := Veto([]models.BoundingBox{cat}, []models.BoundingBox{human}, DefaultHumanIOUThreshold)
	assert.Empty(t, kept)
	assert.Equal(t, 1, vetoed)
}

// A face box much larger than the cat covers it entirely yet stays under
// the IoU threshold, so the cat survives.
func TestVetoLargeCoveringFaceBelowThreshold(t *testing.T) {
	cat := box(160, 160, 80, 80)
	human := box(0, 0, 400, 400)
	assert.InDelta(t, 0.04, IoU(cat, human), 1e-9)

	kept, vetoed := Veto([]models.BoundingBox{cat}, []models.BoundingBox{human}, DefaultHumanIOUThreshold)
	assert.Equal(t, []models.BoundingBox{cat}, kept)
	assert.Zero(t, vetoed)
}

func TestVetoNoOverlap(t *testing.T) {
	cat := box(100, 300, 80, 80)
	human := box(100, 10, 80, 80)
	kept, vetoed := Veto([]models.BoundingBox{cat}, []models.BoundingBox{human}, DefaultHumanIOUThreshold)
	assert.Equal(t, []models.BoundingBox{cat}, kept)
	assert.Zero(t, vetoed)
}

func TestVetoSingleFaceIsEnough(t *testing.T) {
	cat := box(0, 0, 10, 10)
	humans := []models.BoundingBox{
		box(500, 500, 10, 10),
		box(0, 0, 10, 10),
		box(900, 900, 10, 10),
	}
	kept, vetoed := Veto([]models.BoundingBox{cat}, humans, DefaultHumanIOUThreshold)
	assert.Empty(t, kept)
	assert.Equal(t, 1, vetoed)
}

func TestVetoThresholdIsExclusive(t *testing.T) {
	// IoU of exactly 0.2: intersection 20, union 100
	a := box(0, 0, 10, 6)
	b := box(0, 4, 10, 6)
	assert.InDelta(t, 20.0/100.0, IoU(a, b), 1e-12)

	kept, _ := Veto([]models.BoundingBox{a}, []models.BoundingBox{b}, 0.2)
	assert.Empty(t, kept)
	kept, _ = Veto([]models.BoundingBox{a}, []models.BoundingBox{b}, 0.21)
	assert.Len(t, kept, 1)
}

func TestVetoKeepsOrder(t *testing.T) {
	cats := []models.BoundingBox{box(0, 300, 10, 10), box(50, 50, 10, 10), box(200, 300, 10, 10)}
	humans := []models.BoundingBox{box(50, 50, 10, 10)}
	kept, vetoed := Veto(cats, humans, DefaultHumanIOUThreshold)
	assert.Equal(t, []models.BoundingBox{cats[0], cats[2]}, kept)
	assert.Equal(t, 1, vetoed)
}

func TestVetoNoHumans(t *testing.T) {
	cats := []models.BoundingBox{box(0, 0, 10, 10)}
	kept, vetoed := Veto(cats, nil, DefaultHumanIOUThreshold)
	assert.Equal(t, cats, kept)
	assert.Zero(t, vetoed)
}
