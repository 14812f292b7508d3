package detections

import "github.com/Tutortoise/cat-watch-service/models"

// IoU returns the intersection over union of two boxes, 0 when they do not
// overlap.
func IoU(a, b models.BoundingBox) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.Width, b.X+b.Width)
	y2 := min(a.Y+a.Height, b.Y+b.Height)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := float64(x2-x1) * float64(y2-y1)
	union := float64(a.Area()) + float64(b.Area()) - intersection
	if union <= 0 {
		return 0.0
	}
	return intersection / union
}

// Veto drops every cat box that overlaps any human box by thresh or more.
// One overlapping face is enough. Order of the surviving boxes is preserved.
func Veto(cats, humans []models.BoundingBox, thresh float64) (kept []models.BoundingBox, vetoed int) {
	kept = make([]models.BoundingBox, 0, len(cats))
	for _, c := range cats {
		if overlapsAny(c, humans, thresh) {
			vetoed++
			continue
		}
		kept = append(kept, c)
	}
	return kept, vetoed
}

func overlapsAny(box models.BoundingBox, others []models.BoundingBox, thresh float64) bool {
	for _, o := range others {
		if IoU(box, o) >= thresh {
			return true
		}
	}
	return false
}
