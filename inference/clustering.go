package inference

import (
	"image"
	"math"
	"sort"

	"github.com/Tutortoise/cat-watch-service/detections"
	"github.com/Tutortoise/cat-watch-service/models"
)

const (
	DefaultClusterSize = 50.0
	IouThreshold       = 0.45
)

// clusterBoxes collapses the many overlapping raw predictions a YOLO head
// emits for one object into a single box per object. Output order follows
// the highest confidence member of each group.
func clusterBoxes(dets []Detection) []image.Rectangle {
	if len(dets) == 0 {
		return nil
	}

	medianSize := calculateMedianSize(dets)
	eps := math.Max(medianSize, DefaultClusterSize) * 0.5
	minPoints := 1
	if len(dets) > 3 {
		minPoints = 2
	}

	points := make([]point, len(dets))
	for i, det := range dets {
		points[i] = toPoint(det.Box)
	}
	return processClusters(dets, dbscan(points, eps, minPoints))
}

func calculateMedianSize(dets []Detection) float64 {
	sizes := make([]float64, len(dets))
	for i, det := range dets {
		sizes[i] = math.Sqrt(float64(det.Box.Dx()) * float64(det.Box.Dy()))
	}

	if len(sizes) == 0 {
		return DefaultClusterSize
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

func processClusters(dets []Detection, clusters []int) []image.Rectangle {
	type group struct {
		first int
		boxes []image.Rectangle
	}
	groups := make(map[int]*group)
	var noise []int

	for i, cluster := range clusters {
		if cluster == -1 {
			noise = append(noise, i)
			continue
		}
		g, ok := groups[cluster]
		if !ok {
			g = &group{first: i}
			groups[cluster] = g
		}
		g.boxes = append(g.boxes, dets[i].Box)
	}

	ordered := make([]*group, 0, len(groups)+len(noise))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].first < ordered[j].first })

	// noise points join the first cluster they overlap, otherwise stand alone
	for _, i := range noise {
		box := dets[i].Box
		merged := false
		for _, g := range ordered {
			if overlapsAny(box, g.boxes) {
				g.boxes = append(g.boxes, box)
				merged = true
				break
			}
		}
		if !merged {
			ordered = append(ordered, &group{first: i, boxes: []image.Rectangle{box}})
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].first < ordered[j].first })

	finalBoxes := make([]image.Rectangle, 0, len(ordered))
	for _, g := range ordered {
		finalBoxes = append(finalBoxes, mergeBoxes(g.boxes))
	}
	return finalBoxes
}

func overlapsAny(box image.Rectangle, others []image.Rectangle) bool {
	for _, o := range others {
		if detections.IoU(models.FromRect(box), models.FromRect(o)) > IouThreshold {
			return true
		}
	}
	return false
}

func mergeBoxes(boxes []image.Rectangle) image.Rectangle {
	if len(boxes) == 0 {
		return image.Rectangle{}
	}

	result := boxes[0]
	for _, box := range boxes[1:] {
		result = result.Union(box)
	}
	return result
}

// point is a box as (x0, y0, x1, y1).
type point [4]float64

func toPoint(r image.Rectangle) point {
	return point{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
}

func (p point) dist(q point) float64 {
	var sum float64
	for i := range p {
		d := p[i] - q[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// dbscan labels each point with a cluster id, or -1 for noise.
func dbscan(points []point, eps float64, minPoints int) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	next := 0
	for i := range points {
		if labels[i] != -1 {
			continue
		}
		seeds := regionQuery(points, i, eps)
		if len(seeds) < minPoints {
			continue
		}
		labels[i] = next
		grow(points, labels, seeds, next, eps, minPoints)
		next++
	}
	return labels
}

func regionQuery(points []point, idx int, eps float64) []int {
	var out []int
	for j, q := range points {
		if points[idx].dist(q) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// grow walks the seed list, which grows as core points are found.
func grow(points []point, labels []int, seeds []int, cluster int, eps float64, minPoints int) {
	for k := 0; k < len(seeds); k++ {
		j := seeds[k]
		if labels[j] != -1 {
			continue
		}
		labels[j] = cluster
		if more := regionQuery(points, j, eps); len(more) >= minPoints {
			seeds = append(seeds, more...)
		}
	}
}
