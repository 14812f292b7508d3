package detections

const (
	DefaultHumanIOUThreshold = 0.2
	DefaultROITopFraction    = 0.45

	HumanScaleFactor  = 1.10
	HumanMinNeighbors = 6
	HumanMinSize      = 80

	CatScaleFactor  = 1.02
	CatMinNeighbors = 5
	CatMinSize      = 80
)
