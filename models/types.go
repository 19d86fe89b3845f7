package models

import "time"

// Point is a landmark position in network input pixels.
type Point struct {
	X float32
	Y float32
}

// Detection is one face picked by the detector.
type Detection struct {
	// BBox is x1, y1, x2, y2 in network input pixels.
	BBox      [4]float32
	Score     float32
	Landmarks [5]Point
}

type Timings struct {
	ModelLoad   time.Duration
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Render      time.Duration
	Total       time.Duration
}
