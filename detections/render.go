package detections

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/Tutortoise/retinaface-detect/models"
)

var BoxColor = color.RGBA{R: 255, A: 255}

// DrawDetections outlines every picked face box on img. The input image is
// returned as is when nothing was picked.
func DrawDetections(img image.Image, picked [][]models.Detection) image.Image {
	count := 0
	for _, dets := range picked {
		count += len(dets)
	}
	if count == 0 {
		return img
	}

	dc := gg.NewContextForImage(img)
	dc.SetColor(BoxColor)
	dc.SetLineWidth(BoxStrokeWidth)
	for _, dets := range picked {
		for _, d := range dets {
			x1, y1 := float64(int(d.BBox[0])), float64(int(d.BBox[1]))
			x2, y2 := float64(int(d.BBox[2])), float64(int(d.BBox[3]))
			dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
			dc.Stroke()
		}
	}
	return dc.Image()
}
