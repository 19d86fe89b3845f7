package detections

import (
	"context"
	"fmt"
	"sort"

	"gorgonia.org/tensor"

	"github.com/Tutortoise/retinaface-detect/models"
)

// Runner performs the network forward pass.
type Runner interface {
	Forward(ctx context.Context, batch *tensor.Dense) (*Outputs, error)
}

// Outputs holds the raw network outputs for a batch. Boxes are already
// decoded to x1, y1, x2, y2 in input pixels.
type Outputs struct {
	Batch     int
	Anchors   int
	Classes   int
	Scores    []float32 // Batch x Anchors x Classes
	Boxes     []float32 // Batch x Anchors x 4
	Landmarks []float32 // Batch x Anchors x 2*NumLandmarks
}

func (o *Outputs) validate() error {
	n := o.Batch * o.Anchors
	switch {
	case o.Classes < 1:
		return fmt.Errorf("invalid class count %d", o.Classes)
	case len(o.Scores) != n*o.Classes:
		return fmt.Errorf("unexpected scores length: got %d, want %d", len(o.Scores), n*o.Classes)
	case len(o.Boxes) != n*4:
		return fmt.Errorf("unexpected boxes length: got %d, want %d", len(o.Boxes), n*4)
	case len(o.Landmarks) != n*2*NumLandmarks:
		return fmt.Errorf("unexpected landmarks length: got %d, want %d", len(o.Landmarks), n*2*NumLandmarks)
	}
	return nil
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

// GetDetections runs the network on a (N, C, H, W) batch and returns the
// faces picked for every image of the batch. An image with no face above
// scoreThreshold gets a nil entry.
func GetDetections(ctx context.Context, batch *tensor.Dense, runner Runner, scoreThreshold, iouThreshold float32) ([][]models.Detection, error) {
	shape := batch.Shape()
	if len(shape) != 4 {
		return nil, &ProcessingError{Message: fmt.Sprintf("expected a (batch, channels, height, width) tensor, got shape %v", shape)}
	}
	width, height := float32(shape[3]), float32(shape[2])

	out, err := runner.Forward(ctx, batch)
	if err != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	if err := out.validate(); err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	if out.Batch != shape[0] {
		return nil, &ProcessingError{Message: fmt.Sprintf("process predictions: got %d results for a batch of %d", out.Batch, shape[0])}
	}

	picked := make([][]models.Detection, out.Batch)
	for b := 0; b < out.Batch; b++ {
		candidates := collect(out, b, scoreThreshold, width, height)
		if len(candidates) == 0 {
			continue
		}
		picked[b] = nms(candidates, iouThreshold)
	}
	return picked, nil
}

func collect(out *Outputs, b int, threshold, width, height float32) []models.Detection {
	faceClass := 1
	if out.Classes == 1 {
		faceClass = 0
	}

	var detections []models.Detection
	for a := 0; a < out.Anchors; a++ {
		i := b*out.Anchors + a
		score := out.Scores[i*out.Classes+faceClass]
		if score <= threshold {
			continue
		}

		box := [4]float32{
			clamp(out.Boxes[i*4], 0, width),
			clamp(out.Boxes[i*4+1], 0, height),
			clamp(out.Boxes[i*4+2], 0, width),
			clamp(out.Boxes[i*4+3], 0, height),
		}
		if box[2] <= box[0] || box[3] <= box[1] {
			continue
		}

		d := models.Detection{BBox: box, Score: score}
		lm := out.Landmarks[i*2*NumLandmarks:]
		for j := range d.Landmarks {
			d.Landmarks[j] = models.Point{X: lm[2*j], Y: lm[2*j+1]}
		}
		detections = append(detections, d)
	}
	return detections
}

// nms keeps the highest scoring boxes, dropping any box whose IoU with an
// already kept one exceeds threshold.
func nms(detections []models.Detection, threshold float32) []models.Detection {
	sortDetectionsByScore(detections)

	kept := make([]models.Detection, 0, len(detections))
	suppressed := make([]bool, len(detections))
	for i := range detections {
		if suppressed[i] {
			continue
		}
		kept = append(kept, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if !suppressed[j] && calculateIOU(detections[i].BBox, detections[j].BBox) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func calculateIOU(box1, box2 [4]float32) float32 {
	x1 := max(box1[0], box2[0])
	y1 := max(box1[1], box2[1])
	x2 := min(box1[2], box2[2])
	y2 := min(box1[3], box2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1[2] - box1[0]) * (box1[3] - box1[1])
	area2 := (box2[2] - box2[0]) * (box2[3] - box2[1])
	union := area1 + area2 - intersection

	return intersection / union
}

func sortDetectionsByScore(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
