package detections

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/Tutortoise/retinaface-detect/models"
)

type fakeRunner struct {
	out *Outputs
	err error
}

func (f *fakeRunner) Forward(ctx context.Context, _ *tensor.Dense) (*Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.out, f.err
}

type anchor struct {
	score float32
	box   [4]float32
}

func outputsFor(anchors ...anchor) *Outputs {
	out := &Outputs{Batch: 1, Anchors: len(anchors), Classes: NumClasses}
	for i, a := range anchors {
		out.Scores = append(out.Scores, 1-a.score, a.score)
		out.Boxes = append(out.Boxes, a.box[:]...)
		for j := 0; j < NumLandmarks; j++ {
			out.Landmarks = append(out.Landmarks, float32(i*100+j), float32(i*100+j)+0.5)
		}
	}
	return out
}

func inputBatch() *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 3, InputSize, InputSize))
}

func TestGetDetections(t *testing.T) {
	runner := &fakeRunner{out: outputsFor(
		anchor{score: 0.9, box: [4]float32{10, 10, 100, 100}},
		anchor{score: 0.8, box: [4]float32{12, 12, 102, 102}},
		anchor{score: 0.02, box: [4]float32{300, 300, 400, 400}},
		anchor{score: 0.6, box: [4]float32{-20, 600, 50, 700}},
	)}

	picked, err := GetDetections(context.Background(), inputBatch(), runner, ScoreThreshold, IouThreshold)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.Len(t, picked[0], 2)

	first := picked[0][0]
	assert.Equal(t, [4]float32{10, 10, 100, 100}, first.BBox)
	assert.InDelta(t, 0.9, first.Score, 1e-6)
	assert.Equal(t, models.Point{X: 0, Y: 0.5}, first.Landmarks[0])
	assert.Equal(t, models.Point{X: 4, Y: 4.5}, first.Landmarks[4])

	clipped := picked[0][1]
	assert.Equal(t, [4]float32{0, 600, 50, InputSize}, clipped.BBox)
	assert.Equal(t, models.Point{X: 300, Y: 300.5}, clipped.Landmarks[0])

	for _, d := range picked[0] {
		assert.GreaterOrEqual(t, d.BBox[0], float32(0))
		assert.GreaterOrEqual(t, d.BBox[1], float32(0))
		assert.LessOrEqual(t, d.BBox[2], float32(InputSize))
		assert.LessOrEqual(t, d.BBox[3], float32(InputSize))
		assert.Less(t, d.BBox[0], d.BBox[2])
		assert.Less(t, d.BBox[1], d.BBox[3])
	}
}

func TestGetDetectionsNothingAboveThreshold(t *testing.T) {
	runner := &fakeRunner{out: outputsFor(
		anchor{score: 0.05, box: [4]float32{10, 10, 100, 100}},
		anchor{score: 0.01, box: [4]float32{200, 200, 300, 300}},
	)}

	picked, err := GetDetections(context.Background(), inputBatch(), runner, ScoreThreshold, IouThreshold)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Nil(t, picked[0])
}

func TestGetDetectionsDropsDegenerateBoxes(t *testing.T) {
	runner := &fakeRunner{out: outputsFor(
		anchor{score: 0.9, box: [4]float32{700, 10, 800, 100}},
		anchor{score: 0.9, box: [4]float32{50, 50, 50, 90}},
	)}

	picked, err := GetDetections(context.Background(), inputBatch(), runner, ScoreThreshold, IouThreshold)
	require.NoError(t, err)
	assert.Nil(t, picked[0])
}

func TestGetDetectionsRunnerError(t *testing.T) {
	cause := errors.New("session failed")
	runner := &fakeRunner{err: cause}

	_, err := GetDetections(context.Background(), inputBatch(), runner, ScoreThreshold, IouThreshold)
	require.Error(t, err)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "model inference", perr.Message)
	assert.ErrorIs(t, err, cause)
}

func TestGetDetectionsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GetDetections(ctx, inputBatch(), &fakeRunner{out: outputsFor()}, ScoreThreshold, IouThreshold)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetDetectionsMalformedOutputs(t *testing.T) {
	out := outputsFor(anchor{score: 0.9, box: [4]float32{10, 10, 100, 100}})
	out.Boxes = out.Boxes[:3]

	_, err := GetDetections(context.Background(), inputBatch(), &fakeRunner{out: out}, ScoreThreshold, IouThreshold)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "process predictions", perr.Message)
}

func TestGetDetectionsRejectsUnbatchedInput(t *testing.T) {
	img := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(3, InputSize, InputSize))

	_, err := GetDetections(context.Background(), img, &fakeRunner{out: outputsFor()}, ScoreThreshold, IouThreshold)
	assert.Error(t, err)
}

func TestNMS(t *testing.T) {
	dets := []models.Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Score: 0.5},
		{BBox: [4]float32{1, 1, 11, 11}, Score: 0.7},
		{BBox: [4]float32{20, 20, 30, 30}, Score: 0.6},
		// IoU 0.25 with the 0.6 box, below the threshold.
		{BBox: [4]float32{20, 26, 30, 36}, Score: 0.4},
	}

	kept := nms(dets, IouThreshold)
	require.Len(t, kept, 3)
	assert.Equal(t, float32(0.7), kept[0].Score)
	assert.Equal(t, float32(0.6), kept[1].Score)
	assert.Equal(t, float32(0.4), kept[2].Score)
}

func TestCalculateIOU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float32
		want float32
	}{
		{name: "identical", a: [4]float32{0, 0, 10, 10}, b: [4]float32{0, 0, 10, 10}, want: 1},
		{name: "disjoint", a: [4]float32{0, 0, 10, 10}, b: [4]float32{20, 20, 30, 30}, want: 0},
		{name: "touching", a: [4]float32{0, 0, 10, 10}, b: [4]float32{10, 0, 20, 10}, want: 0},
		{name: "half overlap", a: [4]float32{0, 0, 10, 10}, b: [4]float32{5, 0, 15, 10}, want: 50.0 / 150.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calculateIOU(tt.a, tt.b), 1e-6)
		})
	}
}
