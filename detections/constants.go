package detections

const (
	InputSize      = 640
	PadValue       = 0
	NumClasses     = 2
	ScoreThreshold = 0.05
	IouThreshold   = 0.3
	BoxStrokeWidth = 2
	NumLandmarks   = 5
)

// Graph tensor names.
const (
	InputName       = "input"
	ScoresName      = "classifications"
	BoxesName       = "bboxes"
	LandmarksName   = "landmarks"
	graphFilePrefix = "retinaface_"
)
