package detections

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sys/cpu"
	"gorgonia.org/tensor"

	"github.com/Tutortoise/retinaface-detect/checkpoint"
)

var ErrUnsupportedDevice = errors.New("unsupported device, must be one of cpu, cuda")

// Device is the compute device a session runs on.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

func ParseDevice(s string) (Device, error) {
	switch d := Device(s); d {
	case DeviceCPU, DeviceCUDA:
		return d, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrUnsupportedDevice, s)
}

// Layout reads the network's parameter names and shapes from its graph.
func (n *Network) Layout() (checkpoint.Layout, error) {
	inputs, _, err := ort.GetInputOutputInfo(n.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", n.GraphPath, err)
	}

	layout := make(checkpoint.Layout, len(inputs))
	for _, info := range inputs {
		if info.Name == InputName || info.DataType != ort.TensorElementDataTypeFloat {
			continue
		}
		shape := make(tensor.Shape, len(info.Dimensions))
		for i, d := range info.Dimensions {
			shape[i] = int(d)
		}
		layout[info.Name] = shape
	}
	return layout, nil
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Params  []*ort.Tensor[float32]
	// Outputs holds the scores, boxes and landmarks tensors in that order.
	Outputs [3]*ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	for _, p := range m.Params {
		p.Destroy()
	}
	for _, o := range m.Outputs {
		if o != nil {
			o.Destroy()
		}
	}
}

func newSessionOptions(device Device, log logrus.FieldLogger) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}

	switch device {
	case DeviceCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error creating CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error configuring CUDA provider: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("CUDA is not available (use --device=cpu): %w", err)
		}
		log.Info("Running inference on cuda:0")
	case DeviceCPU:
		if err := setThreads(options, runtime.NumCPU()); err != nil {
			options.Destroy()
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"threads": runtime.NumCPU(),
			"avx2":    cpu.X86.HasAVX2,
			"avx512":  cpu.X86.HasAVX512,
			"sse41":   cpu.X86.HasSSE41,
			"asimd":   cpu.ARM64.HasASIMD,
		}).Info("Running inference on cpu")
	default:
		options.Destroy()
		return nil, fmt.Errorf("%w: got %q", ErrUnsupportedDevice, device)
	}

	return options, nil
}

type threadSetter interface {
	SetIntraOpNumThreads(n int) error
	SetInterOpNumThreads(n int) error
}

func setThreads(options threadSetter, n int) error {
	if err := options.SetIntraOpNumThreads(n); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(n); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}
	return nil
}

func fixedShape(info ort.InputOutputInfo) (ort.Shape, error) {
	shape := make(ort.Shape, len(info.Dimensions))
	for i, d := range info.Dimensions {
		if d <= 0 {
			if i != 0 {
				return nil, fmt.Errorf("graph output %s has dynamic shape %v; export it with a fixed input size", info.Name, info.Dimensions)
			}
			d = 1
		}
		shape[i] = d
	}
	return shape, nil
}

// To binds the network and its loaded parameters to a device.
func (n *Network) To(device Device, log logrus.FieldLogger) (*ModelSession, error) {
	_, outputInfos, err := ort.GetInputOutputInfo(n.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", n.GraphPath, err)
	}
	outputShapes := make(map[string]ort.Shape, len(outputInfos))
	for _, info := range outputInfos {
		if info.Name != ScoresName && info.Name != BoxesName && info.Name != LandmarksName {
			continue
		}
		shape, err := fixedShape(info)
		if err != nil {
			return nil, err
		}
		outputShapes[info.Name] = shape
	}

	options, err := newSessionOptions(device, log)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	m := &ModelSession{}
	m.Input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, InputSize, InputSize))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	inputNames := []string{InputName}
	inputs := []ort.ArbitraryTensor{m.Input}
	for _, name := range n.params.Keys() {
		p, err := paramTensor(n.params[name])
		if err != nil {
			m.Destroy()
			return nil, fmt.Errorf("error creating parameter tensor %s: %w", name, err)
		}
		m.Params = append(m.Params, p)
		inputNames = append(inputNames, name)
		inputs = append(inputs, p)
	}

	outputNames := []string{ScoresName, BoxesName, LandmarksName}
	outputs := make([]ort.ArbitraryTensor, len(outputNames))
	for i, name := range outputNames {
		shape, ok := outputShapes[name]
		if !ok {
			m.Destroy()
			return nil, fmt.Errorf("graph %s has no output %q", n.GraphPath, name)
		}
		m.Outputs[i], err = ort.NewEmptyTensor[float32](shape)
		if err != nil {
			m.Destroy()
			return nil, fmt.Errorf("error creating output tensor %s: %w", name, err)
		}
		outputs[i] = m.Outputs[i]
	}

	m.Session, err = ort.NewAdvancedSession(n.GraphPath, inputNames, outputNames, inputs, outputs, options)
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return m, nil
}

func paramTensor(value *tensor.Dense) (*ort.Tensor[float32], error) {
	shape := value.Shape()
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}

	var data []float32
	if value.IsScalar() {
		data = []float32{value.ScalarValue().(float32)}
	} else {
		data = append([]float32(nil), value.Data().([]float32)...)
	}
	return ort.NewTensor(ort.NewShape(dims...), data)
}

// Forward runs the graph on a (1, 3, InputSize, InputSize) batch.
func (m *ModelSession) Forward(ctx context.Context, batch *tensor.Dense) (*Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !batch.Shape().Eq(tensor.Shape{1, 3, InputSize, InputSize}) {
		return nil, fmt.Errorf("batch shape %v does not match graph input (1, 3, %d, %d)", batch.Shape(), InputSize, InputSize)
	}

	copy(m.Input.GetData(), batch.Data().([]float32))
	if err := m.Session.Run(); err != nil {
		return nil, err
	}

	scoresShape := m.Outputs[0].GetShape()
	if len(scoresShape) != 3 {
		return nil, fmt.Errorf("unexpected %s shape %v", ScoresName, scoresShape)
	}
	out := &Outputs{
		Batch:     int(scoresShape[0]),
		Anchors:   int(scoresShape[1]),
		Classes:   int(scoresShape[2]),
		Scores:    append([]float32(nil), m.Outputs[0].GetData()...),
		Boxes:     append([]float32(nil), m.Outputs[1].GetData()...),
		Landmarks: append([]float32(nil), m.Outputs[2].GetData()...),
	}
	return out, nil
}
