package detections

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Tutortoise/retinaface-detect/checkpoint"
)

var ErrUnsupportedDepth = errors.New("unsupported model depth, must be one of 18, 34, 50, 101, 152")

// Depth selects the ResNet backbone of the detector.
type Depth int

const (
	Depth18  Depth = 18
	Depth34  Depth = 34
	Depth50  Depth = 50
	Depth101 Depth = 101
	Depth152 Depth = 152
)

// ParseDepth accepts only the supported backbone depths.
func ParseDepth(n int) (Depth, error) {
	d := Depth(n)
	if _, ok := constructors[d]; !ok {
		return 0, fmt.Errorf("%w: got %d", ErrUnsupportedDepth, n)
	}
	return d, nil
}

func (d Depth) String() string {
	return fmt.Sprintf("resnet%d", int(d))
}

type Options struct {
	// GraphDir holds one retinaface_resnet<depth>.onnx graph per backbone.
	GraphDir   string
	NumClasses int
	// Pretrained marks the backbone as initialized from ImageNet
	// classification weights; the graph's initializers carry them.
	Pretrained bool
}

func DefaultOptions(graphDir string) Options {
	return Options{
		GraphDir:   graphDir,
		NumClasses: NumClasses,
		Pretrained: true,
	}
}

// Network is a RetinaFace detector with a ResNet backbone. Its parameters are
// the float tensor inputs of the exported graph; values loaded with
// LoadStateDict override the graph's initializers.
type Network struct {
	Name       string
	Depth      Depth
	NumClasses int
	Pretrained bool
	GraphPath  string

	params checkpoint.StateDict
}

func newResNet(depth Depth, opts Options) *Network {
	return &Network{
		Name:       depth.String(),
		Depth:      depth,
		NumClasses: opts.NumClasses,
		Pretrained: opts.Pretrained,
		GraphPath:  filepath.Join(opts.GraphDir, graphFilePrefix+depth.String()+".onnx"),
	}
}

func ResNet18(opts Options) *Network  { return newResNet(Depth18, opts) }
func ResNet34(opts Options) *Network  { return newResNet(Depth34, opts) }
func ResNet50(opts Options) *Network  { return newResNet(Depth50, opts) }
func ResNet101(opts Options) *Network { return newResNet(Depth101, opts) }
func ResNet152(opts Options) *Network { return newResNet(Depth152, opts) }

var constructors = map[Depth]func(Options) *Network{
	Depth18:  ResNet18,
	Depth34:  ResNet34,
	Depth50:  ResNet50,
	Depth101: ResNet101,
	Depth152: ResNet152,
}

// NewNetwork builds the detector for the given backbone depth.
func NewNetwork(depth int, opts Options) (*Network, error) {
	d, err := ParseDepth(depth)
	if err != nil {
		return nil, err
	}
	return constructors[d](opts), nil
}

// LoadStateDict replaces the network's loaded parameters.
func (n *Network) LoadStateDict(sd checkpoint.StateDict) {
	n.params = make(checkpoint.StateDict, len(sd))
	for k, v := range sd {
		n.params[k] = v
	}
}

// StateDict returns the parameters loaded into the network.
func (n *Network) StateDict() checkpoint.StateDict {
	return n.params
}
