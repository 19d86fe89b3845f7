package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Tutortoise/retinaface-detect/detections"
)

var errMissingModelPath = errors.New("--model_path is required")

type Config struct {
	ImagePath string
	ModelPath string
	SavePath  string
	GraphDir  string
	OrtLib    string

	Depth  detections.Depth
	Device detections.Device

	ScoreThreshold float64
	IouThreshold   float64
	MinMatch       float64

	Show  bool
	Debug bool
}

// parseFlags reads the command line into a validated Config.
func parseFlags(args []string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("retinaface-detect", flag.ContinueOnError)
	fs.SetOutput(output)

	cfg := &Config{}
	var depth int
	var device string

	fs.StringVar(&cfg.ImagePath, "image_path", "test.jpg", "Path to the image to run detection on")
	fs.StringVar(&cfg.ModelPath, "model_path", "", "Path to the .npz checkpoint")
	fs.StringVar(&cfg.SavePath, "save_path", "./", "Directory the annotated image is written to, empty to skip saving")
	fs.IntVar(&depth, "depth", 50, "ResNet backbone depth: 18, 34, 50, 101 or 152")
	fs.StringVar(&device, "device", string(detections.DeviceCUDA), "Compute device: cuda or cpu")
	fs.StringVar(&cfg.GraphDir, "graph_dir", "./models", "Directory holding retinaface_resnet<depth>.onnx")
	fs.StringVar(&cfg.OrtLib, "ort_lib", defaultSharedLibPath(), "Path to the onnxruntime shared library (env "+ortLibEnv+")")
	fs.Float64Var(&cfg.ScoreThreshold, "score_threshold", detections.ScoreThreshold, "Minimum face score")
	fs.Float64Var(&cfg.IouThreshold, "iou_threshold", detections.IouThreshold, "IoU above which overlapping boxes are suppressed")
	fs.Float64Var(&cfg.MinMatch, "min_match", 0.5, "Minimum fraction of model parameters the checkpoint must cover")
	fs.BoolVar(&cfg.Show, "show", true, "Show the result in a window until a key is pressed")
	fs.BoolVar(&cfg.Debug, "debug", os.Getenv("DEBUG") == "true", "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var err error
	if cfg.Depth, err = detections.ParseDepth(depth); err != nil {
		return nil, err
	}
	if cfg.Device, err = detections.ParseDevice(device); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errMissingModelPath
	}
	if c.ImagePath == "" {
		return errors.New("--image_path must not be empty")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold >= 1 {
		return fmt.Errorf("--score_threshold must be in [0, 1), got %v", c.ScoreThreshold)
	}
	if c.IouThreshold <= 0 || c.IouThreshold > 1 {
		return fmt.Errorf("--iou_threshold must be in (0, 1], got %v", c.IouThreshold)
	}
	if c.MinMatch < 0 || c.MinMatch > 1 {
		return fmt.Errorf("--min_match must be in [0, 1], got %v", c.MinMatch)
	}
	return nil
}
