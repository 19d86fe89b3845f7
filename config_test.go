package main

import (
	"errors"
	"flag"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/retinaface-detect/detections"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags([]string{"--model_path=weights.npz"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "test.jpg", cfg.ImagePath)
	assert.Equal(t, "weights.npz", cfg.ModelPath)
	assert.Equal(t, "./", cfg.SavePath)
	assert.Equal(t, detections.Depth50, cfg.Depth)
	assert.Equal(t, detections.DeviceCUDA, cfg.Device)
	assert.Equal(t, "./models", cfg.GraphDir)
	assert.InDelta(t, 0.05, cfg.ScoreThreshold, 1e-9)
	assert.InDelta(t, 0.3, cfg.IouThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.MinMatch, 1e-9)
	assert.True(t, cfg.Show)
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{
		"--image_path=faces.png",
		"--model_path", "ckpt.npz",
		"--save_path=",
		"--depth=101",
		"--device=cpu",
		"--show=false",
		"--score_threshold=0.5",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "faces.png", cfg.ImagePath)
	assert.Equal(t, "ckpt.npz", cfg.ModelPath)
	assert.Empty(t, cfg.SavePath)
	assert.Equal(t, detections.Depth101, cfg.Depth)
	assert.Equal(t, detections.DeviceCPU, cfg.Device)
	assert.False(t, cfg.Show)
	assert.InDelta(t, 0.5, cfg.ScoreThreshold, 1e-9)
}

func TestParseFlagsDebugFromEnv(t *testing.T) {
	t.Setenv("DEBUG", "true")

	cfg, err := parseFlags([]string{"--model_path=w.npz"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestDebugEnabledWithoutConfig(t *testing.T) {
	t.Setenv("DEBUG", "true")

	cfg, err := parseFlags([]string{"--depth=64"}, io.Discard)
	require.Error(t, err)
	assert.True(t, debugEnabled(cfg))
	assert.Equal(t, logrus.DebugLevel, newLogger(debugEnabled(cfg)).GetLevel())

	t.Setenv("DEBUG", "")
	assert.False(t, debugEnabled(nil))
	assert.True(t, debugEnabled(&Config{Debug: true}))
}

func TestParseFlagsOrtLibFromEnv(t *testing.T) {
	t.Setenv(ortLibEnv, "/opt/ort/libonnxruntime.so")

	cfg, err := parseFlags([]string{"--model_path=w.npz"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.OrtLib)
}

func TestParseFlagsErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "missing model path", args: nil, wantErr: errMissingModelPath},
		{name: "unsupported depth", args: []string{"--model_path=w.npz", "--depth=64"}, wantErr: detections.ErrUnsupportedDepth},
		{name: "unsupported device", args: []string{"--model_path=w.npz", "--device=mps"}, wantErr: detections.ErrUnsupportedDevice},
		{name: "help", args: []string{"--help"}, wantErr: flag.ErrHelp},
		{name: "score threshold", args: []string{"--model_path=w.npz", "--score_threshold=1.5"}},
		{name: "iou threshold", args: []string{"--model_path=w.npz", "--iou_threshold=0"}},
		{name: "min match", args: []string{"--model_path=w.npz", "--min_match=2"}},
		{name: "empty image path", args: []string{"--model_path=w.npz", "--image_path="}},
		{name: "stray argument", args: []string{"--model_path=w.npz", "extra"}},
		{name: "unknown flag", args: []string{"--model_path=w.npz", "--batch=4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseFlags(tt.args, io.Discard)
			require.Error(t, err)
			assert.Nil(t, cfg)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestGetDetectionMessage(t *testing.T) {
	assert.Equal(t, MsgNoFace, getDetectionMessage(0))
	assert.Equal(t, MsgSingleFace, getDetectionMessage(1))
	assert.Equal(t, "Detected 3 faces", getDetectionMessage(3))
}
