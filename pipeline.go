package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/Tutortoise/retinaface-detect/checkpoint"
	"github.com/Tutortoise/retinaface-detect/detections"
	"github.com/Tutortoise/retinaface-detect/models"
)

const windowTitle = "RetinaFace"

type viewer interface {
	Show(title string, img image.Image) error
}

type result struct {
	Detections [][]models.Detection
	Image      image.Image
	SavedTo    string
}

func (r *result) faceCount() int {
	n := 0
	for _, dets := range r.Detections {
		n += len(dets)
	}
	return n
}

func logTimings(log logrus.FieldLogger, t *models.Timings) {
	log.WithFields(logrus.Fields{
		"model_load":   t.ModelLoad,
		"image_decode": t.ImageDecode,
		"preprocess":   t.Preprocess,
		"inference":    t.Inference,
		"render":       t.Render,
		"total":        t.Total,
	}).Debug("Processing times")
}

// loadModel builds the network for cfg.Depth and transfers the checkpoint
// onto it.
func loadModel(cfg *Config, log logrus.FieldLogger) (*detections.Network, error) {
	net, err := detections.NewNetwork(int(cfg.Depth), detections.DefaultOptions(cfg.GraphDir))
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"model": net.Name, "graph": net.GraphPath}).Info("Building model")

	layout, err := net.Layout()
	if err != nil {
		return nil, err
	}
	if err := transferCheckpoint(net, layout, cfg.ModelPath, cfg.MinMatch, log); err != nil {
		return nil, err
	}
	return net, nil
}

func transferCheckpoint(net *detections.Network, layout checkpoint.Layout, path string, minMatch float64, log logrus.FieldLogger) error {
	stored, err := checkpoint.Load(path)
	if err != nil {
		return err
	}

	adapted, report, err := checkpoint.Adapt(stored, layout)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"stored":  report.Stored,
		"live":    report.Live,
		"matched": report.Matched,
	}).Info("Loaded pretrained weights")

	if err := report.Check(minMatch); err != nil {
		return err
	}
	if len(report.Missing) > 0 {
		log.WithField("coverage", fmt.Sprintf("%.1f%%", report.Coverage()*100)).
			Warnf("%d model parameters keep their graph defaults", len(report.Missing))
		log.Debugf("Parameters not in checkpoint: %s", strings.Join(report.Missing, ", "))
	}
	if len(report.Dropped) > 0 {
		log.Warnf("%d checkpoint entries did not match the model", len(report.Dropped))
		log.Debugf("Unmatched checkpoint entries: %s", strings.Join(report.Dropped, ", "))
	}

	net.LoadStateDict(adapted)
	return nil
}

// detectImage runs the detector on cfg.ImagePath, draws the picked boxes on
// the network input image, then saves and shows it as configured.
func detectImage(ctx context.Context, cfg *Config, runner detections.Runner, view viewer, timings *models.Timings, log logrus.FieldLogger) (*result, error) {
	decodeStart := time.Now()
	img, err := detections.ReadImage(cfg.ImagePath)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, err
	}

	preprocessStart := time.Now()
	processed, err := detections.Preprocess(img)
	if err != nil {
		return nil, err
	}
	batch, err := detections.Batch(processed)
	timings.Preprocess = time.Since(preprocessStart)
	if err != nil {
		return nil, err
	}

	inferenceStart := time.Now()
	picked, err := detections.GetDetections(ctx, batch, runner, float32(cfg.ScoreThreshold), float32(cfg.IouThreshold))
	timings.Inference = time.Since(inferenceStart)
	if err != nil {
		return nil, err
	}

	renderStart := time.Now()
	display, err := detections.TensorToImage(processed)
	if err != nil {
		return nil, err
	}
	res := &result{
		Detections: picked,
		Image:      detections.DrawDetections(display, picked),
	}
	timings.Render = time.Since(renderStart)

	log.WithField("image", cfg.ImagePath).Info(getDetectionMessage(res.faceCount()))
	for _, dets := range picked {
		for _, d := range dets {
			log.WithFields(logrus.Fields{"score": d.Score, "box": d.BBox}).Debug("Face")
		}
	}

	if cfg.SavePath != "" {
		res.SavedTo, err = saveResult(res.Image, cfg.SavePath, cfg.ImagePath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", res.SavedTo).Info("Saved result")
	}

	if cfg.Show && view != nil {
		if err := view.Show(windowTitle, res.Image); err != nil {
			return nil, fmt.Errorf("show result: %w", err)
		}
	}

	return res, nil
}

func saveResult(img image.Image, dir, imagePath string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create save directory: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	path := filepath.Join(dir, name+"_detected.png")
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("save result: %w", err)
	}
	return path, nil
}
