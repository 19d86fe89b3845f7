package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tutortoise/retinaface-detect/models"
)

func newLogger(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// debugEnabled falls back to the DEBUG env when no Config was parsed.
func debugEnabled(cfg *Config) bool {
	if cfg == nil {
		return os.Getenv("DEBUG") == "true"
	}
	return cfg.Debug
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	log := newLogger(debugEnabled(cfg))
	if err != nil {
		log.WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("Detection failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, log *logrus.Logger) error {
	startTotal := time.Now()
	timings := &models.Timings{}

	destroyRuntime, err := initRuntime(cfg.OrtLib)
	if err != nil {
		return err
	}
	defer destroyRuntime()

	loadStart := time.Now()
	net, err := loadModel(cfg, log)
	if err != nil {
		return err
	}
	session, err := net.To(cfg.Device, log)
	if err != nil {
		return err
	}
	defer session.Destroy()
	timings.ModelLoad = time.Since(loadStart)

	if _, err := detectImage(ctx, cfg, session, newViewer(), timings, log); err != nil {
		return err
	}

	timings.Total = time.Since(startTotal)
	logTimings(log, timings)
	return nil
}
