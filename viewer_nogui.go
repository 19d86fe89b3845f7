//go:build nogui

package main

import (
	"errors"
	"image"
)

type windowViewer struct{}

func newViewer() viewer {
	return windowViewer{}
}

func (windowViewer) Show(string, image.Image) error {
	return errors.New("built without window support, run with --show=false")
}
