//go:build !nogui

package main

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

type windowViewer struct{}

func newViewer() viewer {
	return windowViewer{}
}

// Show opens a window with img and blocks until a key is pressed.
func (windowViewer) Show(title string, img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	window := gocv.NewWindow(title)
	defer window.Close()

	window.IMShow(mat)
	window.WaitKey(0)
	return nil
}
