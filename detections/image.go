package detections

import (
	"errors"
	"fmt"
	"slices"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"gorgonia.org/tensor"

	_ "golang.org/x/image/webp"
)

var ErrUnsupportedImage = errors.New("unsupported image type")

var acceptedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/vnd.mozilla.apng",
	"image/gif",
	"image/bmp",
	"image/tiff",
	"image/webp",
}

// ReadImage decodes the image at path into an RGB (3, H, W) tensor.
func ReadImage(path string) (*tensor.Dense, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	if !slices.Contains(acceptedTypes, mime.String()) {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedImage, path, mime.String())
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decode image %s: empty image", path)
	}

	return ImageToTensor(img), nil
}
