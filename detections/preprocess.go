package detections

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"
)

func chw(t *tensor.Dense) (c, h, w int, err error) {
	shape := t.Shape()
	if len(shape) != 3 {
		return 0, 0, 0, fmt.Errorf("expected a (channels, height, width) tensor, got shape %v", shape)
	}
	return shape[0], shape[1], shape[2], nil
}

// PadToSquare pads the shorter spatial side of a (C, H, W) tensor with value
// so that height equals width. The pads are returned as left, right, top,
// bottom.
func PadToSquare(img *tensor.Dense, value float32) (*tensor.Dense, [4]int, error) {
	c, h, w, err := chw(img)
	if err != nil {
		return nil, [4]int{}, err
	}

	dimDiff := h - w
	if dimDiff < 0 {
		dimDiff = -dimDiff
	}
	pad1, pad2 := dimDiff/2, dimDiff-dimDiff/2

	var pads [4]int
	if h <= w {
		pads = [4]int{0, 0, pad1, pad2}
	} else {
		pads = [4]int{pad1, pad2, 0, 0}
	}

	size := h + pads[2] + pads[3]
	src := img.Data().([]float32)
	dst := make([]float32, c*size*size)
	if value != 0 {
		for i := range dst {
			dst[i] = value
		}
	}

	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			srcRow := src[(ch*h+y)*w : (ch*h+y+1)*w]
			off := (ch*size+y+pads[2])*size + pads[0]
			copy(dst[off:off+w], srcRow)
		}
	}

	return tensor.New(tensor.WithShape(c, size, size), tensor.WithBacking(dst)), pads, nil
}

// nearestIndex maps an output index onto the source index the same way the
// reference framework's nearest-neighbor interpolation does, including its
// float32 scale arithmetic.
func nearestIndex(dst, in, out int) int {
	switch {
	case in == out:
		return dst
	case out == 2*in:
		return dst >> 1
	}
	scale := float32(in) / float32(out)
	src := int(float32(dst) * scale)
	if src > in-1 {
		src = in - 1
	}
	return src
}

// Resize rescales a (C, H, W) tensor to (C, height, width) with
// nearest-neighbor sampling.
func Resize(img *tensor.Dense, height, width int) (*tensor.Dense, error) {
	c, h, w, err := chw(img)
	if err != nil {
		return nil, err
	}
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", height, width)
	}
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("cannot resize empty tensor of shape %v", img.Shape())
	}

	xs := make([]int, width)
	for x := range xs {
		xs[x] = nearestIndex(x, w, width)
	}

	src := img.Data().([]float32)
	dst := make([]float32, c*height*width)
	for ch := 0; ch < c; ch++ {
		for y := 0; y < height; y++ {
			srcRow := src[(ch*h+nearestIndex(y, h, height))*w:]
			dstRow := dst[(ch*height+y)*width : (ch*height+y+1)*width]
			for x, sx := range xs {
				dstRow[x] = srcRow[sx]
			}
		}
	}

	return tensor.New(tensor.WithShape(c, height, width), tensor.WithBacking(dst)), nil
}

// ImageToTensor converts an image to an RGB (3, H, W) float32 tensor holding
// 0..255 values. Alpha is discarded.
func ImageToTensor(img image.Image) *tensor.Dense {
	pic := imaging.Clone(img)
	w, h := pic.Rect.Dx(), pic.Rect.Dy()
	channelSize := w * h

	data := make([]float32, 3*channelSize)
	for y := 0; y < h; y++ {
		row := pic.Pix[y*pic.Stride:]
		offset := y * w
		for x := 0; x < w; x++ {
			i := offset + x
			data[i] = float32(row[x*4])
			data[channelSize+i] = float32(row[x*4+1])
			data[channelSize*2+i] = float32(row[x*4+2])
		}
	}

	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(data))
}

// TensorToImage converts an RGB (3, H, W) tensor back to an opaque image.
// Values are truncated to integers and clamped to 0..255.
func TensorToImage(t *tensor.Dense) (*image.NRGBA, error) {
	c, h, w, err := chw(t)
	if err != nil {
		return nil, err
	}
	if c != 3 {
		return nil, fmt.Errorf("expected 3 channels, got %d", c)
	}

	data := t.Data().([]float32)
	channelSize := w * h
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			row[x*4] = toByte(data[i])
			row[x*4+1] = toByte(data[channelSize+i])
			row[x*4+2] = toByte(data[channelSize*2+i])
			row[x*4+3] = 0xff
		}
	}
	return img, nil
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Batch returns a copy of a (C, H, W) tensor with a leading batch axis.
func Batch(img *tensor.Dense) (*tensor.Dense, error) {
	c, h, w, err := chw(img)
	if err != nil {
		return nil, err
	}
	batch := img.Clone().(*tensor.Dense)
	if err := batch.Reshape(1, c, h, w); err != nil {
		return nil, fmt.Errorf("add batch axis: %w", err)
	}
	return batch, nil
}

// Preprocess pads an image tensor to a square and resizes it to the network
// input resolution.
func Preprocess(img *tensor.Dense) (*tensor.Dense, error) {
	padded, _, err := PadToSquare(img, PadValue)
	if err != nil {
		return nil, fmt.Errorf("pad to square: %w", err)
	}
	resized, err := Resize(padded, InputSize, InputSize)
	if err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}
	return resized, nil
}
