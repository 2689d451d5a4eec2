package tracking

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
)

// Array is a dense row-major numeric array, the Go stand-in for the n-d
// arrays experiments return and log as images.
type Array struct {
	Shape []int
	Data  []float64
}

func NewArray(shape []int, data []float64) (Array, error) {
	if len(shape) == 0 {
		return Array{}, fmt.Errorf("array shape is empty")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return Array{}, fmt.Errorf("array dimension %d is not positive", d)
		}
		n *= d
	}
	if n != len(data) {
		return Array{}, fmt.Errorf("array shape %v needs %d values, got %d", shape, n, len(data))
	}
	return Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

// ArrayFrom2D builds an HxW array from rows of equal length.
func ArrayFrom2D(rows [][]float64) (Array, error) {
	if len(rows) == 0 {
		return Array{}, fmt.Errorf("array has no rows")
	}
	w := len(rows[0])
	data := make([]float64, 0, len(rows)*w)
	for i, r := range rows {
		if len(r) != w {
			return Array{}, fmt.Errorf("row %d has %d values, want %d", i, len(r), w)
		}
		data = append(data, r...)
	}
	return NewArray([]int{len(rows), w}, data)
}

// ArrayFrom3D builds an HxWxC array.
func ArrayFrom3D(pixels [][][]float64) (Array, error) {
	if len(pixels) == 0 || len(pixels[0]) == 0 {
		return Array{}, fmt.Errorf("array has no pixels")
	}
	h, w, c := len(pixels), len(pixels[0]), len(pixels[0][0])
	data := make([]float64, 0, h*w*c)
	for y, row := range pixels {
		if len(row) != w {
			return Array{}, fmt.Errorf("row %d has %d pixels, want %d", y, len(row), w)
		}
		for x, px := range row {
			if len(px) != c {
				return Array{}, fmt.Errorf("pixel (%d,%d) has %d channels, want %d", y, x, len(px), c)
			}
			data = append(data, px...)
		}
	}
	return NewArray([]int{h, w, c}, data)
}

// Image wraps an array so Run.Log stores it as a PNG instead of raw numbers.
type Image struct {
	Caption string

	arr      Array
	channels int
}

// NewImage accepts HxW (grayscale) or HxWxC arrays with C in {1, 3, 4}.
func NewImage(arr Array) (*Image, error) {
	if len(arr.Data) == 0 {
		return nil, fmt.Errorf("image array is empty")
	}
	arr, err := NewArray(arr.Shape, arr.Data)
	if err != nil {
		return nil, fmt.Errorf("image array: %w", err)
	}
	channels := 1
	switch len(arr.Shape) {
	case 2:
	case 3:
		channels = arr.Shape[2]
		if channels != 1 && channels != 3 && channels != 4 {
			return nil, fmt.Errorf("unsupported channel count %d", channels)
		}
	default:
		return nil, fmt.Errorf("image array must be 2 or 3 dimensional, got shape %v", arr.Shape)
	}
	return &Image{arr: arr, channels: channels}, nil
}

func (im *Image) Height() int { return im.arr.Shape[0] }
func (im *Image) Width() int  { return im.arr.Shape[1] }

// Encode writes the image as PNG. Arrays whose values all lie in [0, 1] are
// scaled to [0, 255]; anything else is clamped.
func (im *Image) Encode(w io.Writer) error {
	if im.channels == 0 {
		return fmt.Errorf("image was not built with NewImage")
	}
	scale := 1.0
	if unitRange(im.arr.Data) {
		scale = 255
	}
	px := func(v float64) uint8 {
		v = math.Round(v * scale)
		switch {
		case math.IsNaN(v) || v < 0:
			return 0
		case v > 255:
			return 255
		}
		return uint8(v)
	}

	h, wd, c := im.Height(), im.Width(), im.channels
	rect := image.Rect(0, 0, wd, h)
	var img image.Image
	if c == 1 {
		g := image.NewGray(rect)
		for i, v := range im.arr.Data {
			g.Pix[i] = px(v)
		}
		img = g
	} else {
		rgba := image.NewNRGBA(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < wd; x++ {
				base := (y*wd + x) * c
				a := uint8(255)
				if c == 4 {
					a = px(im.arr.Data[base+3])
				}
				rgba.SetNRGBA(x, y, color.NRGBA{
					R: px(im.arr.Data[base]),
					G: px(im.arr.Data[base+1]),
					B: px(im.arr.Data[base+2]),
					A: a,
				})
			}
		}
		img = rgba
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func unitRange(data []float64) bool {
	for _, v := range data {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}
