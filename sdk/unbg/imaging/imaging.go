// Package imaging converts images to model input tensors and model output
// tensors back to masks.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// InputSize is the square edge the segmentation models expect.
const InputSize = 1024

// Decode decodes png, jpeg or webp bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return img, nil
}

// DecodeFile reads and decodes the image at the path.
func DecodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decode-file: %w", err)
	}

	return Decode(data)
}

// Blank returns a black image of the specified size. Sizes below one are
// raised to one.
func Blank(width int, height int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, max(width, 1), max(height, 1)))
}

// Tensor resizes the image to size x size and returns it in CHW order with
// every channel scaled to (p/255)-0.5.
func Tensor(img image.Image, size int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	data := make([]float32, 3*plane)

	for y := range size {
		for x := range size {
			off := dst.PixOffset(x, y)
			idx := y*size + x

			data[idx] = float32(dst.Pix[off])/255 - 0.5
			data[plane+idx] = float32(dst.Pix[off+1])/255 - 0.5
			data[2*plane+idx] = float32(dst.Pix[off+2])/255 - 0.5
		}
	}

	return data
}

// Mask turns the first channel of a model output into a grayscale mask
// using min-max normalisation and scales it to width x height. Outputs of
// rank 2, 3 and 4 are accepted.
func Mask(shape []int64, data []float32, width int, height int) (*image.Gray, error) {
	var h, w int

	switch len(shape) {
	case 4:
		h, w = int(shape[2]), int(shape[3])
	case 3:
		h, w = int(shape[1]), int(shape[2])
	case 2:
		h, w = int(shape[0]), int(shape[1])
	default:
		return nil, fmt.Errorf("mask: unsupported output dimensions: %v", shape)
	}

	if h <= 0 || w <= 0 || len(data) < h*w {
		return nil, fmt.Errorf("mask: output shape %v does not match %d values", shape, len(data))
	}

	values := data[:h*w]

	minV, maxV := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range values {
		minV = min(minV, v)
		maxV = max(maxV, v)
	}

	rng := max(maxV-minV, 1e-6)

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range values {
		n := min(max((v-minV)/rng, 0), 1)
		mask.Pix[i] = uint8(n * 255)
	}

	if w == width && h == height {
		return mask, nil
	}

	full := image.NewGray(image.Rect(0, 0, max(width, 1), max(height, 1)))
	draw.BiLinear.Scale(full, full.Bounds(), mask, mask.Bounds(), draw.Src, nil)

	return full, nil
}

// Placeholder builds a mask without a model: pixels whose average channel
// brightness is above 25 are opaque.
func Placeholder(img image.Image) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			brightness := (uint16(c.R) + uint16(c.G) + uint16(c.B)) / 3

			if brightness > 25 {
				mask.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: 255})
			}
		}
	}

	return mask
}

// Cutout applies the mask as the alpha channel of the image. The mask is
// scaled when the sizes differ.
func Cutout(img image.Image, mask image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	alpha := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(alpha, alpha.Bounds(), mask, mask.Bounds(), draw.Src, nil)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = alpha.GrayAt(x, y).Y
			out.SetNRGBA(x, y, c)
		}
	}

	return out
}

// EncodePNG encodes the image as png.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode-png: %w", err)
	}

	return buf.Bytes(), nil
}
