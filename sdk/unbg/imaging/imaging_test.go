package imaging_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/ardanlabs/unbg/sdk/unbg/imaging"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}

	return img
}

func Test_Tensor(t *testing.T) {
	img := solid(8, 4, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	data := imaging.Tensor(img, 4)
	if len(data) != 3*4*4 {
		t.Fatalf("expected %d values, got: %d", 3*4*4, len(data))
	}

	exp := []float32{0.5, -0.5, 0.2 - 0.5}
	for ch, want := range exp {
		got := data[ch*16+5]
		if math.Abs(float64(got-want)) > 1e-3 {
			t.Fatalf("channel %d: expected %f, got: %f", ch, want, got)
		}
	}
}

func Test_Mask(t *testing.T) {
	t.Run("normalises and scales", func(t *testing.T) {
		shape := []int64{1, 1, 2, 2}
		data := []float32{-2, -2, 2, 2}

		mask, err := imaging.Mask(shape, data, 4, 4)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if b := mask.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
			t.Fatalf("expected a 4x4 mask, got: %v", b)
		}

		if top, bottom := mask.GrayAt(0, 0).Y, mask.GrayAt(0, 3).Y; top >= bottom {
			t.Fatalf("expected the bottom to be brighter, got top[%d] bottom[%d]", top, bottom)
		}
	})

	t.Run("native size", func(t *testing.T) {
		mask, err := imaging.Mask([]int64{2, 2}, []float32{0, 1, 0.5, 1}, 2, 2)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		exp := []uint8{0, 255, 127, 255}
		for i, v := range exp {
			if mask.Pix[i] != v {
				t.Fatalf("pixel %d: expected %d, got: %d", i, v, mask.Pix[i])
			}
		}
	})

	t.Run("bad shape", func(t *testing.T) {
		if _, err := imaging.Mask([]int64{4}, []float32{1, 2, 3, 4}, 2, 2); err == nil {
			t.Fatal("expected an error for a rank 1 output")
		}

		if _, err := imaging.Mask([]int64{1, 3, 3}, []float32{1}, 2, 2); err == nil {
			t.Fatal("expected an error for a short output")
		}
	})
}

func Test_Placeholder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	mask := imaging.Placeholder(img)

	if mask.GrayAt(0, 0).Y != 0 || mask.GrayAt(1, 0).Y != 255 {
		t.Fatalf("unexpected mask: %v", mask.Pix)
	}
}

func Test_RoundTrip(t *testing.T) {
	src := solid(3, 2, color.RGBA{R: 100, G: 150, B: 200, A: 255})

	data, err := imaging.EncodePNG(src)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	img, err := imaging.Decode(data)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatalf("unexpected bounds: %v", b)
	}

	mask := image.NewGray(image.Rect(0, 0, 3, 2))
	mask.SetGray(1, 1, color.Gray{Y: 255})

	cut := imaging.Cutout(img, mask)
	if cut.NRGBAAt(1, 1).A != 255 || cut.NRGBAAt(0, 0).A != 0 {
		t.Fatalf("unexpected alpha: %v %v", cut.NRGBAAt(1, 1), cut.NRGBAAt(0, 0))
	}

	if _, err := imaging.Decode([]byte("not an image")); err == nil {
		t.Fatal("expected an error for garbage input")
	}

	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("expected valid png, got: %v", err)
	}
}
