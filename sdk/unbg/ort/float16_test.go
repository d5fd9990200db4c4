package ort

import (
	"encoding/binary"
	"math"
	"testing"
)

func Test_Float16(t *testing.T) {
	tt := []struct {
		f    float32
		half uint16
	}{
		{0, 0x0000},
		{1, 0x3c00},
		{-2, 0xc000},
		{0.5, 0x3800},
		{0.1, 0x2e66},
		{65504, 0x7bff},
		{1e6, 0x7c00},
		{float32(math.Inf(-1)), 0xfc00},
		{float32(math.Pow(2, -24)), 0x0001},
	}

	for _, tst := range tt {
		data := encodeFloat16([]float32{tst.f})
		if got := binary.LittleEndian.Uint16(data); got != tst.half {
			t.Fatalf("expected %v to encode as %#04x, got: %#04x", tst.f, tst.half, got)
		}
	}

	t.Run("decode", func(t *testing.T) {
		in := []float32{0, 1, -2, 0.5, 65504, float32(math.Pow(2, -24))}

		got := decodeFloat16(encodeFloat16(in))
		for i, f := range in {
			if got[i] != f {
				t.Fatalf("expected %v to round trip, got: %v", f, got[i])
			}
		}

		approx := decodeFloat16([]byte{0x66, 0x2e})
		if math.Abs(float64(approx[0])-0.1) > 1e-4 {
			t.Fatalf("expected about 0.1, got: %v", approx[0])
		}

		nan := decodeFloat16([]byte{0x00, 0x7e})
		if !math.IsNaN(float64(nan[0])) {
			t.Fatalf("expected NaN, got: %v", nan[0])
		}
	})

	t.Run("bytes", func(t *testing.T) {
		data := encodeFloat16([]float32{1, 0.5})
		if len(data) != 4 || data[0] != 0x00 || data[1] != 0x3c {
			t.Fatalf("expected little endian halves, got: %x", data)
		}

		got := decodeFloat16(data)
		if len(got) != 2 || got[0] != 1 || got[1] != 0.5 {
			t.Fatalf("expected [1 0.5], got: %v", got)
		}
	})
}
