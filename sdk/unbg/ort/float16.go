package ort

import (
	"encoding/binary"

	"github.com/x448/float16"
)

// encodeFloat16 packs the values as little endian IEEE 754 half precision.
func encodeFloat16(data []float32) []byte {
	out := make([]byte, 2*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(f).Bits())
	}

	return out
}

// decodeFloat16 unpacks little endian IEEE 754 half precision values.
func decodeFloat16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
	}

	return out
}
