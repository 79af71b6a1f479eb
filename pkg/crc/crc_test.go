package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTableMatchesReferenceForEverySingleByte(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := []byte{byte(i)}
		assert.Equalf(t, referenceCompute(b), Compute(b), "mismatch for byte 0x%02x", i)
	}
}

func TestTableMatchesReferenceOverVectorCorpus(t *testing.T) {
	vectors := [][]byte{
		{},
		{0x00},
		{0xFF},
		{0xC8, 0x18, 0x16},
		{0x18, 0x16, 0x00, 0x08, 0x02, 0x40},
		bytesRange(250),
	}
	for _, v := range vectors {
		assert.Equal(t, referenceCompute(v), Compute(v))
	}
}

func TestTableMatchesReferenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 128).Draw(t, "data")
		assert.Equal(t, referenceCompute(data), Compute(data))
	})
}

func TestVerify(t *testing.T) {
	data := []byte{0x18, 0x16, 0x01, 0x02, 0x03}
	sum := Compute(data)
	assert.True(t, Verify(data, sum))
	assert.False(t, Verify(data, sum^0x01))
}

func bytesRange(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}
