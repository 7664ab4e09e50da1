package qct

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/qctapi/qct/qcttest"
)

// pattern returns 4096 pixels cycling through vals in runs of length run.
func pattern(run int, vals ...byte) []byte {
	pix := make([]byte, TilePixels)
	for i := range pix {
		pix[i] = vals[(i/run)%len(vals)]
	}
	return pix
}

func TestPackingOf(t *testing.T) {
	testCases := []struct {
		b    byte
		want Packing
	}{
		{0, Packing{Scheme: Huffman}},
		{255, Packing{Scheme: Huffman}},
		{1, Packing{Scheme: RunLength, Colours: 1}},
		{127, Packing{Scheme: RunLength, Colours: 127}},
		{128, Packing{Scheme: PixelPacked, Colours: 128}},
		{254, Packing{Scheme: PixelPacked, Colours: 2}},
		{200, Packing{Scheme: PixelPacked, Colours: 56}},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, PackingOf(tc.b), "packing byte %d", tc.b)
	}
}

func TestBitsPerPixel(t *testing.T) {
	for n, want := range map[int]int{1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 16: 4, 17: 5, 128: 7, 256: 8} {
		assert.Equal(t, want, BitsPerPixel(n), "BitsPerPixel(%d)", n)
	}
}

func TestDecodeTileRoundTrip(t *testing.T) {
	testCases := []struct {
		name   string
		pix    []byte
		encode func([]byte) []byte
		scheme Scheme
	}{
		{"rle solid", pattern(1, 42), qcttest.RunLength, RunLength},
		{"rle two colours", pattern(100, 3, 200), qcttest.RunLength, RunLength},
		{"rle five colours", pattern(7, 1, 2, 3, 4, 5), qcttest.RunLength, RunLength},
		{"rle long runs", pattern(1000, 9, 10), qcttest.RunLength, RunLength},
		{"pixel two colours", pattern(1, 0, 255), qcttest.PixelPacked, PixelPacked},
		{"pixel five colours", pattern(3, 10, 20, 30, 40, 50), qcttest.PixelPacked, PixelPacked},
		{"pixel 128 colours", pattern(1, seq(128)...), qcttest.PixelPacked, PixelPacked},
		{"huffman solid", pattern(1, 77), func(p []byte) []byte { return qcttest.Huffman(p, false) }, Huffman},
		{"huffman three colours", pattern(5, 1, 2, 3), func(p []byte) []byte { return qcttest.Huffman(p, false) }, Huffman},
		{"huffman 100 colours", pattern(2, seq(100)...), func(p []byte) []byte { return qcttest.Huffman(p, false) }, Huffman},
		{"huffman far branches", pattern(4, 5, 6, 7, 8, 9), func(p []byte) []byte { return qcttest.Huffman(p, true) }, Huffman},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, packing, err := DecodeTile(bytes.NewReader(tc.encode(tc.pix)))
			require.NoError(t, err)
			assert.Equal(t, tc.scheme, packing.Scheme)
			if diff := cmp.Diff(tc.pix, got); diff != "" {
				t.Errorf("decoded tile mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func seq(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestDecodeHuffmanPacking255(t *testing.T) {
	payload := qcttest.Huffman(pattern(3, 4, 5), false)
	payload[0] = 255
	got, packing, err := DecodeTile(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, Huffman, packing.Scheme)
	assert.Equal(t, pattern(3, 4, 5), got)
}

func TestHuffmanBuilderRejectsHighIndices(t *testing.T) {
	assert.Panics(t, func() { qcttest.Huffman(pattern(1, 127, 128), false) })
	assert.NotPanics(t, func() { qcttest.Huffman(pattern(1, 126, 127), false) })
}

func TestDecodeHuffmanSingleLiteralReadsNoBits(t *testing.T) {
	// Trailing bytes must stay unread.
	r := bufio.NewReader(bytes.NewReader([]byte{0, 17, 0xAA, 0xBB}))
	got, _, err := DecodeTile(r)
	require.NoError(t, err)
	assert.Equal(t, pattern(1, 17), got)
	assert.Equal(t, 2, r.Buffered())
}

func TestDecodeHuffmanHandBuilt(t *testing.T) {
	// Table: branch(jump 2) -> [literal 1 | literal 2]. Bits 0,1,0,1... give 1,2,1,2...
	payload := []byte{0, 255, 1, 2}
	for i := 0; i < TilePixels/8; i++ {
		payload = append(payload, 0xAA)
	}
	got, _, err := DecodeTile(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, pattern(1, 1, 2), got)
}

func TestDecodeTileErrors(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"rle truncated sub-palette", []byte{3, 1, 2}},
		{"rle truncated runs", []byte{1, 9, 255, 255}},
		{"rle colour outside sub-palette", []byte{3, 1, 2, 3, 0x13}},
		{"pixel truncated words", []byte{254, 1, 2, 0xff, 0xff}},
		{"pixel index outside sub-palette", append([]byte{253, 1, 2, 3}, 0xff, 0xff, 0xff, 0xff)},
		{"huffman truncated table", []byte{0, 200}},
		{"huffman truncated far branch", []byte{0, 128, 0}},
		{"huffman jump past table", []byte{0, 130, 1, 2}},
		{"huffman truncated bits", []byte{0, 255, 1, 2, 0xAA}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeTile(bytes.NewReader(tc.payload))
			var tde *TileDecodeError
			require.True(t, errors.As(err, &tde), "got %v", err)
		})
	}
}

type failingReader struct{ err error }

func (f failingReader) ReadByte() (byte, error) { return 0, f.err }

func TestDecodeTileIOError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := DecodeTile(failingReader{boom})
	require.ErrorIs(t, err, boom)

	var tde *TileDecodeError
	assert.False(t, errors.As(err, &tde))

	_, _, err = DecodeTile(failingReader{io.EOF})
	assert.True(t, errors.As(err, &tde))
}
