package qct

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/qctapi/qct/qcttest"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// gradientTile returns a display-order tile whose pixel (x, y) is base + (x+y)%4.
func gradientTile(base byte) []byte {
	pix := make([]byte, TilePixels)
	for y := 0; y < TileSize; y++ {
		for x := 0; x < TileSize; x++ {
			pix[y*TileSize+x] = base + byte((x+y)%4)
		}
	}
	return pix
}

// mosaic builds a w x h chart whose tiles cycle through the three schemes. Tile
// (tx, ty) holds gradientTile(10*(ty*w+tx)). Huffman literals stop at 127, so
// tiles with higher indices fall back to run-length.
func mosaic(w, h int) *qcttest.Chart {
	fixture := &qcttest.Chart{Width: w, Height: h, Tiles: map[image.Point][]byte{}}
	for ty := 0; ty < h; ty++ {
		for tx := 0; tx < w; tx++ {
			n := ty*w + tx
			base := 10 * n
			stored := qcttest.Interleave(gradientTile(byte(base)))
			switch {
			case n%3 == 1:
				fixture.Tiles[image.Pt(tx, ty)] = qcttest.PixelPacked(stored)
			case n%3 == 2 && base+3 < 128:
				fixture.Tiles[image.Pt(tx, ty)] = qcttest.Huffman(stored, false)
			default:
				fixture.Tiles[image.Pt(tx, ty)] = qcttest.RunLength(stored)
			}
		}
	}
	return fixture
}

func checkRaster(t *testing.T, ras *Raster, chartWidth int, blank map[image.Point]bool) {
	t.Helper()
	for y := 0; y < ras.Height; y++ {
		for x := 0; x < ras.Width; x++ {
			tx, ty := ras.Window.X+x/TileSize, ras.Window.Y+y/TileSize
			want := 10*byte(ty*chartWidth+tx) + byte((x%TileSize+y%TileSize)%4)
			if blank[image.Pt(tx, ty)] {
				want = 0
			}
			if got := ras.At(x, y); got != want {
				t.Fatalf("pixel (%d, %d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestReadRaster(t *testing.T) {
	c := openTestChart(t, mosaic(2, 1))
	ras, err := c.ReadRaster(context.Background(), c.Grid())
	require.NoError(t, err)
	assert.Equal(t, 128, ras.Width)
	assert.Equal(t, 64, ras.Height)
	assert.Len(t, ras.Pix, 128*64)
	assert.Empty(t, ras.Blank)
	checkRaster(t, ras, 2, nil)
}

func TestReadRasterSolidTiles(t *testing.T) {
	fixture := &qcttest.Chart{Width: 2, Height: 1, Tiles: map[image.Point][]byte{
		{0, 0}: {1, 5, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		{1, 0}: {1, 9, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}}
	c := openTestChart(t, fixture)
	ras, err := c.ReadRaster(context.Background(), c.Grid())
	require.NoError(t, err)
	for y := 0; y < 64; y++ {
		for x := 0; x < 128; x++ {
			want := uint8(5)
			if x >= 64 {
				want = 9
			}
			require.Equal(t, want, ras.At(x, y), "pixel (%d, %d)", x, y)
		}
	}
}

func TestReadRasterSubWindowParallel(t *testing.T) {
	fixture := mosaic(4, 3)
	for _, workers := range []int{1, 4} {
		c := openTestChart(t, fixture, WithWorkers(workers))
		win := Window{X: 1, Y: 1, Width: 3, Height: 2}
		ras, err := c.ReadRaster(context.Background(), win)
		require.NoError(t, err)
		assert.Equal(t, win, ras.Window)
		checkRaster(t, ras, 4, nil)
	}
}

func TestReadRasterDamagedTiles(t *testing.T) {
	fixture := mosaic(3, 2)
	// A pixel index outside its sub-palette, and a tile with no data at all.
	fixture.Tiles[image.Pt(1, 0)] = []byte{253, 1, 2, 3, 0xff, 0xff, 0xff, 0xff}
	delete(fixture.Tiles, image.Pt(2, 1))

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	for _, workers := range []int{1, 3} {
		c := openTestChart(t, fixture, WithWorkers(workers), WithLogger(quietLogger), WithMetrics(m))
		ras, err := c.ReadRaster(context.Background(), c.Grid())
		require.NoError(t, err)
		blank := map[image.Point]bool{{1, 0}: true, {2, 1}: true}
		assert.ElementsMatch(t, []image.Point{{1, 0}, {2, 1}}, ras.Blank)
		checkRaster(t, ras, 3, blank)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TileFailures.WithLabelValues("pixel")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TileFailures.WithLabelValues("missing")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TilesDecoded.WithLabelValues("rle")))
}

func TestReadRasterRange(t *testing.T) {
	c := openTestChart(t, mosaic(2, 2))
	for _, win := range []Window{
		{X: 0, Y: 0, Width: 3, Height: 1},
		{X: -1, Y: 0, Width: 1, Height: 1},
		{X: 1, Y: 1, Width: 0, Height: 1},
		{X: 2, Y: 0, Width: 1, Height: 1},
	} {
		_, err := c.ReadRaster(context.Background(), win)
		var re *RangeError
		assert.True(t, errors.As(err, &re), "window %s: %v", win, err)
	}
}

func TestReadRasterCancelled(t *testing.T) {
	c := openTestChart(t, mosaic(2, 2), WithWorkers(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ReadRaster(ctx, c.Grid())
	assert.ErrorIs(t, err, context.Canceled)
}

type flakyReaderAt struct {
	r      *bytes.Reader
	failAt int64
}

func (f *flakyReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.failAt {
		return 0, errors.New("disk on fire")
	}
	return f.r.ReadAt(p, off)
}

func TestReadRasterIOErrorIsFatal(t *testing.T) {
	b := mosaic(2, 1).Bytes()
	c, err := NewChart(&flakyReaderAt{r: bytes.NewReader(b), failAt: tileIndexStart + 8}, int64(len(b)))
	require.NoError(t, err)
	_, err = c.ReadRaster(context.Background(), c.Grid())
	require.Error(t, err)
	var tde *TileDecodeError
	assert.False(t, errors.As(err, &tde))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestReadTile(t *testing.T) {
	fixture := mosaic(2, 1)
	delete(fixture.Tiles, image.Pt(1, 0))
	c := openTestChart(t, fixture)

	tile, err := c.ReadTile(0, 0)
	require.NoError(t, err)
	assert.Equal(t, gradientTile(0), tile)

	tile, err = c.ReadTile(1, 0)
	var tde *TileDecodeError
	require.True(t, errors.As(err, &tde))
	assert.Equal(t, 1, tde.X)
	assert.Equal(t, make([]byte, TilePixels), tile)

	_, err = c.ReadTile(5, 5)
	var re *RangeError
	assert.True(t, errors.As(err, &re))
}

func TestRasterImage(t *testing.T) {
	fixture := mosaic(1, 1)
	fixture.Palette[1] = 0x00102030
	c := openTestChart(t, fixture)
	ras, err := c.ReadRaster(context.Background(), c.Grid())
	require.NoError(t, err)
	img := ras.Image(c.Palette.Colors())
	assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())
	r, g, b, _ := img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0x10, 0x20, 0x30}, []uint32{r >> 8, g >> 8, b >> 8})
}
