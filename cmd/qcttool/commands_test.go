package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/qctapi/qct"
	"github.com/akhenakh/qctapi/qct/qcttest"
)

func testChart(t *testing.T) *qct.Chart {
	t.Helper()
	fixture := &qcttest.Chart{
		Width:      3,
		Height:     2,
		Title:      "Solent",
		Identifier: "GB-1",
		MapType:    "Marine",
		Outline:    [][2]float64{{50.8, -1.5}, {50.8, -1.2}, {50.6, -1.2}},
		Tiles:      map[image.Point][]byte{},
	}
	fixture.East, fixture.North, fixture.Lat, fixture.Lon = qcttest.Affine(50.8, -1.5, 0.0005)
	for ty := 0; ty < 2; ty++ {
		for tx := 0; tx < 3; tx++ {
			fixture.Tiles[image.Pt(tx, ty)] = []byte{0, byte(1 + ty*3 + tx)}
		}
	}
	fixture.Palette[1] = 0x00ff0000
	fixture.Palette[6] = 0x000000ff

	b := fixture.Bytes()
	c, err := qct.NewChart(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	return c
}

func TestResolveWindow(t *testing.T) {
	grid := qct.Window{Width: 5, Height: 4}
	assert.Equal(t, qct.Window{X: 1, Y: 2, Width: 4, Height: 2}, resolveWindow(grid, 1, 2, 0, 0))
	assert.Equal(t, qct.Window{X: 0, Y: 0, Width: 2, Height: 3}, resolveWindow(grid, 0, 0, 2, 3))
}

func TestPrintInfo(t *testing.T) {
	var buf bytes.Buffer
	printInfo(&buf, testChart(t))
	out := buf.String()
	assert.Contains(t, out, "Width:      3 tiles (192 pixels)")
	assert.Contains(t, out, "Title:      Solent")
	assert.Contains(t, out, "MapType:    Marine")
	assert.Contains(t, out, "Colours:    2")
	assert.Contains(t, out, "    6 #0000ff")
	assert.Contains(t, out, "OutlinePts: 4")
	assert.Contains(t, out, "TopLeft:     50.800000 -1.500000")
}

func TestExportChart(t *testing.T) {
	c := testChart(t)
	dir := t.TempDir()

	n, err := exportChart(context.Background(), c, c.Grid(), qct.ExportOptions{BlockWidth: 2, BlockHeight: 2}, "png", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	kml, err := os.ReadFile(filepath.Join(dir, "doc.kml"))
	require.NoError(t, err)
	assert.Contains(t, string(kml), "<href>files/image_data_0001.png</href>")

	f, err := os.Open(filepath.Join(dir, "files", "image_data_0001.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 128), img.Bounds())
	r, g, b, _ := img.At(0, 127).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0xffff}, [3]uint32{r, g, b})

	var palette []string
	raw, err := os.ReadFile(filepath.Join(dir, "palette.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &palette))
	assert.Equal(t, "#ff0000", palette[1])

	_, err = exportChart(context.Background(), c, c.Grid(), qct.ExportOptions{}, "gif", dir)
	assert.Error(t, err)
}

func TestExportChartRaw(t *testing.T) {
	c := testChart(t)
	dir := t.TempDir()
	n, err := exportChart(context.Background(), c, qct.Window{X: 1, Y: 1, Width: 2, Height: 1}, qct.ExportOptions{BlockWidth: 1}, "raw", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := os.ReadFile(filepath.Join(dir, "files", "image_data_0000.raw"))
	require.NoError(t, err)
	require.Len(t, raw, qct.TilePixels)
	assert.Equal(t, byte(5), raw[0])
}

func TestWriteRaster(t *testing.T) {
	c := testChart(t)
	dir := t.TempDir()

	out := filepath.Join(dir, "window.bin")
	require.NoError(t, writeRaster(context.Background(), c, qct.Window{X: 2, Y: 0, Width: 1, Height: 2}, out))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, raw, 64*128)
	assert.Equal(t, byte(3), raw[0])
	assert.Equal(t, byte(6), raw[len(raw)-1])

	require.NoError(t, writeRaster(context.Background(), c, c.Grid(), filepath.Join(dir, "all.PNG")))

	err = writeRaster(context.Background(), c, qct.Window{X: 2, Y: 0, Width: 2, Height: 1}, out)
	var re *qct.RangeError
	assert.ErrorAs(t, err, &re)
}
