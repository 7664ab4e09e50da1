package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akhenakh/qctapi/qct"
)

// resolveWindow builds a tile window, extending a zero width or height to the grid edge.
func resolveWindow(grid qct.Window, x, y, w, h int) qct.Window {
	if w <= 0 {
		w = grid.Width - x
	}
	if h <= 0 {
		h = grid.Height - y
	}
	return qct.Window{X: x, Y: y, Width: w, Height: h}
}

func printInfo(w io.Writer, c *qct.Chart) {
	h := c.Header
	fmt.Fprintf(w, "Width:      %d tiles (%d pixels)\n", h.Width, h.Width*qct.TileSize)
	fmt.Fprintf(w, "Height:     %d tiles (%d pixels)\n", h.Height, h.Height*qct.TileSize)
	for _, f := range []struct{ name, value string }{
		{"Title", h.Title},
		{"Name", h.Name},
		{"Identifier", h.Identifier},
		{"Edition", h.Edition},
		{"Revision", h.Revision},
		{"Keywords", h.Keywords},
		{"Copyright", h.Copyright},
		{"Scale", h.Scale},
		{"Datum", h.Datum},
		{"Depths", h.Depths},
		{"Heights", h.Heights},
		{"Projection", h.Projection},
		{"MapType", h.MapType},
		{"DiskName", h.DiskName},
		{"OrigName", h.OriginalFileName},
	} {
		fmt.Fprintf(w, "%-11s %s\n", f.name+":", f.value)
	}
	fmt.Fprintf(w, "Version:    %d\n", h.Version)
	fmt.Fprintf(w, "Flags:      0x%x\n", h.Flags)
	fmt.Fprintf(w, "OrigSize:   %d bytes\n", h.OriginalFileSize)
	fmt.Fprintf(w, "OrigTime:   %s\n", h.OriginalFileTime.Format(time.RFC3339))
	fmt.Fprintf(w, "Unknown:    %v\n", h.Unknown)
	fmt.Fprintf(w, "DatumShift: %f %f\n", h.DatumShiftNorth, h.DatumShiftEast)

	fmt.Fprintf(w, "Colours:    %d\n", c.Palette.Used())
	for i := 0; i < qct.PaletteSize; i++ {
		if c.Palette[i] != 0 {
			fmt.Fprintf(w, "  %3d %s\n", i, c.Palette.Hex(uint8(i)))
		}
	}

	outline := c.Outline()
	fmt.Fprintf(w, "OutlinePts: %d\n", len(outline))
	if len(outline) > 0 {
		b := outline.Bound()
		fmt.Fprintf(w, "OutlineLat: %f to %f\n", b.Min.Lat(), b.Max.Lat())
		fmt.Fprintf(w, "OutlineLon: %f to %f\n", b.Min.Lon(), b.Max.Lon())
	}

	cs := c.Corners()
	fmt.Fprintf(w, "TopLeft:     %f %f\n", cs.TopLeft.Lat, cs.TopLeft.Lon)
	fmt.Fprintf(w, "TopRight:    %f %f\n", cs.TopRight.Lat, cs.TopRight.Lon)
	fmt.Fprintf(w, "BottomLeft:  %f %f\n", cs.BottomLeft.Lat, cs.BottomLeft.Lon)
	fmt.Fprintf(w, "BottomRight: %f %f\n", cs.BottomRight.Lat, cs.BottomRight.Lon)
}

// exportChart writes OUTDIR/doc.kml, OUTDIR/palette.json and one image per block
// under OUTDIR/files. It returns the number of blocks written.
func exportChart(ctx context.Context, c *qct.Chart, win qct.Window, opts qct.ExportOptions, format, outdir string) (int, error) {
	if format != "png" && format != "raw" {
		return 0, fmt.Errorf("unknown block format %q", format)
	}
	files := filepath.Join(outdir, "files")
	if err := os.MkdirAll(files, 0o755); err != nil {
		return 0, err
	}
	opts.Href = "files/image_data_%04d." + format
	colours := c.Palette.Colors()

	overlays, err := c.Export(ctx, win, opts, func(b qct.Block, ras *qct.Raster) error {
		name := filepath.Join(files, fmt.Sprintf("image_data_%04d.%s", b.Index, format))
		return writeFile(name, func(w io.Writer) error {
			if format == "raw" {
				_, err := w.Write(ras.Pix)
				return err
			}
			return png.Encode(w, ras.Image(colours))
		})
	})
	if err != nil {
		return 0, err
	}

	if err := writeFile(filepath.Join(outdir, "doc.kml"), func(w io.Writer) error {
		return qct.WriteKML(w, "Layer", overlays)
	}); err != nil {
		return 0, err
	}
	if err := writeFile(filepath.Join(outdir, "palette.json"), func(w io.Writer) error {
		hex := make([]string, qct.PaletteSize)
		for i := range hex {
			hex[i] = c.Palette.Hex(uint8(i))
		}
		return json.NewEncoder(w).Encode(hex)
	}); err != nil {
		return 0, err
	}
	return len(overlays), nil
}

func writeRaster(ctx context.Context, c *qct.Chart, win qct.Window, out string) error {
	ras, err := c.ReadRaster(ctx, win)
	if err != nil {
		return err
	}
	return writeFile(out, func(w io.Writer) error {
		if strings.EqualFold(filepath.Ext(out), ".png") {
			return png.Encode(w, ras.Image(c.Palette.Colors()))
		}
		_, err := w.Write(ras.Pix)
		return err
	})
}

func writeFile(name string, fn func(io.Writer) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
