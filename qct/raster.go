package qct

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Window is a rectangle of tiles.
type Window struct {
	X, Y          int
	Width, Height int
}

func (w Window) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", w.X, w.Y, w.Width, w.Height)
}

// Empty reports whether the window covers no tile.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

// In reports whether w is non-empty and lies entirely inside grid.
func (w Window) In(grid Window) bool {
	return !w.Empty() &&
		w.X >= grid.X && w.Y >= grid.Y &&
		w.X+w.Width <= grid.X+grid.Width && w.Y+w.Height <= grid.Y+grid.Height
}

// Intersect returns the part of w inside o, possibly empty.
func (w Window) Intersect(o Window) Window {
	r := image.Rect(w.X, w.Y, w.X+w.Width, w.Y+w.Height).Intersect(image.Rect(o.X, o.Y, o.X+o.Width, o.Y+o.Height))
	return Window{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Pixels returns the window size in pixels.
func (w Window) Pixels() (width, height int) { return w.Width * TileSize, w.Height * TileSize }

// Tiles returns the number of tiles in the window.
func (w Window) Tiles() int { return w.Width * w.Height }

// Raster is the indexed-colour image assembled for a tile window. Pixel (x, y),
// relative to the window origin, is Pix[y*Width+x].
type Raster struct {
	Window Window
	Width  int
	Height int
	Pix    []byte
	// Blank lists the tiles left at palette index 0 because they could not be decoded.
	Blank []image.Point
}

// At returns the palette index at window-relative pixel (x, y).
func (r *Raster) At(x, y int) uint8 { return r.Pix[y*r.Width+x] }

// Image wraps the raster as an image.Paletted sharing its pixel buffer.
func (r *Raster) Image(p color.Palette) *image.Paletted {
	return &image.Paletted{
		Pix:     r.Pix,
		Stride:  r.Width,
		Rect:    image.Rect(0, 0, r.Width, r.Height),
		Palette: p,
	}
}

// ReadRaster decodes every tile of win into a new zero-initialised raster. Damaged
// tiles are left blank and reported in Raster.Blank; only I/O failures and
// cancellation abort the call. Tiles are decoded by up to WithWorkers goroutines,
// each writing a disjoint part of the buffer.
func (c *Chart) ReadRaster(ctx context.Context, win Window) (*Raster, error) {
	if !win.In(c.Grid()) {
		return nil, &RangeError{What: "window", Window: win, Grid: c.Grid()}
	}
	w, h := win.Pixels()
	ras := &Raster{Window: win, Width: w, Height: h, Pix: make([]byte, w*h)}

	var mu sync.Mutex
	place := func(tx, ty int) error {
		tile, err := c.decodeTile(tx, ty)
		var tde *TileDecodeError
		if errors.As(err, &tde) {
			c.logger.Warn("leaving damaged tile blank", "tile_x", tx, "tile_y", ty, "error", err)
			mu.Lock()
			ras.Blank = append(ras.Blank, image.Pt(tx, ty))
			mu.Unlock()
			return nil
		}
		if err != nil {
			return err
		}
		composite(ras.Pix, ras.Width, (tx-win.X)*TileSize, (ty-win.Y)*TileSize, tile)
		return nil
	}

	if c.workers <= 1 {
		for ty := win.Y; ty < win.Y+win.Height; ty++ {
			for tx := win.X; tx < win.X+win.Width; tx++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if err := place(tx, ty); err != nil {
					return nil, err
				}
			}
		}
		return ras, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for ty := win.Y; ty < win.Y+win.Height; ty++ {
		for tx := win.X; tx < win.X+win.Width; tx++ {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return place(tx, ty)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ras, nil
}

// ReadTile decodes tile (tx, ty) and returns its 64x64 palette indices in display
// order. For a damaged tile it returns a blank tile together with the
// *TileDecodeError.
func (c *Chart) ReadTile(tx, ty int) ([]byte, error) {
	tile, err := c.decodeTile(tx, ty)
	out := make([]byte, TilePixels)
	if err != nil {
		var tde *TileDecodeError
		if errors.As(err, &tde) {
			return out, err
		}
		return nil, err
	}
	composite(out, TileSize, 0, 0, tile)
	return out, nil
}

// decodeTile reads and decompresses the tile at (tx, ty) in stored row order.
func (c *Chart) decodeTile(tx, ty int) ([]byte, error) {
	off, err := c.TileOffset(tx, ty)
	if err != nil {
		return nil, err
	}
	if off == 0 {
		c.metrics.tileFailed("missing")
		return nil, &TileDecodeError{X: tx, Y: ty, Reason: "no tile data"}
	}

	br := bufio.NewReaderSize(io.NewSectionReader(c.src, off, c.size-off), 2048)
	tile, packing, err := DecodeTile(br)
	if err != nil {
		var tde *TileDecodeError
		if errors.As(err, &tde) {
			tde.X, tde.Y = tx, ty
			c.metrics.tileFailed(packing.Scheme.String())
			return nil, tde
		}
		return nil, fmt.Errorf("failed to read tile (%d, %d) at offset 0x%x: %w", tx, ty, off, err)
	}
	c.metrics.tileDecoded(packing.Scheme.String())
	return tile, nil
}
