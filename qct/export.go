package qct

import (
	"context"
	"fmt"
	"math"
)

// ExportOptions controls how a window is split into export blocks.
type ExportOptions struct {
	// BlockWidth and BlockHeight are the block size in tiles. Zero or negative uses
	// the whole window in that direction.
	BlockWidth  int
	BlockHeight int

	// Rotate enables the rotated ground-overlay computation. Without it the block is
	// assumed to be axis-aligned in lat/lon, which only holds for charts whose grid
	// is itself north-up.
	Rotate bool

	// Href formats the image reference of block i. Defaults to "files/image_data_%04d.png".
	Href string
}

// Block is a rectangular group of tiles exported as one georeferenced overlay.
type Block struct {
	Index   int
	Column  int
	Row     int
	Window  Window
	Corners Corners
	Center  LatLon

	// North, South, East and West are the overlay box limits.
	North float64
	South float64
	East  float64
	West  float64
	// Rotation is the overlay rotation in degrees, counter-clockwise. Zero unless Rotate is set.
	Rotation float64
}

// Overlay returns the ground-overlay record for the block.
func (b Block) Overlay(href string) GroundOverlay {
	if href == "" {
		href = defaultHref
	}
	return GroundOverlay{
		Name:     fmt.Sprintf("Layer %d", b.Index+1),
		Href:     fmt.Sprintf(href, b.Index),
		North:    b.North,
		South:    b.South,
		East:     b.East,
		West:     b.West,
		Rotation: b.Rotation,
	}
}

const defaultHref = "files/image_data_%04d.png"

// Blocks partitions win into export blocks, row by row. Blocks on the right and
// bottom edges are clipped to the window.
func (c *Chart) Blocks(win Window, opts ExportOptions) ([]Block, error) {
	if !win.In(c.Grid()) {
		return nil, &RangeError{What: "export window", Window: win, Grid: c.Grid()}
	}
	bw, bh := opts.BlockWidth, opts.BlockHeight
	if bw <= 0 {
		bw = win.Width
	}
	if bh <= 0 {
		bh = win.Height
	}
	cols := (win.Width + bw - 1) / bw
	rows := (win.Height + bh - 1) / bh

	blocks := make([]Block, 0, cols*rows)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			bwin := Window{X: win.X + i*bw, Y: win.Y + j*bh, Width: bw, Height: bh}.Intersect(win)
			b := c.block(bwin, opts.Rotate)
			b.Index, b.Column, b.Row = len(blocks), i, j
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func (c *Chart) block(win Window, rotate bool) Block {
	x0, y0 := win.X*TileSize, win.Y*TileSize
	x1, y1 := (win.X+win.Width)*TileSize, (win.Y+win.Height)*TileSize
	cs := Corners{
		TopLeft:     c.LatLonAt(x0, y0),
		TopRight:    c.LatLonAt(x1, y0),
		BottomLeft:  c.LatLonAt(x0, y1),
		BottomRight: c.LatLonAt(x1, y1),
	}
	b := Block{Window: win, Corners: cs, Center: cs.Center()}
	if !rotate {
		b.setLimits(cs)
		return b
	}

	// Angle of the vector from the centre to the middle of the right edge.
	ctr := b.Center
	angle := math.Atan2(
		(cs.TopRight.Lat+cs.BottomRight.Lat)/2-ctr.Lat,
		(cs.TopRight.Lon+cs.BottomRight.Lon)/2-ctr.Lon,
	)
	sin, cos := math.Sincos(-angle)
	rot := func(p LatLon) LatLon {
		dLon, dLat := p.Lon-ctr.Lon, p.Lat-ctr.Lat
		return LatLon{
			Lat: ctr.Lat + sin*dLon + cos*dLat,
			Lon: ctr.Lon + cos*dLon - sin*dLat,
		}
	}
	b.setLimits(Corners{
		TopLeft:     rot(cs.TopLeft),
		TopRight:    rot(cs.TopRight),
		BottomLeft:  rot(cs.BottomLeft),
		BottomRight: rot(cs.BottomRight),
	})
	// KML rotations are counter-clockwise.
	b.Rotation = -angle * 180 / math.Pi
	return b
}

func (b *Block) setLimits(cs Corners) {
	b.North = (cs.TopLeft.Lat + cs.TopRight.Lat) / 2
	b.South = (cs.BottomLeft.Lat + cs.BottomRight.Lat) / 2
	b.East = (cs.TopRight.Lon + cs.BottomRight.Lon) / 2
	b.West = (cs.TopLeft.Lon + cs.BottomLeft.Lon) / 2
}

// Export splits win into blocks and hands each block with its decoded raster to
// fn, in block order. It stops at the first error returned by fn.
func (c *Chart) Export(ctx context.Context, win Window, opts ExportOptions, fn func(Block, *Raster) error) ([]GroundOverlay, error) {
	blocks, err := c.Blocks(win, opts)
	if err != nil {
		return nil, err
	}
	overlays := make([]GroundOverlay, 0, len(blocks))
	for _, b := range blocks {
		ras, err := c.ReadRaster(ctx, b.Window)
		if err != nil {
			return nil, fmt.Errorf("failed to read block %d %s: %w", b.Index, b.Window, err)
		}
		if fn != nil {
			if err := fn(b, ras); err != nil {
				return nil, err
			}
		}
		overlays = append(overlays, b.Overlay(opts.Href))
	}
	return overlays, nil
}
