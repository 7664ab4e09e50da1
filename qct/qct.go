// Package qct decodes Quick Chart (QCT) raster chart files.
//
// A QCT file holds a palette-indexed raster made of 64x64 pixel tiles, each
// compressed independently, together with bivariate cubic polynomials that map
// pixel coordinates to latitude and longitude.
package qct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb"
)

const (
	// Magic is the sentinel stored in the first word of every QCT file.
	Magic = 0x1423D5FF

	// TileSize is the width and height of a tile in pixels.
	TileSize = 64
	// TilePixels is the number of palette indices in a decoded tile.
	TilePixels = TileSize * TileSize

	headerWords    = 24
	georefOffset   = headerWords * 4
	paletteOffset  = georefOffset + 40*8
	interpOffset   = paletteOffset + PaletteSize*4
	interpSize     = 128 * 128
	tileIndexStart = interpOffset + interpSize
)

// Header holds the global metadata found at the start of a QCT file.
type Header struct {
	Version int32
	// Width and Height are the chart size in tiles.
	Width  int
	Height int

	Title      string
	Name       string
	Identifier string
	Edition    string
	Revision   string
	Keywords   string
	Copyright  string
	Scale      string
	Datum      string
	Depths     string
	Heights    string
	Projection string
	Flags      uint32

	OriginalFileName string
	OriginalFileSize int32
	OriginalFileTime time.Time

	// MapType and DiskName come from the extended metadata block.
	MapType  string
	DiskName string

	// DatumShiftNorth and DatumShiftEast are added to polynomial latitude and longitude.
	DatumShiftNorth float64
	DatumShiftEast  float64

	// Unknown keeps the undocumented words (one from the main header, five from the extended block).
	Unknown [6]int32
}

// Chart is an opened QCT file. Header, georeferencing, palette and tile index are
// parsed once by Open and never change afterwards; all tile reads go through
// io.ReaderAt so a Chart is safe for concurrent use.
type Chart struct {
	// src is the underlying file. Every read is positional, there is no shared cursor.
	src  io.ReaderAt
	size int64
	// closer is set when the Chart owns the file (OpenFile).
	closer io.Closer

	Header  Header
	Georef  Georef
	Palette Palette

	// outline is the map outline as a closed (lon, lat) ring, empty if the file has none.
	outline orb.Ring

	// index holds one absolute file offset per tile, row-major over the grid.
	index []uint32

	logger  *slog.Logger
	metrics *Metrics
	workers int
}

// Option configures a Chart.
type Option func(*Chart)

// WithLogger sets the logger used to report damaged tiles.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chart) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches decode counters.
func WithMetrics(m *Metrics) Option {
	return func(c *Chart) { c.metrics = m }
}

// WithWorkers sets how many tiles ReadRaster decodes concurrently. The default is 1.
func WithWorkers(n int) Option {
	return func(c *Chart) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Open parses the header, georeferencing coefficients, palette and tile index of a
// QCT file. r must also implement io.ReaderAt.
func Open(r io.ReadSeeker, opts ...Option) (*Chart, error) {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return nil, errors.New("qct: reader does not implement io.ReaderAt")
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine file size: %w", err)
	}
	return NewChart(ra, size, opts...)
}

// OpenFile opens and parses the named file. The returned Chart must be closed.
func OpenFile(name string, opts ...Option) (*Chart, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	c, err := Open(f, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open chart %s: %w", name, err)
	}
	c.closer = f
	return c, nil
}

// NewChart parses a QCT file of the given size.
func NewChart(r io.ReaderAt, size int64, opts ...Option) (*Chart, error) {
	c := &Chart{
		src:     r,
		size:    size,
		logger:  slog.Default(),
		workers: 1,
	}
	for _, opt := range opts {
		opt(c)
	}

	cur := newCursor(r, size)
	if magic := cur.u32(); cur.err != nil {
		return nil, cur.err
	} else if magic != Magic {
		return nil, &FormatError{Offset: 0, Reason: fmt.Sprintf("magic 0x%08x", magic), Err: ErrBadMagic}
	}

	if err := c.readHeader(cur); err != nil {
		return nil, err
	}
	if err := c.readTileIndex(cur); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases the file when the Chart was created by OpenFile.
func (c *Chart) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Width returns the chart width in tiles.
func (c *Chart) Width() int { return c.Header.Width }

// Height returns the chart height in tiles.
func (c *Chart) Height() int { return c.Header.Height }

// Grid returns the whole tile grid as a window.
func (c *Chart) Grid() Window {
	return Window{Width: c.Header.Width, Height: c.Header.Height}
}

// Outline returns the chart outline as a closed ring of (lon, lat) points.
func (c *Chart) Outline() orb.Ring { return c.outline }

func (c *Chart) readHeader(cur *cursor) error {
	h := &c.Header
	h.Version = cur.i32()
	width, height := cur.i32(), cur.i32()
	if cur.err != nil {
		return cur.err
	}
	if width <= 0 || height <= 0 {
		return &FormatError{Offset: 8, Reason: fmt.Sprintf("invalid size %dx%d tiles", width, height)}
	}
	h.Width, h.Height = int(width), int(height)

	for _, s := range []*string{
		&h.Title, &h.Name, &h.Identifier, &h.Edition, &h.Revision, &h.Keywords,
		&h.Copyright, &h.Scale, &h.Datum, &h.Depths, &h.Heights, &h.Projection,
	} {
		*s = cur.str()
	}
	h.Flags = cur.u32()
	h.OriginalFileName = cur.str()
	h.OriginalFileSize = cur.i32()
	h.OriginalFileTime = time.Unix(int64(cur.u32()), 0).UTC()
	h.Unknown[0] = cur.i32()

	if ext := cur.pointer(); ext != 0 {
		cur.at(ext, func() {
			h.MapType = cur.str()
			if shift := cur.pointer(); shift != 0 {
				cur.at(shift, func() {
					h.DatumShiftNorth = cur.f64()
					h.DatumShiftEast = cur.f64()
				})
			}
			h.DiskName = cur.str()
			for i := 1; i < len(h.Unknown); i++ {
				h.Unknown[i] = cur.i32()
			}
		})
	}

	numOutline := cur.i32()
	outlineAt := cur.pointer()
	if cur.err == nil && numOutline < 0 {
		return &FormatError{Offset: cur.off - 8, Reason: fmt.Sprintf("negative outline size %d", numOutline)}
	}
	if numOutline > 0 && outlineAt != 0 {
		if outlineAt+int64(numOutline)*16 > c.size {
			return &FormatError{Offset: outlineAt, Reason: fmt.Sprintf("outline of %d points exceeds file", numOutline)}
		}
		cur.at(outlineAt, func() {
			ring := make(orb.Ring, 0, numOutline+1)
			for i := 0; i < int(numOutline); i++ {
				lat := cur.f64()
				lon := cur.f64()
				ring = append(ring, orb.Point{lon, lat})
			}
			if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
				ring = append(ring, ring[0])
			}
			c.outline = ring
		})
	}
	if cur.err != nil {
		return cur.err
	}

	c.Georef = readGeoref(cur, h.DatumShiftNorth, h.DatumShiftEast)
	c.Palette = readPalette(cur)
	// The interpolation matrix is not needed for decoding.
	cur.skip(interpSize)
	return cur.err
}

func (c *Chart) readTileIndex(cur *cursor) error {
	n := int64(c.Header.Width) * int64(c.Header.Height)
	if n > (c.size-cur.off)/4 {
		return &FormatError{Offset: cur.off, Reason: fmt.Sprintf("tile index of %d entries exceeds file size %d", n, c.size)}
	}
	raw := make([]byte, n*4)
	at := cur.off
	if !cur.read(raw) {
		return cur.err
	}
	c.index = make([]uint32, n)
	for i := range c.index {
		off := binary.LittleEndian.Uint32(raw[i*4:])
		if int64(off) >= c.size {
			return &FormatError{Offset: at + int64(i)*4, Reason: fmt.Sprintf("tile %d offset 0x%x past end of file", i, off)}
		}
		c.index[i] = off
	}
	return nil
}

// TileOffset returns the absolute file offset of tile (tx, ty).
func (c *Chart) TileOffset(tx, ty int) (int64, error) {
	if tx < 0 || ty < 0 || tx >= c.Header.Width || ty >= c.Header.Height {
		return 0, &RangeError{What: "tile", Window: Window{X: tx, Y: ty, Width: 1, Height: 1}, Grid: c.Grid()}
	}
	return int64(c.index[ty*c.Header.Width+tx]), nil
}
