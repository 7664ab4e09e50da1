// Package qcttest builds small synthetic QCT files and tile payloads for tests.
package qcttest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"math/bits"
	"slices"
)

const (
	magic     = 0x1423D5FF
	tileSize  = 64
	tilePix   = tileSize * tileSize
	tableSize = 96 + 40*8 + 256*4 + 128*128
)

// Chart describes a QCT file to assemble. Strings are written as raw bytes, so
// Windows-1252 text can be given with \x escapes.
type Chart struct {
	Version int32
	// Width and Height are in tiles.
	Width, Height int

	Title, Name, Identifier, Edition, Revision, Keywords string
	Copyright, Scale, Datum, Depths, Heights, Projection string

	Flags            uint32
	OriginalFileName string
	OriginalFileSize int32
	OriginalFileTime uint32

	// The extended block is written when any of these is set or Extended is true.
	Extended        bool
	MapType         string
	DiskName        string
	DatumShiftNorth float64
	DatumShiftEast  float64

	// Outline holds (lat, lon) pairs.
	Outline [][2]float64

	East, North, Lat, Lon [10]float64

	Palette [256]uint32

	// Tiles maps a tile coordinate to its compressed payload, packing byte
	// included. Missing tiles get offset 0.
	Tiles map[image.Point][]byte
	// TileOffsets overrides the index entry of a tile.
	TileOffsets map[image.Point]uint32
}

// Affine returns lat/lon polynomials mapping pixel (x, y) to
// lat = lat0 - y*step, lon = lon0 + x*step, and their east/north inverses.
func Affine(lat0, lon0, step float64) (east, north, lat, lon [10]float64) {
	lat[0], lat[2] = lat0, -step
	lon[0], lon[1] = lon0, step
	// x = (lon - lon0)/step, y = (lat0 - lat)/step, evaluated as f(lat, lon).
	east[0], east[2] = -lon0/step, 1/step
	north[0], north[1] = lat0/step, -1/step
	return east, north, lat, lon
}

// Bytes assembles the file.
func (c *Chart) Bytes() []byte {
	n := c.Width * c.Height
	dataStart := tableSize + n*4

	var data bytes.Buffer
	ptr := func(b []byte) uint32 {
		off := uint32(dataStart + data.Len())
		data.Write(b)
		return off
	}
	str := func(s string) uint32 {
		if s == "" {
			return 0
		}
		return ptr(append([]byte(s), 0))
	}

	var hdr [24]uint32
	hdr[0] = magic
	hdr[1] = uint32(c.Version)
	hdr[2] = uint32(c.Width)
	hdr[3] = uint32(c.Height)
	for i, s := range []string{
		c.Title, c.Name, c.Identifier, c.Edition, c.Revision, c.Keywords,
		c.Copyright, c.Scale, c.Datum, c.Depths, c.Heights, c.Projection,
	} {
		hdr[4+i] = str(s)
	}
	hdr[16] = c.Flags
	hdr[17] = str(c.OriginalFileName)
	hdr[18] = uint32(c.OriginalFileSize)
	hdr[19] = c.OriginalFileTime

	if c.Extended || c.MapType != "" || c.DiskName != "" || c.DatumShiftNorth != 0 || c.DatumShiftEast != 0 {
		var shift uint32
		if c.DatumShiftNorth != 0 || c.DatumShiftEast != 0 {
			shift = ptr(f64s(c.DatumShiftNorth, c.DatumShiftEast))
		}
		ext := u32s(str(c.MapType), shift, str(c.DiskName), 0, 0, 0, 0, 0)
		hdr[21] = ptr(ext)
	}

	if len(c.Outline) > 0 {
		var pts []float64
		for _, p := range c.Outline {
			pts = append(pts, p[0], p[1])
		}
		hdr[22] = uint32(len(c.Outline))
		hdr[23] = ptr(f64s(pts...))
	}

	index := make([]uint32, n)
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			pt := image.Pt(x, y)
			if payload, ok := c.Tiles[pt]; ok {
				index[y*c.Width+x] = ptr(payload)
			}
			if off, ok := c.TileOffsets[pt]; ok {
				index[y*c.Width+x] = off
			}
		}
	}

	var out bytes.Buffer
	out.Write(u32s(hdr[:]...))
	for _, p := range [][10]float64{c.East, c.North, c.Lat, c.Lon} {
		out.Write(f64s(p[:]...))
	}
	out.Write(u32s(c.Palette[:]...))
	out.Write(make([]byte, 128*128))
	out.Write(u32s(index...))
	out.Write(data.Bytes())
	return out.Bytes()
}

func u32s(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return b
}

func f64s(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

// rowSeq is the stored-row to display-row order of tile rows.
func rowSeq(r int) int { return int(bits.Reverse8(uint8(r)) >> 2) }

// Interleave reorders a display-order tile into stored row order, the layout
// the encoders below expect.
func Interleave(display []byte) []byte {
	stored := make([]byte, tilePix)
	for r := 0; r < tileSize; r++ {
		d := rowSeq(r)
		copy(stored[r*tileSize:(r+1)*tileSize], display[d*tileSize:(d+1)*tileSize])
	}
	return stored
}

func bitsFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// subPalette returns the distinct values of pix in ascending order and the
// position of each value in it.
func subPalette(pix []byte) ([]byte, map[byte]int) {
	var sub []byte
	for _, p := range pix {
		if !slices.Contains(sub, p) {
			sub = append(sub, p)
		}
	}
	slices.Sort(sub)
	pos := make(map[byte]int, len(sub))
	for i, v := range sub {
		pos[v] = i
	}
	return sub, pos
}

// RunLength encodes 4096 stored-order pixels as a run-length tile. At most 127
// distinct values are supported.
func RunLength(pix []byte) []byte {
	sub, pos := subPalette(pix)
	if len(sub) > 127 {
		panic("qcttest: too many colours for run-length tile")
	}
	low := bitsFor(len(sub))
	maxRun := 255 >> low

	out := append([]byte{byte(len(sub))}, sub...)
	for i := 0; i < len(pix); {
		c := pix[i]
		run := 1
		for i+run < len(pix) && pix[i+run] == c && run < maxRun {
			run++
		}
		out = append(out, byte(run<<low|pos[c]))
		i += run
	}
	return out
}

// PixelPacked encodes 4096 stored-order pixels as a pixel-packed tile. Between
// 2 and 128 distinct values are supported.
func PixelPacked(pix []byte) []byte {
	sub, pos := subPalette(pix)
	if len(sub) > 128 {
		panic("qcttest: too many colours for pixel-packed tile")
	}
	for len(sub) < 2 {
		sub = append(sub, sub[0])
	}
	shift := bitsFor(len(sub))
	perWord := 32 / shift

	out := append([]byte{byte(256 - len(sub))}, sub...)
	for i := 0; i < len(pix); i += perWord {
		var w uint32
		for j := 0; j < perWord && i+j < len(pix); j++ {
			w |= uint32(pos[pix[i+j]]) << (j * shift)
		}
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

type node struct {
	sym       byte
	zero, one *node
	isLeaf    bool
}

// Huffman encodes 4096 stored-order pixels as a Huffman tile with a balanced
// code tree. farBranches forces 3-byte branch entries everywhere. Table
// literals cannot reach 128, so Huffman panics on a pixel value of 128 or more.
func Huffman(pix []byte, farBranches bool) []byte {
	sub, _ := subPalette(pix)
	for _, v := range sub {
		if v >= 128 {
			panic(fmt.Sprintf("qcttest: huffman tile cannot hold palette index %d", v))
		}
	}
	root := buildTree(sub)
	table := serialize(root, farBranches)

	codes := map[byte][]byte{}
	var walk func(n *node, path []byte)
	walk = func(n *node, path []byte) {
		if n.isLeaf {
			codes[n.sym] = slices.Clone(path)
			return
		}
		walk(n.zero, append(path, 0))
		walk(n.one, append(path, 1))
	}
	walk(root, nil)

	out := append([]byte{0}, table...)
	if root.isLeaf {
		return out
	}
	var cur byte
	nbits := 0
	for _, p := range pix {
		for _, b := range codes[p] {
			cur |= b << nbits
			nbits++
			if nbits == 8 {
				out = append(out, cur)
				cur, nbits = 0, 0
			}
		}
	}
	if nbits > 0 {
		out = append(out, cur)
	}
	return out
}

func buildTree(syms []byte) *node {
	if len(syms) == 1 {
		return &node{sym: syms[0], isLeaf: true}
	}
	mid := len(syms) / 2
	return &node{zero: buildTree(syms[:mid]), one: buildTree(syms[mid:])}
}

// serialize writes the tree in pre-order: a branch is followed by its zero
// subtree, and its jump lands on the one subtree.
func serialize(n *node, far bool) []byte {
	if n.isLeaf {
		return []byte{n.sym}
	}
	z := serialize(n.zero, far)
	o := serialize(n.one, far)
	d := 1 + len(z)
	if !far && d <= 128 {
		out := append([]byte{byte(257 - d)}, z...)
		return append(out, o...)
	}
	d = 3 + len(z)
	v := 65539 - d
	out := append([]byte{128, byte(v), byte(v >> 8)}, z...)
	return append(out, o...)
}
