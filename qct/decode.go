package qct

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
)

// Scheme is the compression scheme of a tile.
type Scheme uint8

const (
	Huffman Scheme = iota
	PixelPacked
	RunLength
)

func (s Scheme) String() string {
	switch s {
	case Huffman:
		return "huffman"
	case PixelPacked:
		return "pixel"
	case RunLength:
		return "rle"
	}
	return fmt.Sprintf("scheme(%d)", uint8(s))
}

// Packing is the decoded meaning of a tile's leading byte.
type Packing struct {
	Scheme Scheme
	// Colours is the sub-palette size for PixelPacked and RunLength tiles.
	Colours int
}

// PackingOf classifies the leading byte of a tile payload.
func PackingOf(b byte) Packing {
	switch {
	case b == 0 || b == 255:
		return Packing{Scheme: Huffman}
	case b > 127:
		return Packing{Scheme: PixelPacked, Colours: 256 - int(b)}
	default:
		return Packing{Scheme: RunLength, Colours: int(b)}
	}
}

// BitsPerPixel returns ceil(log2(n)), the number of bits needed to index n colours.
func BitsPerPixel(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// Huffman table entries.
const (
	farBranch   = 128 // followed by two bytes holding a 16-bit jump
	literalMask = 128 // entries below this are palette indices
)

// DecodeTile reads one compressed tile (leading packing byte included) and returns
// its 4096 palette indices in stored row order, i.e. before row deinterleaving.
//
// A damaged payload yields a *TileDecodeError and no pixels. Errors other than a
// premature end of data are returned unchanged.
func DecodeTile(r io.ByteReader) ([]byte, Packing, error) {
	p, err := r.ReadByte()
	if err != nil {
		return nil, Packing{}, eofAsTileError(err)
	}
	packing := PackingOf(p)
	dst := make([]byte, TilePixels)
	switch packing.Scheme {
	case Huffman:
		err = decodeHuffman(r, dst)
	case PixelPacked:
		err = decodePixelPacked(r, dst, packing.Colours)
	default:
		err = decodeRunLength(r, dst, packing.Colours)
	}
	if err != nil {
		return nil, packing, eofAsTileError(err)
	}
	return dst, packing, nil
}

func eofAsTileError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return tileError("unexpected end of tile data")
	}
	return err
}

func readSubPalette(r io.ByteReader, n int) ([]byte, error) {
	sub := make([]byte, n)
	for i := range sub {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		sub[i] = b
	}
	return sub, nil
}

// buildHuffmanTable reads table entries until there are more literals than branches.
func buildHuffmanTable(r io.ByteReader) (table []byte, literals int, err error) {
	table = make([]byte, 0, 256)
	branches := 0
	for literals <= branches {
		b, err := r.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		table = append(table, b)
		switch {
		case b == farBranch:
			lo, err := r.ReadByte()
			if err != nil {
				return nil, 0, err
			}
			hi, err := r.ReadByte()
			if err != nil {
				return nil, 0, err
			}
			table = append(table, lo, hi)
			branches++
		case b > farBranch:
			branches++
		default:
			literals++
		}
	}
	return table, literals, nil
}

// huffmanJump returns the forward distance of the branch entry at i.
func huffmanJump(table []byte, i int) int {
	if table[i] == farBranch {
		return 65537 - (256*int(table[i+2]) + int(table[i+1])) + 2
	}
	return 257 - int(table[i])
}

// validateHuffmanTable checks that every branch lands inside the table.
func validateHuffmanTable(table []byte) error {
	for i := 0; i < len(table); i++ {
		if table[i] < literalMask {
			continue
		}
		if table[i] == farBranch && i+2 >= len(table) {
			return tileError("huffman far branch at %d truncated", i)
		}
		if d := huffmanJump(table, i); i+d >= len(table) {
			return tileError("huffman branch at %d jumps %d past table of %d entries", i, d, len(table))
		}
		if table[i] == farBranch {
			i += 2
		}
	}
	return nil
}

func decodeHuffman(r io.ByteReader, dst []byte) error {
	table, literals, err := buildHuffmanTable(r)
	if err != nil {
		return err
	}
	// A single colour means a solid tile and no bit stream follows.
	if literals == 1 {
		for i := range dst {
			dst[i] = table[0]
		}
		return nil
	}
	if err := validateHuffmanTable(table); err != nil {
		return err
	}

	var (
		cur      byte
		bitsLeft int
		pos      int
	)
	for n := 0; n < len(dst); {
		if pos >= len(table) {
			return tileError("huffman walk left table at %d", pos)
		}
		e := table[pos]
		if e < literalMask {
			dst[n] = e
			n++
			pos = 0
			continue
		}
		if bitsLeft == 0 {
			if cur, err = r.ReadByte(); err != nil {
				return err
			}
			bitsLeft = 8
		}
		bit := cur & 1
		cur >>= 1
		bitsLeft--
		if bit == 0 {
			if e == farBranch {
				pos += 2
			}
			pos++
		} else {
			pos += huffmanJump(table, pos)
		}
	}
	return nil
}

func decodePixelPacked(r io.ByteReader, dst []byte, colours int) error {
	sub, err := readSubPalette(r, colours)
	if err != nil {
		return err
	}
	shift := BitsPerPixel(colours)
	if shift == 0 {
		return tileError("pixel packing with %d colours", colours)
	}
	mask := uint32(1)<<shift - 1
	perWord := 32 / shift

	for n := 0; n < len(dst); {
		var word uint32
		for i := 0; i < 4; i++ {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			word |= uint32(b) << (8 * i)
		}
		for i := 0; i < perWord && n < len(dst); i++ {
			c := int(word & mask)
			if c >= colours {
				return tileError("pixel index %d outside sub-palette of %d", c, colours)
			}
			dst[n] = sub[c]
			n++
			word >>= shift
		}
	}
	return nil
}

func decodeRunLength(r io.ByteReader, dst []byte, colours int) error {
	sub, err := readSubPalette(r, colours)
	if err != nil {
		return err
	}
	lowBits := BitsPerPixel(colours)
	mask := byte(1)<<lowBits - 1

	for n := 0; n < len(dst); {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		c := int(b & mask)
		if c >= colours {
			return tileError("run colour %d outside sub-palette of %d", c, colours)
		}
		run := int(b >> lowBits)
		if run > len(dst)-n {
			run = len(dst) - n
		}
		for end := n + run; n < end; n++ {
			dst[n] = sub[c]
		}
	}
	return nil
}
