package qct

import (
	"fmt"
	"image/color"
)

// PaletteSize is the number of entries in the global palette.
const PaletteSize = 256

// Palette maps a palette index to a colour packed as 0x00RRGGBB (blue in the low byte).
type Palette [PaletteSize]uint32

func readPalette(cur *cursor) Palette {
	var p Palette
	for i := range p {
		p[i] = cur.u32()
	}
	return p
}

// RGB returns the colour components of entry i.
func (p *Palette) RGB(i uint8) (r, g, b uint8) {
	c := p[i]
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Hex returns entry i formatted as #rrggbb.
func (p *Palette) Hex(i uint8) string {
	r, g, b := p.RGB(i)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// Colors converts the palette for use with image.Paletted.
func (p *Palette) Colors() color.Palette {
	out := make(color.Palette, PaletteSize)
	for i := range p {
		r, g, b := p.RGB(uint8(i))
		out[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return out
}

// Used returns the number of non-zero entries.
func (p *Palette) Used() int {
	n := 0
	for _, c := range p {
		if c != 0 {
			n++
		}
	}
	return n
}
