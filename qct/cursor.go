package qct

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// maxStringLength bounds NUL-terminated header strings so a missing terminator
// cannot make the parser scan the whole file.
const maxStringLength = 64 << 10

// cursor reads little-endian values sequentially from an io.ReaderAt.
// The first failure is sticky: later reads become no-ops returning zero values,
// so parsing code can read a run of fields and check err once.
type cursor struct {
	src  io.ReaderAt
	size int64
	off  int64
	err  error
	dec  *encoding.Decoder
}

func newCursor(src io.ReaderAt, size int64) *cursor {
	return &cursor{src: src, size: size, dec: charmap.Windows1252.NewDecoder()}
}

func (c *cursor) fail(reason string, err error) {
	if c.err == nil {
		c.err = &FormatError{Offset: c.off, Reason: reason, Err: err}
	}
}

// read fills p from the current offset and advances past it.
func (c *cursor) read(p []byte) bool {
	if c.err != nil {
		return false
	}
	if c.off+int64(len(p)) > c.size {
		c.fail("truncated file", io.ErrUnexpectedEOF)
		return false
	}
	if _, err := c.src.ReadAt(p, c.off); err != nil && !(errors.Is(err, io.EOF) && c.off+int64(len(p)) == c.size) {
		c.fail("read failed", err)
		return false
	}
	c.off += int64(len(p))
	return true
}

func (c *cursor) u32() uint32 {
	var b [4]byte
	if !c.read(b[:]) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (c *cursor) i32() int32 { return int32(c.u32()) }

// f64 decodes an IEEE-754 double stored little-endian, independent of host byte order.
func (c *cursor) f64() float64 {
	var b [8]byte
	if !c.read(b[:]) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:]))
}

// skip advances the cursor by n bytes, failing if that leaves the file.
func (c *cursor) skip(n int64) {
	if c.err != nil {
		return
	}
	if c.off+n > c.size {
		c.fail("truncated file", io.ErrUnexpectedEOF)
		return
	}
	c.off += n
}

// pointer reads a 32-bit file offset. Zero means "absent"; anything else must
// point inside the file.
func (c *cursor) pointer() int64 {
	at := c.off
	p := int64(c.u32())
	if c.err == nil && p >= c.size {
		c.err = &FormatError{Offset: at, Reason: fmt.Sprintf("pointer 0x%x past end of file", p)}
		return 0
	}
	return p
}

// at runs fn with the cursor positioned at off and restores the saved position afterwards.
func (c *cursor) at(off int64, fn func()) {
	if c.err != nil {
		return
	}
	saved := c.off
	c.off = off
	fn()
	c.off = saved
}

// str follows a string pointer. A zero pointer yields the empty string.
func (c *cursor) str() string {
	p := c.pointer()
	if p == 0 {
		return ""
	}
	var s string
	c.at(p, func() { s = c.cstring() })
	return s
}

// cstring reads a NUL-terminated Windows-1252 string at the current offset.
func (c *cursor) cstring() string {
	var (
		raw   []byte
		chunk [256]byte
		off   = c.off
	)
	for len(raw) < maxStringLength {
		n, err := c.src.ReadAt(chunk[:], off)
		if n == 0 && err == nil {
			err = io.ErrNoProgress
		}
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			raw = append(raw, chunk[:i]...)
			c.off = off + int64(i) + 1
			return c.decode(raw)
		}
		raw = append(raw, chunk[:n]...)
		off += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.fail("unterminated string", io.ErrUnexpectedEOF)
			} else {
				c.fail("read failed", err)
			}
			return ""
		}
	}
	c.fail("string too long", nil)
	return ""
}

func (c *cursor) decode(raw []byte) string {
	s, err := c.dec.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}
