package qct

import (
	"errors"
	"fmt"
)

// ErrBadMagic is wrapped by the FormatError returned when the leading magic number does not match.
var ErrBadMagic = errors.New("not a QCT file")

// FormatError reports a file-level inconsistency. It is fatal for the whole file.
type FormatError struct {
	Offset int64  // file offset where the problem was detected, -1 if unknown
	Reason string // human readable cause
	Err    error  // optional underlying error
}

func (e *FormatError) Error() string {
	msg := "qct: invalid format"
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at offset 0x%x", msg, e.Offset)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// TileDecodeError reports a damaged tile. Callers recover by leaving the tile blank.
type TileDecodeError struct {
	X, Y   int // tile coordinate, -1 when decoding a detached payload
	Reason string
}

func (e *TileDecodeError) Error() string {
	if e.X < 0 || e.Y < 0 {
		return fmt.Sprintf("qct: tile decode: %s", e.Reason)
	}
	return fmt.Sprintf("qct: tile (%d, %d) decode: %s", e.X, e.Y, e.Reason)
}

// RangeError reports a tile window or block that falls outside the chart grid.
type RangeError struct {
	What   string
	Window Window
	Grid   Window
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("qct: %s %s outside chart grid %s", e.What, e.Window, e.Grid)
}

func tileError(reason string, args ...any) *TileDecodeError {
	return &TileDecodeError{X: -1, Y: -1, Reason: fmt.Sprintf(reason, args...)}
}
