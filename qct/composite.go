package qct

// rowSeq maps the n-th stored row of a tile to its display row. Rows are stored in
// bit-reversed order.
var rowSeq = [TileSize]int{
	0, 32, 16, 48, 8, 40, 24, 56, 4, 36, 20, 52, 12, 44, 28, 60,
	2, 34, 18, 50, 10, 42, 26, 58, 6, 38, 22, 54, 14, 46, 30, 62,
	1, 33, 17, 49, 9, 41, 25, 57, 5, 37, 21, 53, 13, 45, 29, 61,
	3, 35, 19, 51, 11, 43, 27, 59, 7, 39, 23, 55, 15, 47, 31, 63,
}

// RowOrder returns the stored-row to display-row permutation.
func RowOrder() [TileSize]int { return rowSeq }

// composite copies a decoded tile into dst, an image with the given stride, with
// the tile's top-left pixel at (x0, y0). Stored row r lands on display row
// y0+rowSeq[r]. Distinct tiles write disjoint byte ranges.
func composite(dst []byte, stride, x0, y0 int, tile []byte) {
	for r := 0; r < TileSize; r++ {
		off := (y0+rowSeq[r])*stride + x0
		copy(dst[off:off+TileSize], tile[r*TileSize:(r+1)*TileSize])
	}
}
