package qct

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// tileTTL is how long a decoded tile stays in the cache.
const tileTTL = 10 * time.Minute

// cachedTile is a decoded display-order tile. err is the *TileDecodeError of a
// damaged tile, whose pixels are blank.
type cachedTile struct {
	pix []byte
	err error
}

// TileCache serves decoded tiles of a Chart from memory. The Chart itself holds no
// cache; services wrap it in a TileCache for repeated point lookups.
type TileCache struct {
	chart *Chart

	cache *ccache.Cache[cachedTile]

	// inflight makes concurrent misses on the same tile decode it once.
	inflight singleflight.Group

	// inflightPrefetch keeps a single neighbour prefetch running per tile.
	inflightPrefetch singleflight.Group
}

// NewTileCache wraps c with a cache holding at most maxSize tiles.
func NewTileCache(c *Chart, maxSize int64, itemsToPrune uint32) *TileCache {
	return &TileCache{
		chart: c,
		cache: ccache.New(ccache.Configure[cachedTile]().MaxSize(maxSize).ItemsToPrune(itemsToPrune)),
	}
}

// Chart returns the wrapped chart.
func (tc *TileCache) Chart() *Chart { return tc.chart }

// Stop releases the cache's background worker.
func (tc *TileCache) Stop() { tc.cache.Stop() }

// Tile returns tile (tx, ty) in display order, like Chart.ReadTile.
func (tc *TileCache) Tile(tx, ty int) ([]byte, error) {
	t, err := tc.getTile(tx, ty)
	if err != nil {
		return nil, err
	}
	return t.pix, t.err
}

// IndexAt returns the palette index of chart pixel (x, y). A pixel on a damaged
// tile reads as 0 without error. After a hit the eight neighbouring tiles are
// loaded in the background.
func (tc *TileCache) IndexAt(x, y int) (uint8, error) {
	g := tc.chart.Grid()
	if x < 0 || y < 0 || x >= g.Width*TileSize || y >= g.Height*TileSize {
		return 0, fmt.Errorf("pixel (%d, %d) lies outside the chart", x, y)
	}
	tx, ty := x/TileSize, y/TileSize
	t, err := tc.getTile(tx, ty)
	if err != nil {
		return 0, err
	}

	key := fmt.Sprintf("prefetch-%d-%d", tx, ty)
	go tc.inflightPrefetch.Do(key, func() (interface{}, error) {
		tc.prefetchNeighbors(tx, ty)
		time.AfterFunc(time.Minute, func() {
			tc.inflightPrefetch.Forget(key)
		})
		return nil, nil
	})

	return t.pix[(y%TileSize)*TileSize+x%TileSize], nil
}

func tileKey(tx, ty int) string { return fmt.Sprintf("%d/%d", tx, ty) }

func (tc *TileCache) getTile(tx, ty int) (cachedTile, error) {
	key := tileKey(tx, ty)
	item := tc.cache.Get(key)
	if item != nil && !item.Expired() {
		tc.chart.metrics.cacheLookup(true)
		return item.Value(), nil
	}
	tc.chart.metrics.cacheLookup(false)

	v, err, _ := tc.inflight.Do(key, func() (interface{}, error) {
		pix, err := tc.chart.ReadTile(tx, ty)
		var tde *TileDecodeError
		if err != nil && !errors.As(err, &tde) {
			return nil, err
		}
		t := cachedTile{pix: pix, err: err}
		tc.cache.Set(key, t, tileTTL)
		return t, nil
	})
	if err != nil {
		return cachedTile{}, err
	}
	return v.(cachedTile), nil
}

// prefetchNeighbors loads the tiles around (tx, ty) without triggering further prefetches.
func (tc *TileCache) prefetchNeighbors(tx, ty int) {
	g := tc.chart.Grid()
	var wg sync.WaitGroup
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			if i == 0 && j == 0 {
				continue
			}
			nx, ny := tx+i, ty+j
			if nx < 0 || ny < 0 || nx >= g.Width || ny >= g.Height {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				tc.getTile(nx, ny)
			}()
		}
	}
	wg.Wait()
}
