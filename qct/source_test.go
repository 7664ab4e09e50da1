package qct

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/fileblob"
)

func writeMosaic(t *testing.T) (dir string, data []byte) {
	t.Helper()
	dir = t.TempDir()
	data = mosaic(2, 2).Bytes()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chart.qct"), data, 0o644))
	return dir, data
}

func TestOpenChartSources(t *testing.T) {
	dir, data := writeMosaic(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "chart.qct", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	testCases := []struct {
		name string
		loc  string
	}{
		{"local path", filepath.Join(dir, "chart.qct")},
		{"http range", srv.URL + "/chart.qct"},
		{"file bucket", "file://" + filepath.ToSlash(dir) + "/chart.qct"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			c, err := OpenChart(ctx, tc.loc, WithWorkers(2))
			require.NoError(t, err)
			defer c.Close()

			ras, err := c.ReadRaster(ctx, c.Grid())
			require.NoError(t, err)
			checkRaster(t, ras, 2, nil)
		})
	}
}

func TestOpenSourceErrors(t *testing.T) {
	ctx := context.Background()
	_, err := OpenSource(ctx, filepath.Join(t.TempDir(), "missing.qct"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	noRanges := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
	}))
	defer noRanges.Close()
	_, err = OpenSource(ctx, noRanges.URL)
	assert.ErrorContains(t, err, "byte range")

	_, err = OpenSource(ctx, "file://"+filepath.ToSlash(t.TempDir())+"/missing.qct")
	assert.Error(t, err)

	dir, _ := writeMosaic(t)
	notQCT := filepath.Join(dir, "junk.qct")
	require.NoError(t, os.WriteFile(notQCT, []byte("definitely not a chart"), 0o644))
	_, err = OpenChart(ctx, notQCT)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestBlobSourceReadAt(t *testing.T) {
	dir, data := writeMosaic(t)
	bucket, err := fileblob.OpenBucket(dir, nil)
	require.NoError(t, err)
	defer bucket.Close()

	src, err := NewBlobSource(context.Background(), bucket, "chart.qct")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())

	p := make([]byte, 16)
	n, err := src.ReadAt(p, 4)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, data[4:20], p)

	n, err = src.ReadAt(p, int64(len(data))-5)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, n)
	assert.Equal(t, data[len(data)-5:], p[:5])

	// The bucket belongs to the caller.
	require.NoError(t, src.Close())
	_, err = bucket.Attributes(context.Background(), "chart.qct")
	assert.NoError(t, err)
}

func TestClipRead(t *testing.T) {
	testCases := []struct {
		name    string
		p       int
		off     int64
		want    int
		wantEOF bool
	}{
		{"inside", 4, 0, 4, false},
		{"up to end", 4, 6, 4, false},
		{"short", 4, 8, 2, true},
		{"at end", 4, 10, 0, true},
		{"empty", 0, 3, 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := clipRead(make([]byte, tc.p), tc.off, 10)
			assert.Equal(t, tc.want, n)
			if tc.wantEOF {
				assert.ErrorIs(t, err, io.EOF)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	_, err := clipRead(make([]byte, 1), -1, 10)
	assert.Error(t, err)
}
