package qct

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
)

// Source is random-access storage holding a chart file.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// OpenSource opens the chart file named by loc: a local path, an http(s) URL read
// with byte-range requests, or a gocloud bucket URL (s3://bucket/key.qct,
// file:///dir/key.qct).
func OpenSource(ctx context.Context, loc string) (Source, error) {
	switch {
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		return NewHTTPSource(ctx, loc, nil)
	case strings.Contains(loc, "://"):
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid source url %q: %w", loc, err)
		}
		dir, key := path.Split(u.Path)
		u.Path = dir
		bucket, err := blob.OpenBucket(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket for %q: %w", loc, err)
		}
		src, err := NewBlobSource(ctx, bucket, key)
		if err != nil {
			bucket.Close()
			return nil, err
		}
		src.ownBucket = true
		return src, nil
	default:
		f, err := os.Open(loc)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return &fileSource{File: f, size: fi.Size()}, nil
	}
}

// OpenChart opens the chart at loc with OpenSource and parses it. Closing the
// chart closes the source.
func OpenChart(ctx context.Context, loc string, opts ...Option) (*Chart, error) {
	src, err := OpenSource(ctx, loc)
	if err != nil {
		return nil, err
	}
	c, err := NewChart(src, src.Size(), opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	c.closer = src
	return c, nil
}

type fileSource struct {
	*os.File
	size int64
}

func (f *fileSource) Size() int64 { return f.size }

// HTTPSource reads a remote chart with HTTP Range requests. It is safe for concurrent use.
type HTTPSource struct {
	ctx    context.Context
	url    string
	client *http.Client
	size   int64
}

// NewHTTPSource checks with a HEAD request that the server supports byte ranges
// and records the file size.
func NewHTTPSource(ctx context.Context, rawURL string, client *http.Client) (*HTTPSource, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create head request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http head request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status for http head request: %s", resp.Status)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, fmt.Errorf("server does not accept byte range requests for %s", rawURL)
	}
	if resp.ContentLength <= 0 {
		return nil, fmt.Errorf("could not determine content length of %s", rawURL)
	}

	return &HTTPSource{ctx: ctx, url: rawURL, client: client, size: resp.ContentLength}, nil
}

func (h *HTTPSource) Size() int64  { return h.size }
func (h *HTTPSource) Close() error { return nil }

// ReadAt fetches len(p) bytes at off, truncated at the end of the file.
func (h *HTTPSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := clipRead(p, off, h.size)
	if n <= 0 {
		return 0, err
	}

	req, rerr := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if rerr != nil {
		return 0, rerr
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(n)-1))

	resp, rerr := h.client.Do(req)
	if rerr != nil {
		return 0, rerr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("expected status 206 Partial Content, got: %s", resp.Status)
	}
	got, rerr := io.ReadFull(resp.Body, p[:n])
	if rerr != nil {
		return got, rerr
	}
	return got, err
}

// BlobSource reads a chart stored in a gocloud.dev bucket (S3, local directory, ...).
type BlobSource struct {
	ctx       context.Context
	bucket    *blob.Bucket
	key       string
	size      int64
	ownBucket bool
}

// NewBlobSource looks up key in bucket. The bucket stays owned by the caller.
func NewBlobSource(ctx context.Context, bucket *blob.Bucket, key string) (*BlobSource, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}
	return &BlobSource{ctx: ctx, bucket: bucket, key: key, size: attrs.Size}, nil
}

func (b *BlobSource) Size() int64 { return b.size }

// Close closes the bucket when it was opened by OpenSource.
func (b *BlobSource) Close() error {
	if b.ownBucket {
		return b.bucket.Close()
	}
	return nil
}

// ReadAt reads len(p) bytes at off with a ranged blob read.
func (b *BlobSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := clipRead(p, off, b.size)
	if n <= 0 {
		return 0, err
	}
	r, rerr := b.bucket.NewRangeReader(b.ctx, b.key, off, int64(n), nil)
	if rerr != nil {
		return 0, fmt.Errorf("failed to create range reader: %w", rerr)
	}
	defer r.Close()

	got, rerr := io.ReadFull(r, p[:n])
	if rerr != nil {
		return got, rerr
	}
	return got, err
}

// clipRead returns how many bytes of p can be read at off from a file of the given
// size, with io.EOF when the read is short.
func clipRead(p []byte, off, size int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("invalid offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= size {
		return 0, io.EOF
	}
	if rem := size - off; int64(len(p)) > rem {
		return int(rem), io.EOF
	}
	return len(p), nil
}
