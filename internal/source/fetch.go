package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxBytes caps a single fetched asset.
const DefaultMaxBytes = 256 << 20

// Fetcher retrieves the raw bytes behind an image or audio reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// HTTPFetcher reads http(s) URLs, file:// URLs and plain filesystem paths.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewFetcher returns a fetcher whose HTTP requests time out after timeout.
func NewFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: DefaultMaxBytes,
	}
}

// Fetch returns the bytes for ref. HTTP statuses >= 400 are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, _ := SplitRef(ref)
	if loc == "" {
		return nil, fmt.Errorf("empty reference")
	}

	switch {
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		return f.fetchHTTP(ctx, loc)
	case strings.HasPrefix(loc, "file://"):
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", loc, err)
		}
		return f.readFile(u.Path)
	default:
		return f.readFile(loc)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, loc string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: status %d", loc, resp.StatusCode)
	}
	return f.readAll(resp.Body, loc)
}

func (f *HTTPFetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return f.readAll(file, path)
}

func (f *HTTPFetcher) readAll(r io.Reader, name string) ([]byte, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("read %s: larger than %d bytes", name, limit)
	}
	return data, nil
}

// SplitRef separates a "#page=N" fragment from ref. page is 0 when ref does
// not name a page.
func SplitRef(ref string) (loc string, page int) {
	ref = strings.TrimSpace(ref)
	i := strings.LastIndex(ref, "#page=")
	if i < 0 {
		return ref, 0
	}
	n, err := strconv.Atoi(ref[i+len("#page="):])
	if err != nil || n < 1 {
		return ref, 0
	}
	return ref[:i], n
}

// PageRef builds a reference to the 1-based page of a paged document.
func PageRef(path string, page int) string {
	return fmt.Sprintf("%s#page=%d", path, page)
}
