package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// countingFetcher serves fixed bytes and records concurrency.
type countingFetcher struct {
	data     []byte
	fail     map[string]bool
	calls    sync.Map
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *countingFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	v, _ := f.calls.LoadOrStore(ref, new(atomic.Int32))
	v.(*atomic.Int32).Add(1)

	time.Sleep(time.Millisecond)
	if f.fail[ref] {
		return nil, errors.New("unreachable")
	}
	return f.data, nil
}

func TestPreloadCompleteness(t *testing.T) {
	data := pngBytes(t, 4, 3)
	for _, workers := range []int{1, 2, 4, 16} {
		for _, n := range []int{1, 3, 10} {
			t.Run(fmt.Sprintf("C%d_N%d", workers, n), func(t *testing.T) {
				f := &countingFetcher{data: data, fail: map[string]bool{"img-1": true}}
				items := make([]Item, n)
				for i := range items {
					items[i] = Item{ID: fmt.Sprintf("a%d", i), Ref: fmt.Sprintf("img-%d", i)}
				}
				p := &Preloader{Fetcher: f, Concurrency: workers}

				got := p.Preload(context.Background(), items)

				if len(got) != n {
					t.Fatalf("expected %d entries, got %d", n, len(got))
				}
				for i, it := range items {
					img, ok := got[it.ID]
					if !ok {
						t.Fatalf("missing entry for %s", it.ID)
					}
					if i == 1 && img != nil {
						t.Errorf("failed fetch should map to nil")
					}
					if i != 1 && img == nil {
						t.Errorf("%s: expected decoded image", it.ID)
					}
					v, ok := f.calls.Load(it.Ref)
					if !ok || v.(*atomic.Int32).Load() != 1 {
						t.Errorf("%s fetched more or less than once", it.Ref)
					}
				}
				if limit := int32(min(workers, n)); f.peak.Load() > limit {
					t.Errorf("peak concurrency %d exceeds %d", f.peak.Load(), limit)
				}
			})
		}
	}
}

func TestPreloadSkipsAbsentImage(t *testing.T) {
	f := &countingFetcher{data: pngBytes(t, 2, 2)}
	p := &Preloader{Fetcher: f, Concurrency: 2}
	got := p.Preload(context.Background(), []Item{{ID: "x"}})
	if img, ok := got["x"]; !ok || img != nil {
		t.Fatalf("expected nil entry, got %v (present=%v)", img, ok)
	}
	if f.peak.Load() != 0 {
		t.Error("asset without image must not be fetched")
	}
}

func TestPreloadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Preloader{Fetcher: &countingFetcher{data: pngBytes(t, 2, 2)}, Concurrency: 4}
	got := p.Preload(ctx, []Item{{ID: "a", Ref: "a"}, {ID: "b", Ref: "b"}})
	if len(got) != 2 || got["a"] != nil || got["b"] != nil {
		t.Fatalf("expected nil entries after cancel, got %v", got)
	}
}

func TestHTTPFetcher(t *testing.T) {
	data := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	got, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("fetched bytes differ")
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("expected error for 404")
	}

	p := &Preloader{Fetcher: f, Concurrency: 2}
	imgs := p.Preload(context.Background(), []Item{
		{ID: "ok", Ref: srv.URL + "/ok.png"},
		{ID: "missing", Ref: srv.URL + "/missing.png"},
	})
	if imgs["ok"] == nil || imgs["missing"] != nil {
		t.Errorf("unexpected preload result %v", imgs)
	}
}

func TestFetchFileAndLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "still.png")
	if err := os.WriteFile(path, pngBytes(t, 3, 3), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &HTTPFetcher{}
	for _, ref := range []string{path, "file://" + path} {
		if _, err := f.Fetch(context.Background(), ref); err != nil {
			t.Errorf("Fetch(%s): %v", ref, err)
		}
	}

	f.MaxBytes = 8
	if _, err := f.Fetch(context.Background(), path); err == nil {
		t.Error("expected size limit error")
	}
}

func TestSplitRef(t *testing.T) {
	tests := []struct {
		ref  string
		loc  string
		page int
	}{
		{"deck.pdf#page=3", "deck.pdf", 3},
		{"deck.pdf", "deck.pdf", 0},
		{"deck.pdf#page=0", "deck.pdf#page=0", 0},
		{"https://x/y.png", "https://x/y.png", 0},
	}
	for _, tt := range tests {
		loc, page := SplitRef(tt.ref)
		if loc != tt.loc || page != tt.page {
			t.Errorf("SplitRef(%q) = %q, %d", tt.ref, loc, page)
		}
	}
	if got := PageRef("deck.pdf", 2); got != "deck.pdf#page=2" {
		t.Errorf("PageRef = %q", got)
	}
}

func TestImageSourceOrdering(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"02.png", "01.jpg", "notes.txt", "03.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := OpenDocument(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	if doc.PageCount() != 3 {
		t.Fatalf("PageCount = %d", doc.PageCount())
	}
	if filepath.Base(doc.PageRef(0)) != "01.jpg" || filepath.Base(doc.PageRef(2)) != "03.webp" {
		t.Errorf("unexpected order: %s, %s", doc.PageRef(0), doc.PageRef(2))
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("x.png", []byte("not an image"), 72); err == nil {
		t.Error("expected decode error")
	}
	if !IsPDF("deck.PDF", nil) || !IsPDF("blob", []byte("%PDF-1.7")) {
		t.Error("IsPDF misses pdf inputs")
	}
}
