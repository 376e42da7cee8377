package renderer

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLetterbox(t *testing.T) {
	tests := []struct {
		name           string
		iw, ih, cw, ch int
		want           image.Rectangle
	}{
		{"same aspect", 1920, 1080, 1280, 720, image.Rect(0, 0, 1280, 720)},
		{"pillarbox 4:3", 800, 600, 1280, 720, image.Rect(160, 0, 1120, 720)},
		{"letterbox wide", 2100, 900, 1280, 720, image.Rect(0, 85, 1280, 634)},
		{"portrait", 1080, 1920, 1280, 720, image.Rect(437, 0, 842, 720)},
		{"square into square", 10, 10, 50, 50, image.Rect(0, 0, 50, 50)},
		{"degenerate", 0, 10, 50, 50, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Letterbox(tt.iw, tt.ih, tt.cw, tt.ch)
			if got != tt.want {
				t.Errorf("Letterbox(%d,%d,%d,%d) = %v, want %v", tt.iw, tt.ih, tt.cw, tt.ch, got, tt.want)
			}
		})
	}
}

func TestLetterboxPreservesAspectAndCentres(t *testing.T) {
	for _, size := range [][2]int{{640, 480}, {300, 1000}, {1000, 300}, {17, 13}, {1280, 720}} {
		iw, ih := size[0], size[1]
		cw, ch := 1280, 720
		r := Letterbox(iw, ih, cw, ch)

		if r.Min.X < 0 || r.Min.Y < 0 || r.Max.X > cw || r.Max.Y > ch {
			t.Errorf("%dx%d: rect %v exceeds canvas", iw, ih, r)
		}
		if r.Dx() != cw && r.Dy() != ch {
			t.Errorf("%dx%d: rect %v does not touch either canvas edge", iw, ih, r)
		}
		// Aspect within one pixel of rounding.
		if diff := r.Dx()*ih - r.Dy()*iw; abs(diff) > max(iw, ih) {
			t.Errorf("%dx%d: aspect drift %d for %v", iw, ih, diff, r)
		}
		left, right := r.Min.X, cw-r.Max.X
		top, bottom := r.Min.Y, ch-r.Max.Y
		if abs(left-right) > 1 || abs(top-bottom) > 1 {
			t.Errorf("%dx%d: %v not centred", iw, ih, r)
		}
	}
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestCompositorIdempotent(t *testing.T) {
	c := NewCompositor()
	defer c.Close()

	src := solid(40, 30, color.RGBA{R: 10, G: 200, B: 90, A: 255})
	a := image.NewRGBA(image.Rect(0, 0, 160, 90))
	b := image.NewRGBA(image.Rect(0, 0, 160, 90))

	// b starts dirty; Draw must overwrite every pixel.
	for i := range b.Pix {
		b.Pix[i] = 0x7f
	}
	c.Draw(a, src, "Scene 1\nThe hero enters", true)
	c.Draw(b, src, "Scene 1\nThe hero enters", true)
	c.Draw(b, src, "Scene 1\nThe hero enters", true)

	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("drawing the same frame twice produced different surfaces")
	}
}

func TestCompositorLetterboxBars(t *testing.T) {
	c := NewCompositor()
	defer c.Close()

	dst := image.NewRGBA(image.Rect(0, 0, 160, 90))
	c.Draw(dst, solid(30, 30, color.White), "", false)

	if got := dst.RGBAAt(2, 45); got != (color.RGBA{A: 255}) {
		t.Errorf("pillar bar pixel = %v, want black", got)
	}
	if got := dst.RGBAAt(80, 45); got.R < 250 {
		t.Errorf("image centre pixel = %v, want white", got)
	}
}

func TestCompositorPlaceholder(t *testing.T) {
	c := NewCompositor()
	defer c.Close()

	dst := image.NewRGBA(image.Rect(0, 0, 320, 180))
	c.Draw(dst, nil, "", false)

	if got := dst.RGBAAt(0, 0); got != (color.RGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff}) {
		t.Errorf("placeholder corner = %v", got)
	}
	lighter := 0
	for y := 0; y < 180; y++ {
		for x := 0; x < 320; x++ {
			if dst.RGBAAt(x, y).R > 0x1a {
				lighter++
			}
		}
	}
	if lighter == 0 {
		t.Error("placeholder text was not drawn")
	}
}

func TestCompositorCaptionBand(t *testing.T) {
	c := NewCompositor()
	defer c.Close()

	dst := image.NewRGBA(image.Rect(0, 0, 320, 180))
	c.Draw(dst, solid(320, 180, color.White), "Line one\n\nLine two", true)

	// Two non-blank lines: band is max(36, 12+36) = 48 px.
	if got := dst.RGBAAt(318, 179); got.R < 100 || got.R > 104 {
		t.Errorf("band pixel = %v, want ~40%% white", got)
	}
	if got := dst.RGBAAt(318, 180-48); got.R < 100 || got.R > 104 {
		t.Errorf("band top pixel = %v, want darkened", got)
	}
	if got := dst.RGBAAt(318, 180-49); got.R != 255 {
		t.Errorf("pixel above band = %v, want untouched", got)
	}

	hidden := image.NewRGBA(image.Rect(0, 0, 320, 180))
	c.Draw(hidden, solid(320, 180, color.White), "Line one", false)
	if got := hidden.RGBAAt(318, 179); got.R != 255 {
		t.Errorf("caption drawn while hidden: %v", got)
	}
}

func TestCompositorLongCaptionDoesNotPanic(t *testing.T) {
	c := NewCompositor()
	defer c.Close()

	dst := image.NewRGBA(image.Rect(0, 0, 64, 40))
	lines := strings.Repeat(strings.Repeat("W", 500)+"\n", 20)
	c.Draw(dst, solid(8, 8, color.White), lines, true)
}

func TestCaptionLines(t *testing.T) {
	got := CaptionLines("first\n\n  \nsecond\r\n")
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("CaptionLines = %q", got)
	}
	if CaptionLines("") != nil {
		t.Error("empty caption should have no lines")
	}
}

func TestTruncateLine(t *testing.T) {
	long := strings.Repeat("ж", 150)
	if got := TruncateLine(long, MaxCaptionRunes); utf8.RuneCountInString(got) != MaxCaptionRunes {
		t.Errorf("truncated to %d runes", utf8.RuneCountInString(got))
	}
	if got := TruncateLine("e\u0301", 10); got != "\u00e9" {
		t.Errorf("expected NFC composition, got %q", got)
	}
	if got := TruncateLine("short", 100); got != "short" {
		t.Errorf("TruncateLine = %q", got)
	}
}

func TestCaptionBandHeight(t *testing.T) {
	for n, want := range map[int]int{1: 36, 2: 48, 3: 66} {
		if got := CaptionBandHeight(n); got != want {
			t.Errorf("CaptionBandHeight(%d) = %d, want %d", n, got, want)
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
