package renderer

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	xdraw "golang.org/x/image/draw"
)

const PlaceholderText = "MISSING FRAME"

var (
	black            = image.NewUniform(color.Black)
	placeholderFill  = image.NewUniform(color.RGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff})
	placeholderInk   = image.NewUniform(color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff})
	captionBandColor = image.NewUniform(color.RGBA{A: CaptionAlpha})
	captionInk       = image.NewUniform(color.White)
)

// Compositor draws one animatic frame onto a surface. It is not safe for
// concurrent use; each render session owns one.
type Compositor struct {
	faces faceCache
}

func NewCompositor() *Compositor {
	return &Compositor{}
}

// Draw composes a full frame: black background, the letterboxed image or a
// placeholder, then the caption band when show is set. Every pixel of dst is
// rewritten, so drawing the same inputs twice yields identical surfaces.
func (c *Compositor) Draw(dst *image.RGBA, img image.Image, caption string, show bool) {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, black, image.Point{}, draw.Src)

	if img != nil && !img.Bounds().Empty() {
		ib := img.Bounds()
		rect := Letterbox(ib.Dx(), ib.Dy(), bounds.Dx(), bounds.Dy()).Add(bounds.Min)
		xdraw.ApproxBiLinear.Scale(dst, rect, img, ib, xdraw.Over, nil)
	} else {
		c.drawPlaceholder(dst)
	}

	if show {
		c.drawCaption(dst, CaptionLines(caption))
	}
}

// Blank fills dst with black.
func (c *Compositor) Blank(dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), black, image.Point{}, draw.Src)
}

func (c *Compositor) drawPlaceholder(dst *image.RGBA) {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, placeholderFill, image.Point{}, draw.Src)

	size := float64(bounds.Dy()) / 15
	if size < 1 {
		return
	}
	face := c.faces.face(true, size)
	width := font.MeasureString(face, PlaceholderText).Ceil()
	m := face.Metrics()

	x := bounds.Min.X + (bounds.Dx()-width)/2
	y := bounds.Min.Y + (bounds.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2

	d := &font.Drawer{Dst: dst, Src: placeholderInk, Face: face, Dot: fixed.P(x, y)}
	d.DrawString(PlaceholderText)
}

func (c *Compositor) drawCaption(dst *image.RGBA, lines []string) {
	if len(lines) == 0 {
		return
	}
	bounds := dst.Bounds()
	bandHeight := CaptionBandHeight(len(lines))
	band := image.Rect(bounds.Min.X, bounds.Max.Y-bandHeight, bounds.Max.X, bounds.Max.Y).Intersect(bounds)
	draw.Draw(dst, band, captionBandColor, image.Point{}, draw.Over)

	// Vertically centre the text block in the band.
	top := band.Min.Y + (bandHeight-CaptionLinePitch*len(lines))/2
	for i, line := range lines {
		face := c.faces.face(i == 0, CaptionFontSize)
		d := &font.Drawer{
			Dst:  dst,
			Src:  captionInk,
			Face: face,
			Dot:  fixed.P(bounds.Min.X+CaptionPadding, top+CaptionFontSize+i*CaptionLinePitch),
		}
		d.DrawString(line)
	}
}

// Close releases cached font faces.
func (c *Compositor) Close() error {
	return c.faces.close()
}
