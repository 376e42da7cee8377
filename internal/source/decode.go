package source

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether data or its location look like a PDF document.
func IsPDF(loc string, data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic) || strings.HasSuffix(strings.ToLower(loc), ".pdf")
}

// DecodeImage decodes PNG, JPEG, GIF, WebP, BMP or TIFF bytes.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// RenderPDFPage rasterises the 1-based page of an in-memory PDF at dpi.
func RenderPDFPage(data []byte, page, dpi int) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if page < 1 {
		page = 1
	}
	if page > doc.NumPage() {
		return nil, fmt.Errorf("pdf page %d out of range (1-%d)", page, doc.NumPage())
	}
	img, err := doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render pdf page %d: %w", page, err)
	}
	return img, nil
}

// Decode turns fetched bytes into an image, rasterising PDFs.
func Decode(ref string, data []byte, dpi int) (image.Image, error) {
	loc, page := SplitRef(ref)
	if IsPDF(loc, data) {
		return RenderPDFPage(data, page, dpi)
	}
	img, _, err := DecodeImage(data)
	return img, err
}
