package source

import (
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Document is a paged still-image source that can seed a storyboard: a PDF
// deck or a directory of images.
type Document interface {
	PageCount() int
	// PageRef returns a reference the preloader can resolve for page index.
	PageRef(index int) string
	Close() error
}

// OpenDocument opens path as a PDF or an image directory.
func OpenDocument(path string) (Document, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return NewImageSource(path)
	}
	if strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return NewFitzPDFSource(path)
	}
	return nil, fmt.Errorf("%s: not a pdf or image directory", path)
}

type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) PageRef(index int) string {
	return PageRef(f.path, index+1)
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}
