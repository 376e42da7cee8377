package source

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImageExtensions are the still formats DecodeImage understands.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}

// ImageSource is a directory of stills, ordered by file name.
type ImageSource struct {
	paths []string
}

func NewImageSource(path string) (*ImageSource, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isImage(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(path, entry.Name()))
	}
	sort.Strings(paths)

	return &ImageSource{paths: paths}, nil
}

func (s *ImageSource) PageCount() int {
	return len(s.paths)
}

func (s *ImageSource) PageRef(index int) string {
	return s.paths[index]
}

func (s *ImageSource) Close() error {
	return nil
}

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
