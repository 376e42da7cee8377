package renderer

import (
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

type faceKey struct {
	bold bool
	size float64
}

var (
	parseRegular = sync.OnceValues(func() (*opentype.Font, error) { return opentype.Parse(goregular.TTF) })
	parseBold    = sync.OnceValues(func() (*opentype.Font, error) { return opentype.Parse(gobold.TTF) })
)

// faceCache holds sized faces. Faces are not safe for concurrent drawing, so
// each Compositor owns its cache.
type faceCache struct {
	mu    sync.Mutex
	faces map[faceKey]font.Face
}

func (c *faceCache) face(bold bool, size float64) font.Face {
	key := faceKey{bold: bold, size: size}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.faces[key]; ok {
		return f
	}
	if c.faces == nil {
		c.faces = make(map[faceKey]font.Face)
	}

	parse := parseRegular
	if bold {
		parse = parseBold
	}
	var f font.Face = basicfont.Face7x13
	if ttf, err := parse(); err == nil {
		if face, err := opentype.NewFace(ttf, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		}); err == nil {
			f = face
		}
	}
	c.faces[key] = f
	return f
}

func (c *faceCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, f := range c.faces {
		if f == basicfont.Face7x13 {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.faces, key)
	}
	return firstErr
}
